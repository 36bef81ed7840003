package blob

import (
	"context"

	"github.com/google/uuid"
)

// Store persists generated image assets and hands back stable references
// that go into the story record and are served back to clients.
type Store interface {
	// Save writes the asset and returns its reference. Saving the same
	// asset name for a story twice overwrites in place, so redelivered
	// tasks converge on a single object.
	Save(ctx context.Context, ownerID, storyID uuid.UUID, assetName string, data []byte) (string, error)

	// Load reads an asset back by the reference Save returned.
	Load(ctx context.Context, ref string) ([]byte, error)
}
