package interfaces

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"storybook-server/shared/models"
)

// ErrNoChanges can be returned by a story-transaction mutate function to abort
// the write as redundant (e.g. a duplicate page delivery). The store then returns
// the current record without committing anything.
var ErrNoChanges = errors.New("no changes to persist")

// StoryStore is the transactional document store holding StoryRecords. The single
// shared mutable resource of the pipeline: all worker coordination goes through
// RunStoryTransaction's optimistic read-modify-write.
type StoryStore interface {
	// Create persists a new record (phase text_complete, version 1).
	Create(ctx context.Context, story *models.StoryRecord) error

	// GetByID returns the current record or models.ErrStoryNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*models.StoryRecord, error)

	// RunStoryTransaction reads the record, applies mutate and commits the result
	// with a compare-and-swap on the record version. On a write conflict the whole
	// read-modify-write cycle is retried, so mutate may run more than once and
	// must be side-effect free. Returns the committed (or, for ErrNoChanges, the
	// current) record.
	RunStoryTransaction(ctx context.Context, id uuid.UUID, mutate func(story *models.StoryRecord) error) (*models.StoryRecord, error)
}

// CharacterProfileRepository resolves referenced character profiles for prompt
// construction.
type CharacterProfileRepository interface {
	GetByIDs(ctx context.Context, ownerID uuid.UUID, ids []uuid.UUID) ([]models.CharacterProfile, error)
}

// DeviceTokenRepository lists push targets for a user.
type DeviceTokenRepository interface {
	GetTokensForUser(ctx context.Context, userID uuid.UUID) ([]models.DeviceToken, error)
}

// StoryCache is a short-lived read cache in front of the polling endpoint.
// Writers live in other processes and do not invalidate entries; the TTL
// bounds staleness.
type StoryCache interface {
	Get(ctx context.Context, id uuid.UUID) (*models.StoryRecord, error)
	Set(ctx context.Context, story *models.StoryRecord) error
}
