package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// filesystemStore keeps assets on a mounted volume shared by the workers
// and whatever serves /images to clients. References are paths relative
// to the root prefixed with baseURL.
type filesystemStore struct {
	rootDir string
	baseURL string
	logger  *zap.Logger
}

func NewFilesystemStore(rootDir, baseURL string, logger *zap.Logger) (Store, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root %s: %w", rootDir, err)
	}
	return &filesystemStore{
		rootDir: rootDir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger.Named("FilesystemBlobStore"),
	}, nil
}

var _ Store = (*filesystemStore)(nil)

func (s *filesystemStore) Save(ctx context.Context, ownerID, storyID uuid.UUID, assetName string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	relDir := filepath.Join(ownerID.String(), storyID.String())
	absDir := filepath.Join(s.rootDir, relDir)
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create asset directory: %w", err)
	}

	absPath := filepath.Join(absDir, assetName)
	tmpPath := absPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write asset: %w", err)
	}
	// Rename keeps readers from ever seeing a half-written image.
	if err := os.Rename(tmpPath, absPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to finalize asset: %w", err)
	}

	ref := s.baseURL + "/" + filepath.ToSlash(filepath.Join(relDir, assetName))
	s.logger.Debug("Saved asset",
		zap.String("story_id", storyID.String()),
		zap.String("asset", assetName),
		zap.Int("bytes", len(data)))
	return ref, nil
}

func (s *filesystemStore) Load(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rel := strings.TrimPrefix(ref, s.baseURL+"/")
	rel = filepath.FromSlash(rel)
	if strings.Contains(rel, "..") {
		return nil, fmt.Errorf("invalid asset reference %q", ref)
	}

	data, err := os.ReadFile(filepath.Join(s.rootDir, rel))
	if err != nil {
		return nil, fmt.Errorf("failed to read asset %q: %w", ref, err)
	}
	return data, nil
}
