package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	pgxV5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"storybook-server/shared/interfaces"
	"storybook-server/shared/models"
)

const (
	insertStoryQuery = `
        INSERT INTO stories (id, owner_id, title, pages, cover_image_url, phase,
                             images_generated, total_images, error_details, metadata, version)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
    `
	getStoryQuery = `
        SELECT id, owner_id, title, pages, cover_image_url, phase, images_generated,
               total_images, error_details, metadata, version, created_at, updated_at
        FROM stories WHERE id = $1
    `
	// The WHERE version clause is the compare-and-swap: zero affected rows means
	// another writer committed first and the whole read-modify-write is retried.
	casUpdateStoryQuery = `
        UPDATE stories
        SET title = $2, pages = $3, cover_image_url = $4, phase = $5,
            images_generated = $6, error_details = $7, metadata = $8,
            version = version + 1, updated_at = now()
        WHERE id = $1 AND version = $9
    `
)

// Conflicts between page workers of the same story are routine under high
// fan-out (the transaction layer serializes per document, not per page), so the
// retry budget is generous.
const casMaxAttempts = 32

type storyRow struct {
	ID              uuid.UUID  `db:"id"`
	OwnerID         uuid.UUID  `db:"owner_id"`
	Title           string     `db:"title"`
	Pages           []byte     `db:"pages"`
	CoverImageURL   *string    `db:"cover_image_url"`
	Phase           string     `db:"phase"`
	ImagesGenerated int        `db:"images_generated"`
	TotalImages     int        `db:"total_images"`
	ErrorDetails    *string    `db:"error_details"`
	Metadata        []byte     `db:"metadata"`
	Version         int64      `db:"version"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

type pgStoryStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPgStoryStore creates the Postgres-backed StoryStore. Optimistic concurrency
// over a version column; no explicit locks.
func NewPgStoryStore(pool *pgxpool.Pool, logger *zap.Logger) interfaces.StoryStore {
	return &pgStoryStore{
		pool:   pool,
		logger: logger.Named("PgStoryStore"),
	}
}

var _ interfaces.StoryStore = (*pgStoryStore)(nil)

func (s *pgStoryStore) Create(ctx context.Context, story *models.StoryRecord) error {
	pages, meta, err := marshalStoryDocs(story)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, insertStoryQuery,
		story.ID, story.OwnerID, story.Title, pages, story.CoverImageURL,
		string(story.Phase), story.ImagesGenerated, story.TotalImages,
		story.ErrorDetails, meta,
	)
	if err != nil {
		return fmt.Errorf("failed to insert story %s: %w", story.ID, err)
	}
	story.Version = 1
	return nil
}

func (s *pgStoryStore) GetByID(ctx context.Context, id uuid.UUID) (*models.StoryRecord, error) {
	var row storyRow
	err := pgxscan.Get(ctx, s.pool, &row, getStoryQuery, id)
	if err != nil {
		if errors.Is(err, pgxV5.ErrNoRows) {
			return nil, models.ErrStoryNotFound
		}
		return nil, fmt.Errorf("failed to get story %s: %w", id, err)
	}
	return rowToRecord(&row)
}

func (s *pgStoryStore) RunStoryTransaction(ctx context.Context, id uuid.UUID, mutate func(story *models.StoryRecord) error) (*models.StoryRecord, error) {
	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		story, err := s.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		readVersion := story.Version

		if err := mutate(story); err != nil {
			if errors.Is(err, interfaces.ErrNoChanges) {
				return story, nil
			}
			return nil, err
		}

		pages, meta, err := marshalStoryDocs(story)
		if err != nil {
			return nil, err
		}
		tag, err := s.pool.Exec(ctx, casUpdateStoryQuery,
			story.ID, story.Title, pages, story.CoverImageURL, string(story.Phase),
			story.ImagesGenerated, story.ErrorDetails, meta, readVersion,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to update story %s: %w", id, err)
		}
		if tag.RowsAffected() == 1 {
			story.Version = readVersion + 1
			return story, nil
		}

		// Conflicting commit won the race; back off briefly and re-read.
		s.logger.Debug("Story write conflict, retrying transaction",
			zap.String("story_id", id.String()),
			zap.Int64("read_version", readVersion),
			zap.Int("attempt", attempt+1),
		)
		select {
		case <-time.After(time.Duration(1+rand.Intn(10)) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("story %s: write conflict retries exhausted after %d attempts", id, casMaxAttempts)
}

func marshalStoryDocs(story *models.StoryRecord) (pages []byte, meta []byte, err error) {
	pages, err = json.Marshal(story.Pages)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal pages for story %s: %w", story.ID, err)
	}
	meta, err = json.Marshal(story.Metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal metadata for story %s: %w", story.ID, err)
	}
	return pages, meta, nil
}

func rowToRecord(row *storyRow) (*models.StoryRecord, error) {
	record := &models.StoryRecord{
		ID:              row.ID,
		OwnerID:         row.OwnerID,
		Title:           row.Title,
		CoverImageURL:   row.CoverImageURL,
		Phase:           models.StoryPhase(row.Phase),
		ImagesGenerated: row.ImagesGenerated,
		TotalImages:     row.TotalImages,
		ErrorDetails:    row.ErrorDetails,
		Version:         row.Version,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	if err := json.Unmarshal(row.Pages, &record.Pages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pages for story %s: %w", row.ID, err)
	}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &record.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for story %s: %w", row.ID, err)
		}
	}
	return record, nil
}
