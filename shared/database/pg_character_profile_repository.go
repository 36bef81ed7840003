package database

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/shared/interfaces"
	"storybook-server/shared/models"
)

const getProfilesByIDsQuery = `
    SELECT id, owner_id, name, age_years, appearance, created_at
    FROM character_profiles
    WHERE owner_id = $1 AND id = ANY($2)
`

type pgCharacterProfileRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPgCharacterProfileRepository creates the Postgres-backed profile lookup.
func NewPgCharacterProfileRepository(pool *pgxpool.Pool, logger *zap.Logger) interfaces.CharacterProfileRepository {
	return &pgCharacterProfileRepository{
		pool:   pool,
		logger: logger.Named("CharacterProfileRepo"),
	}
}

// GetByIDs returns the requested profiles scoped to the owner. A missing id is
// reported as models.ErrProfileNotFound: a request referencing a foreign or
// deleted profile must fail before any generation starts.
func (r *pgCharacterProfileRepository) GetByIDs(ctx context.Context, ownerID uuid.UUID, ids []uuid.UUID) ([]models.CharacterProfile, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var profiles []models.CharacterProfile
	err := pgxscan.Select(ctx, r.pool, &profiles, getProfilesByIDsQuery, ownerID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query character profiles: %w", err)
	}

	if len(profiles) != len(ids) {
		found := make(map[uuid.UUID]bool, len(profiles))
		for _, p := range profiles {
			found[p.ID] = true
		}
		for _, id := range ids {
			if !found[id] {
				r.logger.Warn("Referenced character profile not found",
					zap.String("profile_id", id.String()),
					zap.String("owner_id", ownerID.String()),
				)
				return nil, fmt.Errorf("%w: %s", models.ErrProfileNotFound, id)
			}
		}
	}
	return profiles, nil
}
