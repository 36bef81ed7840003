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

const getDeviceTokensQuery = `
    SELECT user_id, token, platform, created_at
    FROM device_tokens
    WHERE user_id = $1
`

type pgDeviceTokenRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPgDeviceTokenRepository creates the Postgres-backed device token lookup
// used by the notification service.
func NewPgDeviceTokenRepository(pool *pgxpool.Pool, logger *zap.Logger) interfaces.DeviceTokenRepository {
	return &pgDeviceTokenRepository{
		pool:   pool,
		logger: logger.Named("DeviceTokenRepo"),
	}
}

func (r *pgDeviceTokenRepository) GetTokensForUser(ctx context.Context, userID uuid.UUID) ([]models.DeviceToken, error) {
	var tokens []models.DeviceToken
	err := pgxscan.Select(ctx, r.pool, &tokens, getDeviceTokensQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query device tokens for user %s: %w", userID, err)
	}
	return tokens, nil
}
