package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storybook-server/shared/interfaces"
	"storybook-server/shared/models"
)

const defaultStoryCacheTTL = 5 * time.Second

type redisStoryCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStoryCache creates a short-TTL read cache for the polling endpoint.
// Workers in other processes do not invalidate it, so the TTL bounds staleness;
// the websocket stream carries real-time progress instead.
func NewRedisStoryCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) interfaces.StoryCache {
	if ttl <= 0 {
		ttl = defaultStoryCacheTTL
	}
	return &redisStoryCache{
		client: client,
		ttl:    ttl,
		logger: logger.Named("RedisStoryCache"),
	}
}

var _ interfaces.StoryCache = (*redisStoryCache)(nil)

func storyCacheKey(id uuid.UUID) string {
	return fmt.Sprintf("story:%s", id)
}

// Get returns the cached record, or (nil, nil) on a cache miss.
func (c *redisStoryCache) Get(ctx context.Context, id uuid.UUID) (*models.StoryRecord, error) {
	data, err := c.client.Get(ctx, storyCacheKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read story cache: %w", err)
	}

	var story models.StoryRecord
	if err := json.Unmarshal(data, &story); err != nil {
		// A corrupt entry is dropped, not surfaced: the caller falls back to the store.
		c.logger.Warn("Dropping unreadable story cache entry", zap.String("story_id", id.String()), zap.Error(err))
		_ = c.client.Del(ctx, storyCacheKey(id)).Err()
		return nil, nil
	}
	return &story, nil
}

func (c *redisStoryCache) Set(ctx context.Context, story *models.StoryRecord) error {
	data, err := json.Marshal(story)
	if err != nil {
		return fmt.Errorf("failed to marshal story for cache: %w", err)
	}
	if err := c.client.Set(ctx, storyCacheKey(story.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write story cache: %w", err)
	}
	return nil
}
