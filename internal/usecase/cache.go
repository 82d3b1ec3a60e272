package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// ScoreCache remembers classifier scores by model and image digest.
// A miss is (0, false, nil).
type ScoreCache interface {
	GetScore(ctx context.Context, key string) (float64, bool, error)
	SetScore(ctx context.Context, key string, score float64, ttl time.Duration) error
}

// ScoreKey builds the cache key for one image under one model and one
// preprocessing setup, as named by imageprocessor.Preprocessor.ID.
func ScoreKey(modelID, preprocessingID, sha1Hex string) string {
	return fmt.Sprintf("leafguard:score:%s:%s:%s", modelID, preprocessingID, sha1Hex)
}

// RedisScoreCache is backed by go-redis.
type RedisScoreCache struct {
	client *redis.Client
}

// NewRedisScoreCache constructs a Redis-backed score cache.
func NewRedisScoreCache(client *redis.Client) *RedisScoreCache {
	return &RedisScoreCache{client: client}
}

// GetScore reads a cached score.
func (c *RedisScoreCache) GetScore(ctx context.Context, key string) (float64, bool, error) {
	score, err := c.client.Get(ctx, key).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return score, true, nil
}

// SetScore stores the score with full float64 precision.
func (c *RedisScoreCache) SetScore(ctx context.Context, key string, score float64, ttl time.Duration) error {
	return c.client.Set(ctx, key, strconv.FormatFloat(score, 'g', -1, 64), ttl).Err()
}

// NopScoreCache is used when no Redis address is configured.
type NopScoreCache struct{}

func (NopScoreCache) GetScore(context.Context, string) (float64, bool, error) { return 0, false, nil }

func (NopScoreCache) SetScore(context.Context, string, float64, time.Duration) error { return nil }
