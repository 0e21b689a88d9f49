package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/banking/ewa-risk-service/internal/config"
	"github.com/banking/ewa-risk-service/internal/domain"
)

const keyPrefix = "ewa:risk"

// ErrMiss is returned when no snapshot is cached for the key
var ErrMiss = errors.New("cache miss")

// ScoreCache caches the current score snapshot of each entity in Redis
type ScoreCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewScoreCache connects to Redis and verifies the connection
func NewScoreCache(ctx context.Context, cfg *config.RedisConfig) (*ScoreCache, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	c := NewScoreCacheWithClient(client, cfg.ScoreCacheTTL)
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return c, nil
}

// NewScoreCacheWithClient wraps an existing client
func NewScoreCacheWithClient(client *redis.Client, ttl time.Duration) *ScoreCache {
	return &ScoreCache{client: client, ttl: ttl}
}

// Key returns the cache key of an entity's current score
func Key(entityType domain.EntityType, entityID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, entityType, entityID)
}

// Get returns the cached snapshot or ErrMiss
func (c *ScoreCache) Get(ctx context.Context, entityType domain.EntityType, entityID uuid.UUID) (*domain.EntityScoreSnapshot, error) {
	data, err := c.client.Get(ctx, Key(entityType, entityID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var s domain.EntityScoreSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode cached snapshot: %w", err)
	}
	return &s, nil
}

// Set stores a snapshot as the entity's current score
func (c *ScoreCache) Set(ctx context.Context, s *domain.EntityScoreSnapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.client.Set(ctx, Key(s.EntityType, s.EntityID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete evicts an entity's cached score
func (c *ScoreCache) Delete(ctx context.Context, entityType domain.EntityType, entityID uuid.UUID) error {
	if err := c.client.Del(ctx, Key(entityType, entityID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Ping checks the Redis connection
func (c *ScoreCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (c *ScoreCache) Close() error {
	return c.client.Close()
}
