package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reviewd-dev/reviewd/internal/domain/model"
)

// RedisCache implements Cache on Redis, sharing hits across replicas.
// Results are stored as JSON under the same Key shape as the in-memory
// implementation; Redis handles expiry via SET with TTL.
type RedisCache struct {
	rdb        *redis.Client
	defaultTTL time.Duration
}

// RedisOption applies a configuration option to the RedisCache.
type RedisOption func(*RedisCache)

// WithRedisDefaultTTL sets the TTL used when Store receives a zero ttl.
func WithRedisDefaultTTL(ttl time.Duration) RedisOption {
	return func(c *RedisCache) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// NewRedisCache creates a Redis-backed cache.
func NewRedisCache(rdb *redis.Client, opts ...RedisOption) *RedisCache {
	c := &RedisCache{
		rdb:        rdb,
		defaultTTL: defaultTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns the cached result or false on miss/expiry.
func (c *RedisCache) Lookup(ctx context.Context, language, code, scope string) (*model.ReviewResult, bool, error) {
	key := Key(scope, Fingerprint(language, code))

	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var result model.ReviewResult
	if err := json.Unmarshal(raw, &result); err != nil {
		// A corrupt entry is just a miss; the pipeline recomputes.
		return nil, false, nil
	}
	return &result, true, nil
}

// Store records a completed result, overwriting any prior entry.
func (c *RedisCache) Store(ctx context.Context, language, code, scope string, result *model.ReviewResult, ttl time.Duration) error {
	if result == nil {
		return ErrNilResult
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	key := Key(scope, Fingerprint(language, code))

	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
