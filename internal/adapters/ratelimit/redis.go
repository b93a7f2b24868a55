package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter implements Limiter on a shared Redis instance so many
// gateway replicas see the same counters. Key layout:
// ratelimit:{identity}:{windowIndex}; INCR is atomic per key, EXPIRE is
// set on first increment so closed windows clean themselves up.
type RedisLimiter struct {
	rdb    *redis.Client
	window time.Duration
	limit  int64
	now    func() time.Time
}

// RedisOption applies a configuration option to the RedisLimiter.
type RedisOption func(*RedisLimiter)

// WithRedisWindow sets the fixed window length.
func WithRedisWindow(window time.Duration) RedisOption {
	return func(l *RedisLimiter) {
		if window > 0 {
			l.window = window
		}
	}
}

// WithRedisLimit sets the admission ceiling per window.
func WithRedisLimit(limit int64) RedisOption {
	return func(l *RedisLimiter) {
		if limit > 0 {
			l.limit = limit
		}
	}
}

// WithRedisClock overrides the time source, for tests.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(l *RedisLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(rdb *redis.Client, opts ...RedisOption) *RedisLimiter {
	l := &RedisLimiter{
		rdb:    rdb,
		window: defaultWindow,
		limit:  defaultLimit,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit increments the window counter and checks it against the ceiling.
func (l *RedisLimiter) Admit(ctx context.Context, identity string) (Decision, error) {
	win := l.now().UnixNano() / int64(l.window)
	key := fmt.Sprintf("ratelimit:%s:%d", identity, win)

	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		// TTL slightly past the boundary so a slow clock never drops a live window.
		if err := l.rdb.Expire(ctx, key, l.window+time.Second).Err(); err != nil {
			return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	return Decision{
		Allowed: count <= l.limit,
		Count:   count,
		Limit:   l.limit,
		Reset:   time.Unix(0, (win+1)*int64(l.window)),
	}, nil
}
