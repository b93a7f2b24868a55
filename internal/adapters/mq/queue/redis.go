package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reviewd-dev/reviewd/pkg/logger"
	"github.com/reviewd-dev/reviewd/pkg/metrics"
)

// Redis key layout for the durable queue.
const (
	pendingKey    = "review:queue:pending"
	processingKey = "review:queue:processing"

	defaultPollInterval = 50 * time.Millisecond
)

// RedisQueue implements Queue on a pair of Redis lists. Enqueue LPUSHes
// onto pending; consumers LMOVE the oldest entry into processing, and
// Ack LREMs it once the review is terminal. Entries stranded in
// processing by a crashed worker are swept back to pending by Recover,
// which is what makes delivery at-least-once.
type RedisQueue struct {
	rdb          *redis.Client
	pollInterval time.Duration
	log          logger.Logger

	mu     sync.RWMutex
	closed bool
	stopCh chan struct{}
}

// RedisOption applies a configuration option to the RedisQueue.
type RedisOption func(*RedisQueue)

// WithPollInterval sets how often an idle consumer re-checks pending.
func WithPollInterval(d time.Duration) RedisOption {
	return func(q *RedisQueue) {
		if d > 0 {
			q.pollInterval = d
		}
	}
}

// NewRedisQueue creates a Redis-backed queue.
func NewRedisQueue(rdb *redis.Client, opts ...RedisOption) *RedisQueue {
	q := &RedisQueue{
		rdb:          rdb,
		pollInterval: defaultPollInterval,
		log:          logger.Get().Named("queue"),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue adds a task to the pending list.
func (q *RedisQueue) Enqueue(ctx context.Context, t Task) bool {
	if q.IsClosed() {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}
	raw, err := json.Marshal(t)
	if err != nil {
		metrics.RecordQueueEnqueueError()
		return false
	}
	if err := q.rdb.LPush(ctx, pendingKey, raw).Err(); err != nil {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "backend_error")
		q.log.Error(ctx, "enqueue failed", logger.Error(err))
		return false
	}
	metrics.RecordQueueEnqueue()
	metrics.UpdateQueueSize(q.Len(ctx))
	return true
}

// Dequeue returns a channel fed by a consumer loop that claims tasks
// into the processing list. The oldest pending entry is claimed first.
func (q *RedisQueue) Dequeue(ctx context.Context) <-chan Task {
	out := make(chan Task)
	go func() {
		defer close(out)
		ticker := time.NewTicker(q.pollInterval)
		defer ticker.Stop()

		for {
			raw, err := q.rdb.LMove(ctx, pendingKey, processingKey, "RIGHT", "LEFT").Result()
			switch {
			case err == redis.Nil:
				// Idle; wait for the next tick.
				select {
				case <-ctx.Done():
					return
				case <-q.stopCh:
					return
				case <-ticker.C:
				}
				continue
			case err != nil:
				if ctx.Err() != nil {
					return
				}
				q.log.Error(ctx, "claim failed", logger.Error(err))
				metrics.RecordErrorByComponent("queue", "backend_error")
				select {
				case <-ctx.Done():
					return
				case <-q.stopCh:
					return
				case <-ticker.C:
				}
				continue
			}

			var t Task
			if err := json.Unmarshal([]byte(raw), &t); err != nil {
				// Poison entry; drop it from processing so it cannot loop.
				q.log.Error(ctx, "dropping undecodable task", logger.Error(err))
				_ = q.rdb.LRem(ctx, processingKey, 1, raw).Err()
				continue
			}

			select {
			case out <- t:
				metrics.RecordQueueDequeue()
				metrics.UpdateQueueSize(q.Len(ctx))
			case <-ctx.Done():
				return
			case <-q.stopCh:
				return
			}
		}
	}()
	return out
}

// Ack removes the task from the processing list.
func (q *RedisQueue) Ack(ctx context.Context, t Task) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := q.rdb.LRem(ctx, processingKey, 1, raw).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Recover sweeps tasks stranded in the processing list back onto
// pending with an incremented attempt counter. Call it once on startup,
// before consumers attach; entries present then belong to a previous
// process by definition.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	recovered := 0
	for {
		raw, err := q.rdb.RPop(ctx, processingKey).Result()
		if err == redis.Nil {
			return recovered, nil
		}
		if err != nil {
			return recovered, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		var t Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			q.log.Warn(ctx, "discarding undecodable stranded task", logger.Error(err))
			continue
		}
		t.Attempt++
		requeued, err := json.Marshal(t)
		if err != nil {
			return recovered, fmt.Errorf("encode task: %w", err)
		}
		// RPUSH so redeliveries are claimed ahead of fresh work.
		if err := q.rdb.RPush(ctx, pendingKey, requeued).Err(); err != nil {
			return recovered, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		recovered++
		metrics.RecordQueueRedelivery()
	}
}

// Len returns the number of pending tasks.
func (q *RedisQueue) Len(ctx context.Context) int {
	n, err := q.rdb.LLen(ctx, pendingKey).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

// Close stops consumer loops. The Redis lists themselves survive so a
// restart picks up where this process left off.
func (q *RedisQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.stopCh)
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *RedisQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
