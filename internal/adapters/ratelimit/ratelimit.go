// Package ratelimit provides per-identity fixed-window admission control.
//
// Every call increments the window counter, allowed or not, so replay
// attempts during a denied window never get a free pass. Counters are
// independent across identities and reset at window boundaries.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Default limiter configuration constants.
const (
	defaultWindow = time.Hour
	defaultLimit  = 10
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	Count   int64
	Limit   int64
	// Reset is when the current window closes and the counter restarts.
	Reset time.Time
}

// Limiter admits or denies a request for an identity.
type Limiter interface {
	Admit(ctx context.Context, identity string) (Decision, error)
}

// Option applies a configuration option to the InMemoryLimiter.
type Option func(*InMemoryLimiter)

// WithWindow sets the fixed window length.
func WithWindow(window time.Duration) Option {
	return func(l *InMemoryLimiter) {
		if window > 0 {
			l.window = window
		}
	}
}

// WithLimit sets the admission ceiling per window.
func WithLimit(limit int64) Option {
	return func(l *InMemoryLimiter) {
		if limit > 0 {
			l.limit = limit
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *InMemoryLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// InMemoryLimiter implements Limiter with a map of window-bucketed
// counters. Closed-window buckets are swept on the first Admit of a
// new window, including those of identities that never return.
type InMemoryLimiter struct {
	mu       sync.Mutex
	counts   map[string]*bucket
	window   time.Duration
	limit    int64
	now      func() time.Time
	sweepWin int64
}

type bucket struct {
	window int64
	count  int64
}

// NewInMemoryLimiter creates a limiter with configuration options.
func NewInMemoryLimiter(opts ...Option) *InMemoryLimiter {
	l := &InMemoryLimiter{
		counts: make(map[string]*bucket),
		window: defaultWindow,
		limit:  defaultLimit,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit increments the identity's counter for the current window and
// returns whether the request is within the ceiling.
func (l *InMemoryLimiter) Admit(_ context.Context, identity string) (Decision, error) {
	now := l.now()
	win := now.UnixNano() / int64(l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	if win != l.sweepWin {
		for id, b := range l.counts {
			if b.window != win {
				delete(l.counts, id)
			}
		}
		l.sweepWin = win
	}

	b, ok := l.counts[identity]
	if !ok || b.window != win {
		b = &bucket{window: win}
		l.counts[identity] = b
	}
	b.count++

	reset := time.Unix(0, (win+1)*int64(l.window))
	return Decision{
		Allowed: b.count <= l.limit,
		Count:   b.count,
		Limit:   l.limit,
		Reset:   reset,
	}, nil
}

// Len returns the number of tracked identities, for stats.
func (l *InMemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counts)
}
