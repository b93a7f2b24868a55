// Package worker defines worker contracts for asynchronous review
// processing.
package worker

import (
	"time"

	"github.com/reviewd-dev/reviewd/pkg/logger"
)

// Option applies a configuration option to the ReviewWorker.
type Option func(*ReviewWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *ReviewWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(logger logger.Logger) Option {
	return func(w *ReviewWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMaxAttempts sets how many times the engine is called before the
// submission is failed.
func WithMaxAttempts(n int) Option {
	return func(w *ReviewWorker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithAttemptTimeout sets the per-attempt deadline for engine calls.
func WithAttemptTimeout(d time.Duration) Option {
	return func(w *ReviewWorker) {
		if d > 0 {
			w.attemptTimeout = d
		}
	}
}

// WithBackoffBase sets the base delay for exponential backoff between
// engine attempts.
func WithBackoffBase(d time.Duration) Option {
	return func(w *ReviewWorker) {
		if d > 0 {
			w.backoffBase = d
		}
	}
}

// WithCacheScope sets the cache scope completed results are stored
// under.
func WithCacheScope(scope string) Option {
	return func(w *ReviewWorker) {
		if scope != "" {
			w.cacheScope = scope
		}
	}
}

// WithCacheTTL sets how long completed results stay cached.
func WithCacheTTL(ttl time.Duration) Option {
	return func(w *ReviewWorker) {
		if ttl > 0 {
			w.cacheTTL = ttl
		}
	}
}
