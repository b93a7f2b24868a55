// Package service wires the storage, queue, cache, rate limiter, status
// bus, review engine and worker pool into the dependencies required by
// the HTTP API.
package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/reviewd-dev/reviewd/internal/adapters/bus"
	"github.com/reviewd-dev/reviewd/internal/adapters/cache"
	"github.com/reviewd-dev/reviewd/internal/adapters/engine"
	"github.com/reviewd-dev/reviewd/internal/adapters/http/api"
	"github.com/reviewd-dev/reviewd/internal/adapters/mq/queue"
	"github.com/reviewd-dev/reviewd/internal/adapters/mq/worker"
	"github.com/reviewd-dev/reviewd/internal/adapters/ratelimit"
	"github.com/reviewd-dev/reviewd/internal/adapters/repository"
	"github.com/reviewd-dev/reviewd/internal/domain/model"
	"github.com/reviewd-dev/reviewd/pkg/logger"
	"github.com/reviewd-dev/reviewd/pkg/metrics"
)

// Shapes re-exported so direct callers do not need the api package.
type (
	SubmitResult = api.SubmitResult
	Filter       = api.Filter
	Page         = api.Page
)

// Service implements the API dependencies for the review system.
type Service struct {
	mu sync.RWMutex

	// Core components
	store    repository.Store
	queue    queue.Queue
	cache    cache.Cache
	limiter  ratelimit.Limiter
	bus      bus.Bus
	reviewer engine.Reviewer
	pool     *worker.Pool
	rdb      *redis.Client

	// Configuration
	workerCount int
	queueSize   int
	redisAddr   string

	rateLimit  int64
	rateWindow time.Duration

	cacheTTL   time.Duration
	cacheScope string

	engineEndpoint   string
	engineMaxAttempt int
	engineTimeout    time.Duration
	engineBackoff    time.Duration
	// Simulated engine latency configuration
	engineMinLatency time.Duration
	engineMaxLatency time.Duration

	// State
	started bool

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the work queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithRedisAddr switches the queue, cache, rate limiter and status bus
// to their Redis-backed variants. Empty keeps everything in memory.
func WithRedisAddr(addr string) Option {
	return func(s *Service) {
		s.redisAddr = addr
	}
}

// WithRateLimit sets the per-client submission quota and its window.
func WithRateLimit(limit int64, window time.Duration) Option {
	return func(s *Service) {
		if limit > 0 {
			s.rateLimit = limit
		}
		if window > 0 {
			s.rateWindow = window
		}
	}
}

// WithCacheTTL sets how long cached review results stay valid.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithCacheScope sets the cache partition submissions are keyed under.
func WithCacheScope(scope string) Option {
	return func(s *Service) {
		if scope != "" {
			s.cacheScope = scope
		}
	}
}

// WithEngineEndpoint points the service at an external review engine.
// Empty selects the built-in simulated engine.
func WithEngineEndpoint(endpoint string) Option {
	return func(s *Service) {
		s.engineEndpoint = endpoint
	}
}

// WithEngineRetry sets the per-submission retry budget against the
// review engine.
func WithEngineRetry(maxAttempts int, attemptTimeout, backoffBase time.Duration) Option {
	return func(s *Service) {
		if maxAttempts > 0 {
			s.engineMaxAttempt = maxAttempts
		}
		if attemptTimeout > 0 {
			s.engineTimeout = attemptTimeout
		}
		if backoffBase > 0 {
			s.engineBackoff = backoffBase
		}
	}
}

// WithEngineLatencyRange sets the simulated engine latency range.
func WithEngineLatencyRange(minLatency, maxLatency time.Duration) Option {
	return func(s *Service) {
		if minLatency > 0 && maxLatency > minLatency {
			s.engineMinLatency = minLatency
			s.engineMaxLatency = maxLatency
		}
	}
}

// WithReviewer sets a custom review engine, mainly for tests.
func WithReviewer(r engine.Reviewer) Option {
	return func(s *Service) {
		if r != nil {
			s.reviewer = r
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:      runtime.NumCPU() * 2,
		queueSize:        10_000,
		rateLimit:        10,
		rateWindow:       time.Hour,
		cacheTTL:         24 * time.Hour,
		cacheScope:       cache.DefaultScope,
		engineMaxAttempt: 3,
		engineTimeout:    30 * time.Second,
		engineBackoff:    200 * time.Millisecond,
		engineMinLatency: 80 * time.Millisecond,
		engineMaxLatency: 150 * time.Millisecond,
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	s.logger.Info(ctx, "starting review service...")

	s.store = repository.NewMemoryStore()

	if s.redisAddr != "" {
		s.rdb = redis.NewClient(&redis.Options{Addr: s.redisAddr})
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("service: redis at %s: %w", s.redisAddr, err)
		}
		s.queue = queue.NewRedisQueue(s.rdb)
		s.cache = cache.NewRedisCache(s.rdb, cache.WithRedisDefaultTTL(s.cacheTTL))
		s.limiter = ratelimit.NewRedisLimiter(s.rdb,
			ratelimit.WithRedisLimit(s.rateLimit),
			ratelimit.WithRedisWindow(s.rateWindow),
		)
		s.bus = bus.NewRedisBus(s.rdb)
		s.logger.Info(ctx, "using redis backends", logger.String("addr", s.redisAddr))

		// Tasks delivered but never acked before the last shutdown go
		// back on the queue.
		if rq, ok := s.queue.(*queue.RedisQueue); ok {
			n, err := rq.Recover(ctx)
			if err != nil {
				return fmt.Errorf("service: queue recovery: %w", err)
			}
			if n > 0 {
				s.logger.Info(ctx, "requeued unacked tasks", logger.Int("count", n))
			}
		}
	} else {
		s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
		s.cache = cache.NewInMemoryCache(cache.WithDefaultTTL(s.cacheTTL))
		s.limiter = ratelimit.NewInMemoryLimiter(
			ratelimit.WithLimit(s.rateLimit),
			ratelimit.WithWindow(s.rateWindow),
		)
		s.bus = bus.NewInMemoryBus()
		s.logger.Info(ctx, "using in-memory backends")
	}

	if s.reviewer == nil {
		if s.engineEndpoint != "" {
			s.reviewer = engine.NewHTTPEngine(s.engineEndpoint)
			s.logger.Info(ctx, "using http review engine", logger.String("endpoint", s.engineEndpoint))
		} else {
			s.reviewer = engine.NewSimulatedEngine(
				engine.WithLatencyRange(s.engineMinLatency, s.engineMaxLatency),
			)
			s.logger.Info(ctx, "using simulated review engine")
		}
	}

	s.pool = worker.NewPool(s.workerCount, s.queue, s.store, s.reviewer, s.bus, s.cache,
		worker.WithMaxAttempts(s.engineMaxAttempt),
		worker.WithAttemptTimeout(s.engineTimeout),
		worker.WithBackoffBase(s.engineBackoff),
		worker.WithCacheScope(s.cacheScope),
		worker.WithCacheTTL(s.cacheTTL),
	)
	s.pool.Start(ctx)

	metrics.UpdateQueueCapacity(s.queueSize)
	metrics.UpdateWorkerCount(s.pool.Size())

	s.started = true
	s.logger.Info(ctx, "review service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Int64("rateLimit", s.rateLimit),
	)

	return nil
}

// Shutdown gracefully stops the service. The queue is closed first so
// workers drain in-flight tasks before exiting.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.Info(ctx, "stopping review service...")

	var firstErr error
	if s.pool != nil {
		if err := s.pool.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}

	if closer, ok := s.bus.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.started = false
	s.logger.Info(ctx, "review service stopped")
	return firstErr
}

// Submit runs the intake pipeline: admission, cache lookup, persistence
// and enqueue. The returned SubmitResult is a tagged outcome; the error
// is reserved for infrastructure failures.
func (s *Service) Submit(ctx context.Context, language, code, clientID string) (api.SubmitResult, error) {
	decision, err := s.limiter.Admit(ctx, clientID)
	if err != nil {
		return api.SubmitResult{}, fmt.Errorf("service: admit: %w", err)
	}
	if !decision.Allowed {
		metrics.RecordRateLimitDenied()
		s.logger.Warn(ctx, "submission denied by rate limit",
			logger.String("client", clientID),
			logger.Int64("count", decision.Count),
			logger.Int64("limit", decision.Limit),
		)
		return api.SubmitResult{Decision: decision}, nil
	}

	now := time.Now().UTC()
	sub := model.Submission{
		ID:        uuid.NewString(),
		Language:  language,
		Code:      code,
		CodeHash:  cache.Fingerprint(language, code),
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	result, hit, err := s.cache.Lookup(ctx, language, code, s.cacheScope)
	if err != nil {
		// A broken cache degrades to a miss.
		s.logger.Warn(ctx, "cache lookup failed", logger.Error(err))
	}
	if hit {
		sub.Status = model.StatusCompleted
		sub.Result = result
		if err := s.store.Create(ctx, sub); err != nil {
			return api.SubmitResult{}, fmt.Errorf("service: create submission: %w", err)
		}
		metrics.RecordCacheHit()
		metrics.RecordSubmissionCreated()
		s.logger.Debug(ctx, "served submission from cache",
			logger.String("id", sub.ID),
			logger.String("language", language),
		)
		return api.SubmitResult{
			Submission: sub,
			Cached:     true,
			Allowed:    true,
			Decision:   decision,
		}, nil
	}
	metrics.RecordCacheMiss()

	if err := s.store.Create(ctx, sub); err != nil {
		return api.SubmitResult{}, fmt.Errorf("service: create submission: %w", err)
	}

	if !s.queue.Enqueue(ctx, model.Task{SubmissionID: sub.ID, Attempt: 1}) {
		// The submission never existed as far as callers are concerned.
		// The queue records its own enqueue counters.
		_ = s.store.Delete(ctx, sub.ID)
		s.logger.Warn(ctx, "queue full, submission rejected", logger.String("id", sub.ID))
		return api.SubmitResult{Allowed: true, Decision: decision}, nil
	}

	metrics.RecordSubmissionCreated()

	s.logger.Debug(ctx, "submission enqueued",
		logger.String("id", sub.ID),
		logger.String("language", language),
	)
	return api.SubmitResult{
		Submission: sub,
		Allowed:    true,
		Decision:   decision,
		Enqueued:   true,
	}, nil
}

// Submission returns one submission by id.
func (s *Service) Submission(ctx context.Context, id string) (model.Submission, error) {
	return s.store.Get(ctx, id)
}

// Submissions lists submissions, newest first.
func (s *Service) Submissions(ctx context.Context, f api.Filter) (api.Page, error) {
	return s.store.List(ctx, f)
}

// Remove deletes a submission by id.
func (s *Service) Remove(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// Watch subscribes to the status event stream of one submission.
func (s *Service) Watch(ctx context.Context, id string) (api.Subscription, error) {
	return s.bus.Subscribe(ctx, id)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":       s.started,
		"workers":       s.workerCount,
		"queueCapacity": s.queueSize,
		"cacheScope":    s.cacheScope,
	}

	if s.started {
		queueLen := s.queue.Len(ctx)
		total := s.store.Count(ctx)

		stats["workers"] = s.pool.Size()
		stats["queueLength"] = queueLen
		stats["submissions"] = total

		// Update metrics
		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateSubmissionCount(float64(total))
		if s.queueSize > 0 {
			metrics.UpdateQueueUtilization(float64(queueLen) / float64(s.queueSize))
		}
	}

	return stats
}
