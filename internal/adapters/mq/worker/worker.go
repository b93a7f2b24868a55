// Package worker defines worker contracts for asynchronous review
// processing.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/reviewd-dev/reviewd/internal/adapters/mq/queue"
	"github.com/reviewd-dev/reviewd/internal/adapters/repository"
	"github.com/reviewd-dev/reviewd/internal/domain/model"
	"github.com/reviewd-dev/reviewd/internal/domain/review"
	"github.com/reviewd-dev/reviewd/pkg/logger"
	"github.com/reviewd-dev/reviewd/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU()
	defaultMaxAttempts      = 3
	defaultAttemptTimeout   = 30 * time.Second
	defaultBackoffBase      = 200 * time.Millisecond
	defaultCacheTTL         = 24 * time.Hour
	poolShutdownTimeout     = 30 * time.Second
)

// Task abstracts what workers read off the queue.
// Using the model.Task type for consistency.
type Task = model.Task

// Store is the slice of the repository workers need.
type Store interface {
	Get(ctx context.Context, id string) (model.Submission, error)
	UpdateStatus(ctx context.Context, id string, status model.Status, reason string) (model.Submission, error)
	AttachResult(ctx context.Context, id string, result model.ReviewResult) (model.Submission, error)
}

// Reviewer computes a review for a piece of code.
type Reviewer interface {
	Review(ctx context.Context, language, code string) ([]byte, error)
}

// Queue defines how workers receive and acknowledge tasks.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Task
	Ack(ctx context.Context, t Task) error
}

// Publisher fans status events out to stream subscribers.
type Publisher interface {
	Publish(ctx context.Context, event model.StatusEvent) error
}

// ResultCache stores completed results keyed by code fingerprint.
type ResultCache interface {
	Store(ctx context.Context, language, code, scope string, result *model.ReviewResult, ttl time.Duration) error
}

// Worker processes review tasks pulled from the queue.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown gracefully stops the worker.
	// It will finish the task in flight before stopping.
	Shutdown(ctx context.Context) error
}

// ReviewWorker implements Worker for processing submissions.
type ReviewWorker struct {
	queue    Queue
	store    Store
	reviewer Reviewer
	bus      Publisher
	cache    ResultCache
	name     string

	// Engine call policy
	maxAttempts    int
	attemptTimeout time.Duration
	backoffBase    time.Duration

	// Cache policy
	cacheScope string
	cacheTTL   time.Duration

	// Shutdown control
	shutdown chan struct{}
	done     chan struct{}

	// Logging
	logger logger.Logger
}

// NewReviewWorker creates a new worker with configuration options.
func NewReviewWorker(q Queue, store Store, reviewer Reviewer, bus Publisher, cache ResultCache, opts ...Option) *ReviewWorker {
	w := &ReviewWorker{
		queue:          q,
		store:          store,
		reviewer:       reviewer,
		bus:            bus,
		cache:          cache,
		name:           "worker", // default name
		maxAttempts:    defaultMaxAttempts,
		attemptTimeout: defaultAttemptTimeout,
		backoffBase:    defaultBackoffBase,
		cacheScope:     "public",
		cacheTTL:       defaultCacheTTL,
		shutdown:       make(chan struct{}),
		done:           make(chan struct{}),
		logger:         logger.Get().Named("worker"), // will be updated by options
	}

	// Apply all options
	for _, opt := range opts {
		opt(w)
	}

	// Set up logger with worker name if not already set
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}

	return w
}

// Run starts the worker loop.
func (w *ReviewWorker) Run(ctx context.Context) {
	defer func() {
		close(w.done)
	}()

	taskChan := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case task, ok := <-taskChan:
			if !ok {
				// Channel closed, worker should stop
				return
			}

			// Process the task
			if err := w.processTask(ctx, task); err != nil {
				w.logger.Error(ctx, "error processing task",
					logger.String("submissionID", task.SubmissionID),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *ReviewWorker) Shutdown(ctx context.Context) error {
	// Signal shutdown
	close(w.shutdown)

	// Wait for worker to finish or context to timeout
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// processTask handles a single task end to end. Delivery is
// at-least-once, so a task may arrive for a submission that already
// finished; those are acknowledged and skipped.
func (w *ReviewWorker) processTask(ctx context.Context, task queue.Task) error {
	// Track overall processing latency
	start := time.Now()
	defer func() {
		latency := time.Since(start).Milliseconds()
		metrics.RecordWorkerProcessingLatency(float64(latency))
	}()

	sub, err := w.store.Get(ctx, task.SubmissionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Nothing to do for a task pointing at a deleted submission.
			w.logger.Warn(ctx, "task references unknown submission",
				logger.String("submissionID", task.SubmissionID),
			)
			return w.queue.Ack(ctx, task)
		}
		// Leave the task unacked so it can be redelivered.
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "store_error")
		return fmt.Errorf("load submission %s: %w", task.SubmissionID, err)
	}

	if sub.Status.IsTerminal() {
		// Redelivered after completion; the first delivery won.
		return w.queue.Ack(ctx, task)
	}

	if sub.Status == model.StatusPending {
		if _, err := w.store.UpdateStatus(ctx, sub.ID, model.StatusInProgress, ""); err != nil {
			metrics.RecordWorkerError()
			metrics.RecordErrorByComponent("worker", "transition_error")
			return fmt.Errorf("mark submission %s in progress: %w", sub.ID, err)
		}
	}
	w.publish(ctx, model.StatusEvent{
		SubmissionID: sub.ID,
		Status:       model.StatusInProgress,
	})

	raw, err := w.review(ctx, sub.Language, sub.Code)
	if err != nil {
		if ctx.Err() != nil {
			// Shutting down mid-review; leave the task for redelivery.
			return ctx.Err()
		}
		return w.fail(ctx, task, sub, start, fmt.Sprintf("review engine: %v", err))
	}

	outcome := review.Normalize(raw)
	if !outcome.OK {
		return w.fail(ctx, task, sub, start, outcome.Reason)
	}

	if _, err := w.store.AttachResult(ctx, sub.ID, *outcome.Result); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "store_error")
		return fmt.Errorf("attach result for %s: %w", sub.ID, err)
	}

	// Cache write is best effort; a failed write only costs a future
	// cache miss.
	if err := w.cache.Store(ctx, sub.Language, sub.Code, w.cacheScope, outcome.Result, w.cacheTTL); err != nil {
		w.logger.Warn(ctx, "result cache write failed",
			logger.String("submissionID", sub.ID),
			logger.Error(err),
		)
		metrics.RecordErrorByComponent("cache", "store_error")
	}

	durationMS := time.Since(start).Milliseconds()
	w.publish(ctx, model.StatusEvent{
		SubmissionID: sub.ID,
		Status:       model.StatusCompleted,
		DurationMS:   durationMS,
		Result:       outcome.Result,
	})

	metrics.RecordReviewCompleted()
	metrics.RecordReviewLatency(float64(durationMS))
	return w.queue.Ack(ctx, task)
}

// fail moves the submission to the failed state and acknowledges the
// task; the engine retries already happened inside review.
func (w *ReviewWorker) fail(ctx context.Context, task queue.Task, sub model.Submission, start time.Time, reason string) error {
	metrics.RecordReviewFailed()
	metrics.RecordWorkerError()
	metrics.RecordErrorByComponent("worker", "review_failed")

	if _, err := w.store.UpdateStatus(ctx, sub.ID, model.StatusFailed, reason); err != nil {
		return fmt.Errorf("mark submission %s failed: %w", sub.ID, err)
	}
	w.publish(ctx, model.StatusEvent{
		SubmissionID: sub.ID,
		Status:       model.StatusFailed,
		DurationMS:   time.Since(start).Milliseconds(),
		Error:        reason,
	})
	w.logger.Error(ctx, "review failed",
		logger.String("submissionID", sub.ID),
		logger.String("reason", reason),
	)
	return w.queue.Ack(ctx, task)
}

// review calls the engine with a per-attempt timeout and exponential
// backoff between attempts.
func (w *ReviewWorker) review(ctx context.Context, language, code string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < w.maxAttempts; attempt++ {
		if attempt > 0 {
			metrics.RecordEngineRetry()
			delay := w.backoffBase * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, w.attemptTimeout)
		callStart := time.Now()
		raw, err := w.reviewer.Review(attemptCtx, language, code)
		cancel()
		metrics.RecordEngineLatency(float64(time.Since(callStart).Milliseconds()))

		if err == nil {
			return raw, nil
		}
		metrics.RecordEngineError()
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("all %d attempts failed: %w", w.maxAttempts, lastErr)
}

func (w *ReviewWorker) publish(ctx context.Context, event model.StatusEvent) {
	if err := w.bus.Publish(ctx, event); err != nil {
		w.logger.Warn(ctx, "status publish failed",
			logger.String("submissionID", event.SubmissionID),
			logger.Error(err),
		)
	}
}

// Pool manages multiple workers.
type Pool struct {
	workers  []*ReviewWorker
	queue    Queue
	store    Store
	reviewer Reviewer
	bus      Publisher
	cache    ResultCache

	// Logging
	logger logger.Logger
}

// NewPool creates a new worker pool.
func NewPool(workerCount int, q Queue, store Store, reviewer Reviewer, bus Publisher, cache ResultCache, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	pool := &Pool{
		workers:  make([]*ReviewWorker, workerCount),
		queue:    q,
		store:    store,
		reviewer: reviewer,
		bus:      bus,
		cache:    cache,
		logger:   logger.Get().Named("worker-pool"),
	}

	for i := 0; i < workerCount; i++ {
		workerOpts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewReviewWorker(q, store, reviewer, bus, cache, workerOpts...)
	}

	// Initialize worker metrics
	metrics.UpdateWorkerCount(workerCount)
	metrics.UpdateWorkerActiveCount(workerCount)
	metrics.UpdateWorkerIdleCount(0)

	return pool
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, worker := range p.workers {
		go worker.Run(ctx)
	}
}

// Shutdown gracefully shuts down the entire worker pool.
func (p *Pool) Shutdown(ctx context.Context) error {
	// First close the queue to stop new tasks
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	// Wait for all workers to finish or context to timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, worker := range p.workers {
		if err := worker.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}

	metrics.UpdateWorkerActiveCount(0)
	metrics.UpdateWorkerIdleCount(0)
	return nil
}
