// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/reviewd-dev/reviewd/internal/adapters/bus"
	"github.com/reviewd-dev/reviewd/internal/adapters/ratelimit"
	"github.com/reviewd-dev/reviewd/internal/adapters/repository"
	"github.com/reviewd-dev/reviewd/internal/domain/model"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Submit runs the intake pipeline for one submission: admission,
	// cache lookup, persistence and enqueue. The returned result is a
	// tagged outcome; err is reserved for infrastructure failures.
	Submit(ctx context.Context, language, code, clientID string) (SubmitResult, error)

	// Submission returns one submission by id.
	Submission(ctx context.Context, id string) (model.Submission, error)

	// Submissions lists submissions, newest first.
	Submissions(ctx context.Context, f Filter) (Page, error)

	// Remove deletes a submission by id.
	Remove(ctx context.Context, id string) error

	// Watch subscribes to the status event stream of one submission.
	Watch(ctx context.Context, id string) (Subscription, error)
}

// Read shapes reused from the layers below.
type (
	Filter       = repository.Filter
	Page         = repository.Page
	Subscription = bus.Subscription
	Decision     = ratelimit.Decision
)

// SubmitResult is the tagged outcome of the intake pipeline.
type SubmitResult struct {
	Submission model.Submission
	// Cached is true when the result came straight from the cache and
	// the submission was created already completed.
	Cached bool
	// Allowed is the rate limiter verdict; Decision carries the quota
	// details for response headers.
	Allowed  bool
	Decision Decision
	// Enqueued is false when the queue refused the task (backpressure).
	Enqueued bool
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	reviewsHandler *ReviewsHandler
	streamHandler  *StreamHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...ServerOption) *Server {
	cfg := serverConfig{
		maxCodeBytes: defaultMaxCodeBytes,
		maxPageSize:  defaultMaxPageSize,
		pingInterval: defaultPingInterval,
		trustProxy:   false,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(statsProvider),
		reviewsHandler: NewReviewsHandler(deps, cfg.maxCodeBytes, cfg.maxPageSize, cfg.trustProxy),
		streamHandler:  NewStreamHandler(deps, cfg.pingInterval),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	// Specific paths first (most specific to least specific)
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/reviews", MetricsMiddleware(s.reviewsHandler.HandleCollection, "reviews"))
	mux.HandleFunc("/reviews/", MetricsMiddleware(s.handleItem, "review"))
}

// handleItem dispatches /reviews/{id} and /reviews/{id}/stream.
func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/reviews/")
	if id, ok := strings.CutSuffix(rest, "/stream"); ok {
		s.streamHandler.HandleStream(w, r, id)
		return
	}
	s.reviewsHandler.HandleItem(w, r, rest)
}

// serverConfig collects tunables applied through ServerOption.
type serverConfig struct {
	maxCodeBytes int
	maxPageSize  int
	pingInterval time.Duration
	trustProxy   bool
}

// ServerOption applies a configuration option to the Server.
type ServerOption func(*serverConfig)

// WithMaxCodeBytes caps the accepted code payload size.
func WithMaxCodeBytes(n int) ServerOption {
	return func(c *serverConfig) {
		if n > 0 {
			c.maxCodeBytes = n
		}
	}
}

// WithMaxPageSize caps the list page size.
func WithMaxPageSize(n int) ServerOption {
	return func(c *serverConfig) {
		if n > 0 {
			c.maxPageSize = n
		}
	}
}

// WithPingInterval sets the default SSE keepalive interval.
func WithPingInterval(d time.Duration) ServerOption {
	return func(c *serverConfig) {
		if d > 0 {
			c.pingInterval = d
		}
	}
}

// WithTrustProxyHeaders makes client identification honor
// X-Forwarded-For.
func WithTrustProxyHeaders(trust bool) ServerOption {
	return func(c *serverConfig) {
		c.trustProxy = trust
	}
}

// reviewRequest mirrors the request schema for POST /reviews.
type reviewRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

func (rr reviewRequest) validate(maxCodeBytes int) error {
	switch {
	case strings.TrimSpace(rr.Language) == "":
		return errors.New("missing language")
	case strings.TrimSpace(rr.Code) == "":
		return errors.New("missing code")
	case len(rr.Code) > maxCodeBytes:
		return errors.New("code exceeds maximum size")
	}
	return nil
}

// submissionResponse is the wire shape for a single submission.
type submissionResponse struct {
	ID        string              `json:"id"`
	Language  string              `json:"language"`
	Status    model.Status        `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
	Error     string              `json:"error,omitempty"`
	Result    *model.ReviewResult `json:"result,omitempty"`
	Cached    bool                `json:"cached,omitempty"`
}

func toSubmissionResponse(sub model.Submission, cached bool) submissionResponse {
	return submissionResponse{
		ID:        sub.ID,
		Language:  sub.Language,
		Status:    sub.Status,
		CreatedAt: sub.CreatedAt,
		UpdatedAt: sub.UpdatedAt,
		Error:     sub.Error,
		Result:    sub.Result,
		Cached:    cached,
	}
}

// listResponse is the wire shape for the collection endpoint.
type listResponse struct {
	Submissions []submissionResponse `json:"submissions"`
	Total       int                  `json:"total"`
	Offset      int                  `json:"offset"`
	Limit       int                  `json:"limit"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// isNotFound translates upstream not-found errors to 404.
func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
