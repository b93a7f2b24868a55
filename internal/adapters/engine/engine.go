// Package engine defines the contract for the external review engine.
//
// The engine is an external collaborator: it receives a language tag and
// source text and returns a semi-structured JSON review. Implementations
// must honor ctx for the per-attempt timeout; normalization of the raw
// payload happens in the domain/review package, not here.
package engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"
)

// Default engine configuration constants.
const (
	defaultMinLatency = 80 * time.Millisecond
	defaultMaxLatency = 150 * time.Millisecond
	maxResponseBytes  = 1 << 20
)

// Reviewer performs one review call against the external engine and
// returns the raw, unvalidated response body.
type Reviewer interface {
	Review(ctx context.Context, language, code string) ([]byte, error)
}

// SimulatedEngine implements Reviewer with deterministic, locally
// generated output. It models the external service's latency so the
// pipeline's timeout and retry paths are exercised without a network.
type SimulatedEngine struct {
	minLatency time.Duration
	maxLatency time.Duration
}

// Option applies a configuration option to the SimulatedEngine.
type Option func(*SimulatedEngine)

// WithLatencyRange sets the simulated call latency range.
func WithLatencyRange(minLatency, maxLatency time.Duration) Option {
	return func(e *SimulatedEngine) {
		if minLatency > 0 && maxLatency > minLatency {
			e.minLatency = minLatency
			e.maxLatency = maxLatency
		}
	}
}

// NewSimulatedEngine creates a simulated engine with configuration options.
func NewSimulatedEngine(opts ...Option) *SimulatedEngine {
	e := &SimulatedEngine{
		minLatency: defaultMinLatency,
		maxLatency: defaultMaxLatency,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Review produces a deterministic pseudo-review derived from the input.
// The same (language, code) pair always yields the same payload, which
// keeps cache-hit behavior observable end to end.
func (e *SimulatedEngine) Review(ctx context.Context, language, code string) ([]byte, error) {
	sum := sha256.Sum256([]byte(language + "\x00" + code))
	seed := int64(binary.BigEndian.Uint64(sum[:8])) //nolint:gosec // content-derived seed, not security sensitive
	rng := rand.New(rand.NewSource(seed))           //nolint:gosec // deterministic output is the point

	latency := e.minLatency + time.Duration(rng.Int63n(int64(e.maxLatency-e.minLatency)))
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("engine call aborted: %w", ctx.Err())
	case <-time.After(latency):
	}

	payload := map[string]any{
		"score": 1 + rng.Intn(10),
		"issues": []map[string]string{
			{
				"title":    "line length",
				"detail":   "consider wrapping long expressions",
				"severity": []string{"low", "medium"}[rng.Intn(2)],
				"category": "style",
			},
		},
		"security":    []map[string]string{},
		"performance": []map[string]string{},
		"suggestions": []string{"add tests covering the error path"},
	}
	return json.Marshal(payload)
}

// HTTPEngine implements Reviewer against a real inference endpoint.
// Each worker owns its own HTTPEngine handle; the embedded http.Client
// pools connections internally, so handles are never shared across
// concurrent tasks without pooling.
type HTTPEngine struct {
	endpoint string
	client   *http.Client
}

// NewHTTPEngine creates an engine client for the given endpoint.
func NewHTTPEngine(endpoint string) *HTTPEngine {
	return &HTTPEngine{
		endpoint: endpoint,
		client:   &http.Client{},
	}
}

type reviewRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// Review posts the submission to the engine and returns the raw body.
// The per-attempt timeout arrives via ctx; an exceeded deadline surfaces
// as ErrTimeout so the worker can count it as a retryable attempt.
func (e *HTTPEngine) Review(ctx context.Context, language, code string) ([]byte, error) {
	body, err := json.Marshal(reviewRequest{Language: language, Code: code})
	if err != nil {
		return nil, fmt.Errorf("encode engine request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build engine request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: engine returned status %d", ErrUnavailable, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read engine response: %w", err)
	}
	return raw, nil
}
