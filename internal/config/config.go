// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Keep fields unexported where possible and use functional options.
// - Provide New(...Option) initializer to build a Config with defaults.
// - All future functions must accept context.Context as the first parameter.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"context"
	"runtime"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the work queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of review workers.
	WorkerCount int `koanf:"worker_count"`

	// RedisAddr selects Redis-backed queue, cache, limiter and bus when
	// set; empty keeps everything in process memory.
	RedisAddr string `koanf:"redis_addr"`

	// EngineEndpoint points at an external review engine. Empty selects
	// the built-in simulated engine.
	EngineEndpoint string `koanf:"engine_endpoint"`

	// EngineTimeoutMS bounds each engine call.
	EngineTimeoutMS int `koanf:"engine_timeout_ms"`

	// EngineMaxAttempts caps engine calls per submission.
	EngineMaxAttempts int `koanf:"engine_max_attempts"`

	// EngineBackoffMS is the base delay between engine retries.
	EngineBackoffMS int `koanf:"engine_backoff_ms"`

	// EngineLatencyMinMS and EngineLatencyMaxMS bound the simulated
	// engine's latency.
	EngineLatencyMinMS int `koanf:"engine_latency_min_ms"`
	EngineLatencyMaxMS int `koanf:"engine_latency_max_ms"`

	// RateLimit caps submissions per client per window.
	RateLimit int `koanf:"rate_limit"`

	// RateWindowMinutes sets the fixed rate limit window length.
	RateWindowMinutes int `koanf:"rate_window_minutes"`

	// TrustProxyHeaders makes client identification honor X-Forwarded-For.
	TrustProxyHeaders bool `koanf:"trust_proxy_headers"`

	// CacheTTLMinutes sets how long completed results stay cached.
	CacheTTLMinutes int `koanf:"cache_ttl_minutes"`

	// CacheScope partitions the result cache.
	CacheScope string `koanf:"cache_scope"`

	// SSEPingMS sets the stream keepalive interval.
	SSEPingMS int `koanf:"sse_ping_ms"`

	// MaxCodeBytes caps the accepted code payload size.
	MaxCodeBytes int `koanf:"max_code_bytes"`

	// MaxPageSize caps GET /reviews?limit.
	MaxPageSize int `koanf:"max_page_size"`
}

// New creates a Config using provided options. Context is accepted first to
// satisfy the project-wide convention; it is reserved for future use (e.g.,
// loading from env/files) and is currently unused.
func New(_ context.Context) *Config {
	c := &Config{
		LogLevel:           "info",
		Addr:               ":8080",
		QueueSize:          10_000,
		WorkerCount:        runtime.NumCPU() * 2,
		RedisAddr:          "",
		EngineEndpoint:     "",
		EngineTimeoutMS:    30_000,
		EngineMaxAttempts:  3,
		EngineBackoffMS:    200,
		EngineLatencyMinMS: 80,
		EngineLatencyMaxMS: 150,
		RateLimit:          10,
		RateWindowMinutes:  60,
		TrustProxyHeaders:  false,
		CacheTTLMinutes:    24 * 60,
		CacheScope:         "public",
		SSEPingMS:          15_000,
		MaxCodeBytes:       1 << 20,
		MaxPageSize:        100,
	}
	return c
}
