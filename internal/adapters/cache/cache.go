// Package cache provides the content-addressable store of prior review
// results.
//
// Keys are derived from a normalized fingerprint of (language, source
// text) plus a scope string, so identical submissions within a scope and
// TTL are served without a second engine invocation. The cache is an
// optimization only: eviction or absence can never produce a wrong
// answer, just a recomputation. Failed results are never stored.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/reviewd-dev/reviewd/internal/domain/model"
)

// DefaultScope is the shared public cache namespace. Per-tenant scoping
// slots into the same key shape without invalidating existing entries.
const DefaultScope = "public"

// Default cache configuration constants.
const (
	defaultTTL = 24 * time.Hour
)

// Cache stores and retrieves terminal review results by content.
type Cache interface {
	// Lookup returns the cached result for (language, code, scope),
	// or false on miss or expiry.
	Lookup(ctx context.Context, language, code, scope string) (*model.ReviewResult, bool, error)

	// Store records a completed result. Overwrite is unconditional.
	Store(ctx context.Context, language, code, scope string, result *model.ReviewResult, ttl time.Duration) error
}

// Fingerprint hashes the normalized (language, source) pair. The
// normalization mirrors what a reviewer considers "the same code":
// language is case-folded, the text is trimmed, and trailing whitespace
// per line is ignored.
func Fingerprint(language, code string) string {
	h := sha256.New()
	h.Write([]byte(normalize(language, code)))
	return hex.EncodeToString(h.Sum(nil))
}

func normalize(language, code string) string {
	lang := strings.ToLower(strings.TrimSpace(language))
	lines := strings.Split(strings.TrimSpace(code), "\n")
	for i, ln := range lines {
		lines[i] = strings.TrimRight(ln, " \t\r")
	}
	return lang + "\n" + strings.Join(lines, "\n")
}

// Key builds the cache key for a scope and fingerprint.
func Key(scope, fingerprint string) string {
	if scope == "" {
		scope = DefaultScope
	}
	return "review:codehash:" + scope + ":" + fingerprint
}

// Option applies a configuration option to the InMemoryCache.
type Option func(*InMemoryCache)

// WithDefaultTTL sets the TTL used when Store receives a zero ttl.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *InMemoryCache) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *InMemoryCache) {
		if now != nil {
			c.now = now
		}
	}
}

// InMemoryCache implements Cache with an expiry-stamped map. Expired
// entries are dropped lazily on read.
type InMemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	defaultTTL time.Duration
	now        func() time.Time
}

type entry struct {
	result    model.ReviewResult
	expiresAt time.Time
}

// NewInMemoryCache creates a cache with configuration options.
func NewInMemoryCache(opts ...Option) *InMemoryCache {
	c := &InMemoryCache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns the cached result or false on miss/expiry.
func (c *InMemoryCache) Lookup(_ context.Context, language, code, scope string) (*model.ReviewResult, bool, error) {
	key := Key(scope, Fingerprint(language, code))

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a Store may have raced us.
		if cur, still := c.entries[key]; still && c.now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}

	out := e.result
	return &out, true, nil
}

// Store records a completed result, overwriting any prior entry.
func (c *InMemoryCache) Store(_ context.Context, language, code, scope string, result *model.ReviewResult, ttl time.Duration) error {
	if result == nil {
		return ErrNilResult
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	key := Key(scope, Fingerprint(language, code))

	c.mu.Lock()
	c.entries[key] = entry{result: *result, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// Len returns the number of live entries, for stats.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
