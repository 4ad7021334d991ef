package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// Cache stores opaque encoded entries under exact-match keys.
type Cache interface {
	// Get retrieves a value. A miss is (false, nil, nil); errors mean the
	// backend could not answer.
	Get(ctx context.Context, key string) (bool, []byte, error)

	// Set stores a value with a TTL, replacing any previous entry. If
	// expires <= 0, the cache's configured default TTL is used.
	Set(ctx context.Context, key string, val []byte, expires time.Duration) error

	// Hits returns the number of times a key has been read. Backends that do
	// not track hits return (false, 0).
	Hits(ctx context.Context, key string) (bool, int)

	// Expire removes a key from the cache.
	Expire(ctx context.Context, key string) (bool, error)

	// Close shuts down the cache.
	Close() error
}

// ErrUnavailable marks errors from a cache that could not be reached in time
// or whose circuit is open. Callers treat it as a miss.
var ErrUnavailable = errors.New("cache unavailable")

type value struct {
	object  []byte
	expires time.Time
	hits    int
}

// DefaultExpires is the default TTL used when Set is called with expires <= 0.
const DefaultExpires = 5 * time.Second

// DefaultQueryTimeout is the per-operation timeout for cache backends that
// perform I/O (SQLite, Redis, Momento).
const DefaultQueryTimeout = 5 * time.Second

// config holds the resolved configuration for a cache implementation.
type config struct {
	defaultExpires time.Duration
	maxExpires     time.Duration
	queryTimeout   time.Duration
	expiryCheck    time.Duration
	prefix         string
}

// Option configures a Cache implementation.
type Option func(*config)

func defaultConfig() config {
	return config{
		defaultExpires: DefaultExpires,
		queryTimeout:   DefaultQueryTimeout,
		expiryCheck:    time.Minute,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (c config) ttl(expires time.Duration) time.Duration {
	if expires <= 0 {
		expires = c.defaultExpires
	}
	if c.maxExpires > 0 && expires > c.maxExpires {
		expires = c.maxExpires
	}
	return expires
}

// WithExpires sets the default TTL for cached values. This is used when
// Set is called with expires <= 0. Defaults to DefaultExpires.
func WithExpires(d time.Duration) Option {
	return func(c *config) { c.defaultExpires = d }
}

// WithMaxExpires caps every TTL passed to Set. Used to keep a process-local
// layer fresher than the shared cache behind it.
func WithMaxExpires(d time.Duration) Option {
	return func(c *config) { c.maxExpires = d }
}

// WithQueryTimeout sets the per-operation timeout for I/O-backed caches.
// Defaults to DefaultQueryTimeout (5 seconds).
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithExpiryCheck sets the interval for background expired entry cleanup.
// Applies to InMemory and SQLite backends. Defaults to 1 minute.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}

// WithPrefix sets the key prefix for namespacing cache keys.
// Applies to the Redis backend. Defaults to empty (no prefix).
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}
