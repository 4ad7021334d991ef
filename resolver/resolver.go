// Package resolver implements the cache-aside read: look the key up in the
// cache, fall back to the store on a miss, and repopulate the cache with a
// TTL. Cache problems degrade to a miss; store problems fail the read after at
// most one retry.
package resolver

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/singleflight"

	"github.com/agentuity/readaside/cache"
	"github.com/agentuity/readaside/codec"
	"github.com/agentuity/readaside/item"
	"github.com/agentuity/readaside/logger"
	"github.com/agentuity/readaside/metrics"
	"github.com/agentuity/readaside/resilience"
	"github.com/agentuity/readaside/store"
)

// ErrStoreUnavailable is returned when the store could not answer. The cause
// stays reachable with errors.Is / errors.As.
var ErrStoreUnavailable = errors.New("backend unavailable")

// tombstone is the cache value recorded for an id the store does not have.
// No codec output starts with a NUL byte.
var tombstone = []byte("\x00readaside:absent")

// IsTombstone reports whether val is the not-found marker.
func IsTombstone(val []byte) bool {
	return bytes.Equal(val, tombstone)
}

// Backfill is the cache.Backfill policy for layered caches: rows are copied
// into faster layers, not-found markers are not. A marker carries
// NegativeTTL, which a faster layer's default TTL would outlive.
func Backfill(_ string, val []byte) (time.Duration, bool) {
	return 0, !IsTombstone(val)
}

// Source says where a result came from.
type Source string

const (
	SourceCache Source = "cache"
	SourceStore Source = "store"
)

// Result is the outcome of a read. Found is false when the row does not exist.
type Result struct {
	Item   item.Item
	Found  bool
	Source Source
}

// ItemStore is the read side of the store.
type ItemStore interface {
	Get(ctx context.Context, id uuid.UUID) (item.Item, bool, error)
}

var _ ItemStore = (*store.Store)(nil)

type Config struct {
	// TTL of a cached row.
	TTL time.Duration
	// NegativeTTL of a not-found marker. Zero disables negative caching.
	NegativeTTL time.Duration
	// SetTimeout bounds one cache write, which runs detached from the caller.
	SetTimeout time.Duration
	// Retry governs store reads. Only transient failures should be retryable.
	Retry resilience.RetryConfig
	// CoalesceMisses shares one store read between concurrent misses of a key.
	CoalesceMisses bool
	// AsyncPopulate writes the cache after returning the result.
	AsyncPopulate bool
}

// DefaultConfig returns a 5s TTL, no negative caching, a 500ms set timeout,
// one retry of transient store failures and asynchronous population.
func DefaultConfig() Config {
	retry := resilience.DefaultRetryConfig()
	retry.RetryableErrors = store.IsTransient
	return Config{
		TTL:           cache.DefaultExpires,
		SetTimeout:    500 * time.Millisecond,
		Retry:         retry,
		AsyncPopulate: true,
	}
}

type Option func(*Resolver)

// WithMetrics records lookup, query and populate outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithTracer sets the tracer used for the per-step spans.
func WithTracer(t trace.Tracer) Option {
	return func(r *Resolver) { r.tracer = t }
}

// Resolver is safe for concurrent use.
type Resolver struct {
	cache   cache.Cache
	store   ItemStore
	codec   codec.Codec[item.Item]
	cfg     Config
	log     logger.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	group   singleflight.Group
	pending sync.WaitGroup
}

func New(c cache.Cache, s ItemStore, cdc codec.Codec[item.Item], cfg Config, log logger.Logger, opts ...Option) *Resolver {
	if cfg.TTL <= 0 {
		cfg.TTL = cache.DefaultExpires
	}
	r := &Resolver{
		cache:  c,
		store:  s,
		codec:  cdc,
		cfg:    cfg,
		log:    log.WithPrefix("[resolver]"),
		tracer: noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type fetched struct {
	item  item.Item
	found bool
}

// Resolve returns the row for key.
func (r *Resolver) Resolve(ctx context.Context, key item.Key) (Result, error) {
	id, err := key.ID()
	if err != nil {
		return Result{}, err
	}

	if res, ok := r.lookup(ctx, key, id); ok {
		return res, nil
	}

	var f fetched
	if r.cfg.CoalesceMisses {
		f, err = r.fetchShared(ctx, key, id)
	} else {
		f, err = r.fetch(ctx, key, id)
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Item: f.item, Found: f.found, Source: SourceStore}, nil
}

// lookup consults the cache. ok is false when the store must be asked.
func (r *Resolver) lookup(ctx context.Context, key item.Key, id uuid.UUID) (Result, bool) {
	ctx, span := r.tracer.Start(ctx, "Query Cache", trace.WithAttributes(attribute.String("cache.key", key.String())))
	defer span.End()

	found, val, err := r.cache.Get(ctx, key.String())
	switch {
	case err != nil:
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			span.SetAttributes(attribute.String("cache.result", "canceled"))
			return Result{}, false
		}
		r.metrics.CacheLookup(metrics.LookupDegraded)
		span.SetAttributes(attribute.String("cache.result", metrics.LookupDegraded))
		span.RecordError(err)
		r.log.WithContext(ctx).Warn("cache lookup failed for %s, reading from store: %s", key, err)
		return Result{}, false
	case !found:
		r.metrics.CacheLookup(metrics.LookupMiss)
		span.SetAttributes(attribute.String("cache.result", metrics.LookupMiss))
		r.log.WithContext(ctx).Debug("cache miss %s", key)
		return Result{}, false
	case IsTombstone(val):
		r.metrics.CacheLookup(metrics.LookupNegative)
		span.SetAttributes(attribute.String("cache.result", metrics.LookupNegative))
		r.log.WithContext(ctx).Debug("cache hit %s (absent)", key)
		return Result{Found: false, Source: SourceCache}, true
	}

	it, err := r.codec.Decode(val)
	if err == nil && it.ID != id {
		err = errors.Newf("entry holds id %s", it.ID)
	}
	if err != nil {
		r.metrics.CacheLookup(metrics.LookupCorrupt)
		span.SetAttributes(attribute.String("cache.result", metrics.LookupCorrupt))
		r.log.WithContext(ctx).Warn("discarding corrupt cache entry %s: %s", key, err)
		return Result{}, false
	}
	r.metrics.CacheLookup(metrics.LookupHit)
	span.SetAttributes(attribute.String("cache.result", metrics.LookupHit))
	r.log.WithContext(ctx).Debug("cache hit %s", key)
	return Result{Item: it.Normalize(), Found: true, Source: SourceCache}, true
}

// fetchShared runs one fetch per key at a time. Waiters give up when their
// own context ends; the shared fetch runs on a context detached from any
// single caller.
func (r *Resolver) fetchShared(ctx context.Context, key item.Key, id uuid.UUID) (fetched, error) {
	ch := r.group.DoChan(key.String(), func() (interface{}, error) {
		return r.fetch(context.WithoutCancel(ctx), key, id)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return fetched{}, res.Err
		}
		if res.Shared {
			r.log.WithContext(ctx).Trace("shared store read for %s", key)
		}
		return res.Val.(fetched), nil
	case <-ctx.Done():
		return fetched{}, errors.Wrapf(ctx.Err(), "waiting for %s", key)
	}
}

// fetch reads the row from the store and schedules the cache write.
func (r *Resolver) fetch(ctx context.Context, key item.Key, id uuid.UUID) (fetched, error) {
	qctx, span := r.tracer.Start(ctx, "Store Query", trace.WithAttributes(attribute.String("db.table", store.Table)))
	var f fetched
	attempts := 0
	err := resilience.Retry(qctx, r.cfg.Retry, func() error {
		attempts++
		var err error
		f.item, f.found, err = r.store.Get(qctx, id)
		return err
	})
	span.SetAttributes(attribute.Int("db.attempts", attempts))
	if attempts > 1 {
		r.metrics.StoreQuery(metrics.QueryRetried)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store query failed")
		span.End()
		if store.Classify(err) == store.KindCanceled {
			return fetched{}, errors.Wrapf(err, "query %s", key)
		}
		r.metrics.StoreQuery(metrics.QueryUnavailable)
		r.log.WithContext(ctx).Error("store query for %s failed after %d attempt(s) (%s): %s", key, attempts, store.Classify(err), err)
		return fetched{}, errors.Mark(errors.Wrapf(err, "query %s", key), ErrStoreUnavailable)
	}
	span.SetAttributes(attribute.Bool("db.found", f.found))
	span.End()

	if !f.found {
		r.metrics.StoreQuery(metrics.QueryNotFound)
		r.log.WithContext(ctx).Debug("%s not found", key)
		if r.cfg.NegativeTTL > 0 {
			r.populate(ctx, key, tombstone, r.cfg.NegativeTTL)
		}
		return f, nil
	}

	r.metrics.StoreQuery(metrics.QueryFound)
	f.item = f.item.Normalize()
	val, err := r.codec.Encode(f.item)
	if err != nil {
		r.metrics.CachePopulate(metrics.PopulateSkipped)
		if errors.Is(err, codec.ErrTooLarge) {
			r.log.WithContext(ctx).Warn("not caching %s: %s", key, err)
		} else {
			r.log.WithContext(ctx).Error("encode %s for the cache: %s", key, err)
		}
		return f, nil
	}
	r.populate(ctx, key, val, r.cfg.TTL)
	return f, nil
}

// populate writes val best-effort. The write survives the caller going away
// and is bounded by the set timeout.
func (r *Resolver) populate(ctx context.Context, key item.Key, val []byte, ttl time.Duration) {
	ctx = context.WithoutCancel(ctx)
	if !r.cfg.AsyncPopulate {
		r.write(ctx, key, val, ttl)
		return
	}
	r.pending.Add(1)
	r.metrics.PopulateStarted()
	go func() {
		defer r.pending.Done()
		defer r.metrics.PopulateDone()
		r.write(ctx, key, val, ttl)
	}()
}

func (r *Resolver) write(ctx context.Context, key item.Key, val []byte, ttl time.Duration) {
	if r.cfg.SetTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.SetTimeout)
		defer cancel()
	}
	ctx, span := r.tracer.Start(ctx, "Write Cache", trace.WithAttributes(
		attribute.String("cache.key", key.String()),
		attribute.Int64("cache.ttl_ms", ttl.Milliseconds()),
	))
	defer span.End()

	if err := r.cache.Set(ctx, key.String(), val, ttl); err != nil {
		r.metrics.CachePopulate(metrics.PopulateFailed)
		span.RecordError(err)
		r.log.WithContext(ctx).Warn("cache populate for %s failed: %s", key, err)
		return
	}
	r.metrics.CachePopulate(metrics.PopulateOK)
}

// Wait blocks until every asynchronous cache write has finished.
func (r *Resolver) Wait() {
	r.pending.Wait()
}
