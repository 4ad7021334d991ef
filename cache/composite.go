package cache

import (
	"context"
	"time"
)

// Backfill decides whether a value found in a lower layer is copied into the
// layers above it, and with which TTL. A TTL <= 0 uses each layer's default.
type Backfill func(key string, val []byte) (ttl time.Duration, ok bool)

// BackfillAll copies every hit with the upper layers' default TTL.
func BackfillAll(string, []byte) (time.Duration, bool) { return 0, true }

type compositeCache struct {
	caches   []Cache
	backfill Backfill
}

var _ Cache = (*compositeCache)(nil)

// NewComposite returns a Cache that chains multiple caches together.
// Get checks caches in order and returns the first hit, copying it into the
// layers that missed. Set writes to all caches.
// At least one cache must be provided; panics if empty.
func NewComposite(caches ...Cache) Cache {
	return NewCompositeWithBackfill(BackfillAll, caches...)
}

// NewCompositeWithBackfill is NewComposite with a policy for copying lower
// layer hits upwards.
func NewCompositeWithBackfill(backfill Backfill, caches ...Cache) Cache {
	if len(caches) == 0 {
		panic("cache: NewComposite requires at least one cache")
	}
	if backfill == nil {
		backfill = BackfillAll
	}
	return &compositeCache{caches: caches, backfill: backfill}
}

func (c *compositeCache) Get(ctx context.Context, key string) (bool, []byte, error) {
	for i, cache := range c.caches {
		found, val, err := cache.Get(ctx, key)
		if err != nil {
			return false, nil, err
		}
		if found {
			if ttl, ok := c.backfill(key, val); ok {
				for _, upper := range c.caches[:i] {
					_ = upper.Set(ctx, key, val, ttl)
				}
			}
			return true, val, nil
		}
	}
	return false, nil, nil
}

func (c *compositeCache) Set(ctx context.Context, key string, val []byte, expires time.Duration) error {
	var firstErr error
	for _, cache := range c.caches {
		if err := cache.Set(ctx, key, val, expires); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *compositeCache) Hits(ctx context.Context, key string) (bool, int) {
	for _, cache := range c.caches {
		if found, hits := cache.Hits(ctx, key); found {
			return true, hits
		}
	}
	return false, 0
}

func (c *compositeCache) Expire(ctx context.Context, key string) (bool, error) {
	anyFound := false
	for _, cache := range c.caches {
		found, err := cache.Expire(ctx, key)
		if err != nil {
			return anyFound, err
		}
		if found {
			anyFound = true
		}
	}
	return anyFound, nil
}

func (c *compositeCache) Close() error {
	var firstErr error
	for _, cache := range c.caches {
		if err := cache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
