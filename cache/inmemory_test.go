package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSimpleCache(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cache := NewInMemory(ctx, WithExpiryCheck(time.Second))
	cache.Close()
	cancel()
}

func TestSetGetCache(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cache := NewInMemory(ctx, WithExpiryCheck(time.Minute))
	defer cache.Close()

	found, val, err := cache.Get(ctx, "test")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)
	assert.NoError(t, cache.Set(ctx, "test", []byte("value"), time.Millisecond*10))
	found, val, err = cache.Get(ctx, "test")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("value"), val)
	ok, hits := cache.Hits(ctx, "test")
	assert.True(t, ok)
	assert.Equal(t, 1, hits)
	time.Sleep(time.Millisecond * 15)
	found, val, err = cache.Get(ctx, "test")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)
	ok, hits = cache.Hits(ctx, "test")
	assert.False(t, ok)
	assert.Equal(t, 0, hits)
}

func TestInMemorySetCopies(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemory(ctx)
	defer cache.Close()

	buf := []byte("original")
	assert.NoError(t, cache.Set(ctx, "k", buf, time.Minute))
	copy(buf, "mutated!")

	_, val, err := cache.Get(ctx, "k")
	assert.NoError(t, err)
	assert.Equal(t, []byte("original"), val)
}

func TestInMemoryReplaceResetsHits(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemory(ctx)
	defer cache.Close()

	assert.NoError(t, cache.Set(ctx, "k", []byte("a"), time.Minute))
	cache.Get(ctx, "k")
	cache.Get(ctx, "k")
	assert.NoError(t, cache.Set(ctx, "k", []byte("b"), time.Minute))

	ok, hits := cache.Hits(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, 0, hits)
	_, val, _ := cache.Get(ctx, "k")
	assert.Equal(t, []byte("b"), val)
}

func TestInMemoryDefaultAndMaxExpires(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemory(ctx, WithExpires(10*time.Millisecond), WithMaxExpires(20*time.Millisecond))
	defer cache.Close()

	assert.NoError(t, cache.Set(ctx, "default", []byte("v"), 0))
	assert.NoError(t, cache.Set(ctx, "capped", []byte("v"), time.Hour))
	time.Sleep(30 * time.Millisecond)

	found, _, err := cache.Get(ctx, "default")
	assert.NoError(t, err)
	assert.False(t, found)
	found, _, err = cache.Get(ctx, "capped")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestInMemoryExpire(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemory(ctx)
	defer cache.Close()

	assert.NoError(t, cache.Set(ctx, "k", []byte("v"), time.Minute))
	found, err := cache.Expire(ctx, "k")
	assert.NoError(t, err)
	assert.True(t, found)
	found, err = cache.Expire(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestInMemoryBackgroundSweep(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemory(ctx, WithExpiryCheck(5*time.Millisecond))
	defer cache.Close()

	assert.NoError(t, cache.Set(ctx, "k", []byte("v"), time.Millisecond))
	assert.Eventually(t, func() bool {
		ok, _ := cache.Hits(ctx, "k")
		return !ok
	}, time.Second, 5*time.Millisecond)
}
