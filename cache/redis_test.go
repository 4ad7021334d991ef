package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisSimpleCache(t *testing.T) {
	_, client := newTestRedis(t)
	c := NewRedis(client, WithPrefix("test"))
	assert.NoError(t, c.Close())
	assert.NoError(t, client.Ping(context.Background()).Err(), "Close must not close the caller's client")
}

func TestRedisSetGetCache(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	c := NewRedis(client, WithPrefix("test"))

	found, val, err := c.Get(ctx, "key")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)

	payload := []byte{0x81, 0xa2, 'i', 'd', 0x00, 0xff}
	assert.NoError(t, c.Set(ctx, "key", payload, time.Minute))
	found, val, err = c.Get(ctx, "key")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, payload, val)
}

func TestRedisPrefixAndTTL(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	c := NewRedis(client, WithPrefix("items"))

	assert.NoError(t, c.Set(ctx, "row:1", []byte("v"), 5*time.Second))
	assert.True(t, mr.Exists("items:row:1"))
	assert.Equal(t, 5*time.Second, mr.TTL("items:row:1"))

	assert.NoError(t, c.Set(ctx, "row:2", []byte("v"), 0))
	assert.Equal(t, DefaultExpires, mr.TTL("items:row:2"))
}

func TestRedisCacheExpiry(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	c := NewRedis(client)

	assert.NoError(t, c.Set(ctx, "key", []byte("value"), 2*time.Second))
	found, _, err := c.Get(ctx, "key")
	assert.NoError(t, err)
	assert.True(t, found)

	mr.FastForward(3 * time.Second)

	found, val, err := c.Get(ctx, "key")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)
	assert.False(t, mr.Exists("key"), "a miss must not recreate the hash")
}

func TestRedisCacheExpireMethod(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	c := NewRedis(client, WithPrefix("test"))

	assert.NoError(t, c.Set(ctx, "key", []byte("value"), time.Minute))
	found, err := c.Expire(ctx, "key")
	assert.NoError(t, err)
	assert.True(t, found)

	found, _, err = c.Get(ctx, "key")
	assert.NoError(t, err)
	assert.False(t, found)

	found, err = c.Expire(ctx, "nonexistent")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestRedisCacheHits(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	c := NewRedis(client, WithPrefix("test"))

	ok, hits := c.Hits(ctx, "key")
	assert.False(t, ok)
	assert.Equal(t, 0, hits)

	assert.NoError(t, c.Set(ctx, "key", []byte("value"), time.Minute))

	ok, hits = c.Hits(ctx, "key")
	assert.True(t, ok)
	assert.Equal(t, 0, hits)

	c.Get(ctx, "key")
	c.Get(ctx, "key")
	c.Get(ctx, "key")
	ok, hits = c.Hits(ctx, "key")
	assert.True(t, ok)
	assert.Equal(t, 3, hits)

	// replacing the entry resets the counter and keeps the TTL
	assert.NoError(t, c.Set(ctx, "key", []byte("other"), time.Minute))
	ok, hits = c.Hits(ctx, "key")
	assert.True(t, ok)
	assert.Equal(t, 0, hits)
}

func TestRedisUnavailable(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	c := NewRedis(client, WithQueryTimeout(100*time.Millisecond))
	mr.SetError("LOADING server is loading")

	found, val, err := c.Get(ctx, "key")
	require.Error(t, err)
	assert.False(t, found)
	assert.Nil(t, val)
	assert.Error(t, c.Set(ctx, "key", []byte("v"), time.Minute))
}
