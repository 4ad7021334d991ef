package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// getAndCount reads the value field and bumps the hit counter only when the
// entry still exists, so an expiring key is never resurrected without a TTL.
var getAndCount = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'v')
if v then redis.call('HINCRBY', KEYS[1], 'h', 1) end
return v
`)

type redisCache struct {
	client redis.UniversalClient
	cfg    config
}

var _ Cache = (*redisCache)(nil)

// NewRedis returns a new Cache backed by Redis.
// The caller owns the client lifecycle; Close is a no-op on the client.
func NewRedis(client redis.UniversalClient, opts ...Option) Cache {
	return &redisCache{
		client: client,
		cfg:    applyOptions(opts),
	}
}

func (c *redisCache) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.cfg.queryTimeout)
}

func (c *redisCache) prefixKey(key string) string {
	if c.cfg.prefix == "" {
		return key
	}
	return c.cfg.prefix + ":" + key
}

func (c *redisCache) Get(ctx context.Context, key string) (bool, []byte, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	data, err := getAndCount.Run(qctx, c.client, []string{c.prefixKey(key)}).Text()
	if errors.Is(err, redis.Nil) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, errors.Wrapf(err, "redis get %s", key)
	}
	return true, []byte(data), nil
}

func (c *redisCache) Set(ctx context.Context, key string, val []byte, expires time.Duration) error {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	k := c.prefixKey(key)
	pipe := c.client.TxPipeline()
	pipe.Del(qctx, k)
	pipe.HSet(qctx, k, "v", val, "h", 0)
	pipe.PExpire(qctx, k, c.cfg.ttl(expires))
	if _, err := pipe.Exec(qctx); err != nil {
		return errors.Wrapf(err, "redis set %s", key)
	}
	return nil
}

func (c *redisCache) Hits(ctx context.Context, key string) (bool, int) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	hits, err := c.client.HGet(qctx, c.prefixKey(key), "h").Int()
	if err != nil {
		return false, 0
	}
	return true, hits
}

func (c *redisCache) Expire(ctx context.Context, key string) (bool, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	result, err := c.client.Del(qctx, c.prefixKey(key)).Result()
	if err != nil {
		return false, errors.Wrapf(err, "redis del %s", key)
	}
	return result > 0, nil
}

// Close is a no-op; the caller owns the client lifecycle.
func (c *redisCache) Close() error {
	return nil
}
