package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/momentohq/client-sdk-go/auth"
	momentoconfig "github.com/momentohq/client-sdk-go/config"
	momentolog "github.com/momentohq/client-sdk-go/config/logger"
	"github.com/momentohq/client-sdk-go/config/retry"
	"github.com/momentohq/client-sdk-go/momento"
	"github.com/momentohq/client-sdk-go/responses"
)

// MomentoClient is the subset of momento.CacheClient used by the cache.
type MomentoClient interface {
	Get(ctx context.Context, r *momento.GetRequest) (responses.GetResponse, error)
	Set(ctx context.Context, r *momento.SetRequest) (responses.SetResponse, error)
	Delete(ctx context.Context, r *momento.DeleteRequest) (responses.DeleteResponse, error)
	Close()
}

type momentoCache struct {
	client    MomentoClient
	cacheName string
	cfg       config
}

var _ Cache = (*momentoCache)(nil)

// NewMomento connects to Momento with apiKey and returns a Cache storing
// entries in cacheName, which must already exist.
func NewMomento(apiKey, cacheName string, opts ...Option) (Cache, error) {
	if apiKey == "" {
		return nil, errors.New("momento: api key is required")
	}
	if cacheName == "" {
		return nil, errors.New("momento: cache name is required")
	}
	cfg := applyOptions(opts)
	creds, err := auth.NewStringMomentoTokenProvider(apiKey)
	if err != nil {
		return nil, errors.Wrap(err, "momento credentials")
	}
	client, err := momento.NewCacheClient(momentoConfig(), creds, cfg.defaultExpires)
	if err != nil {
		return nil, errors.Wrap(err, "momento client")
	}
	return &momentoCache{client: client, cacheName: cacheName, cfg: cfg}, nil
}

// momentoMaxRetries caps the SDK's own retries. The resolver treats a slow
// cache as a miss, so a lookup must not queue behind several attempts.
const momentoMaxRetries = 1

func momentoConfig() momentoconfig.Configuration {
	return momentoconfig.InRegionLatest().WithRetryStrategy(
		retry.NewFixedCountRetryStrategy(retry.FixedCountRetryStrategyProps{
			LoggerFactory: momentolog.NewNoopMomentoLoggerFactory(),
			MaxAttempts:   momentoMaxRetries,
		}),
	)
}

// NewMomentoWithClient wraps an existing client. Close closes the client.
func NewMomentoWithClient(client MomentoClient, cacheName string, opts ...Option) Cache {
	return &momentoCache{client: client, cacheName: cacheName, cfg: applyOptions(opts)}
}

func (c *momentoCache) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.cfg.queryTimeout)
}

func (c *momentoCache) Get(ctx context.Context, key string) (bool, []byte, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	resp, err := c.client.Get(qctx, &momento.GetRequest{
		CacheName: c.cacheName,
		Key:       momento.String(key),
	})
	if err != nil {
		return false, nil, errors.Wrapf(err, "momento get %s", key)
	}
	switch r := resp.(type) {
	case *responses.GetHit:
		return true, r.ValueByte(), nil
	case *responses.GetMiss:
		return false, nil, nil
	default:
		return false, nil, errors.Newf("momento get %s: unexpected response %T", key, resp)
	}
}

func (c *momentoCache) Set(ctx context.Context, key string, val []byte, expires time.Duration) error {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	_, err := c.client.Set(qctx, &momento.SetRequest{
		CacheName: c.cacheName,
		Key:       momento.String(key),
		Value:     momento.Bytes(val),
		Ttl:       c.cfg.ttl(expires),
	})
	return errors.Wrapf(err, "momento set %s", key)
}

// Hits is not tracked by Momento.
func (c *momentoCache) Hits(context.Context, string) (bool, int) {
	return false, 0
}

// Expire deletes the key. Momento does not report whether the key existed,
// so a successful delete reports true.
func (c *momentoCache) Expire(ctx context.Context, key string) (bool, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	if _, err := c.client.Delete(qctx, &momento.DeleteRequest{
		CacheName: c.cacheName,
		Key:       momento.String(key),
	}); err != nil {
		return false, errors.Wrapf(err, "momento delete %s", key)
	}
	return true, nil
}

func (c *momentoCache) Close() error {
	c.client.Close()
	return nil
}
