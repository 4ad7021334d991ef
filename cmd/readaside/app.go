package main

import (
	"context"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/agentuity/readaside/cache"
	"github.com/agentuity/readaside/codec"
	"github.com/agentuity/readaside/config"
	"github.com/agentuity/readaside/env"
	"github.com/agentuity/readaside/item"
	"github.com/agentuity/readaside/logger"
	"github.com/agentuity/readaside/metrics"
	"github.com/agentuity/readaside/resolver"
	"github.com/agentuity/readaside/store"
	"github.com/agentuity/readaside/telemetry"
	"github.com/agentuity/readaside/tui"
)

const serviceName = "readaside"

// app holds the process-wide clients. They are created once and shared by
// every request.
type app struct {
	ctx      context.Context
	cfg      *config.Config
	log      logger.Logger
	metrics  *metrics.Metrics
	store    *store.Store
	cache    cache.Cache
	resolver *resolver.Resolver
	closers  []func()
}

// newApp loads configuration and telemetry. Clients are added with
// withStore and withResolver.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(cmd)
	if err != nil {
		return nil, err
	}
	ctx, log, shutdown, err := env.NewTelemetry(cmd.Context(), cmd, serviceName)
	if err != nil {
		return nil, err
	}
	log.With(cfg.LogFields()).Debug("configuration loaded")
	a := &app{ctx: ctx, cfg: cfg, log: log, metrics: metrics.New()}
	a.closers = append(a.closers, shutdown)
	return a, nil
}

func (a *app) withStore() error {
	pc := a.cfg.StorePool()
	var tokens store.TokenProvider
	if pc.Password != "" {
		tokens = store.StaticPassword(pc.Password)
	} else {
		var err error
		if tokens, err = store.DSQLTokenProvider(a.ctx, pc); err != nil {
			return err
		}
	}
	pool, err := store.NewPool(a.ctx, pc, tokens, a.log.WithPrefix("[pgx]"))
	if err != nil {
		return err
	}
	a.store = store.New(pool, store.WithQueryTimeout(a.cfg.Store.QueryTimeout))
	a.closers = append(a.closers, a.store.Close)
	a.log.Debug("store pool for %s:%d/%s ready", pc.Endpoint, pc.Port, pc.Database)
	return nil
}

// newBackend opens the configured cache backend, fronted by an in-process
// layer when CACHE_LOCAL_TTL is set.
func (a *app) newBackend() (cache.Cache, error) {
	cc := a.cfg.Cache
	opts := []cache.Option{cache.WithExpires(cc.TTL)}

	var backend cache.Cache
	switch cc.Backend {
	case config.BackendMomento:
		c, err := cache.NewMomento(cc.MomentoAPIKey, cc.Name, opts...)
		if err != nil {
			return nil, err
		}
		backend = c
	case config.BackendRedis:
		ropts, err := redisOptions(cc.RedisURL)
		if err != nil {
			return nil, err
		}
		client := redis.NewClient(ropts)
		a.closers = append(a.closers, func() { client.Close() })
		if cc.Name != "" {
			opts = append(opts, cache.WithPrefix(cc.Name))
		}
		backend = cache.NewRedis(client, opts...)
	case config.BackendSQLite:
		c, err := cache.NewSQLite(a.ctx, cc.SQLitePath, opts...)
		if err != nil {
			return nil, err
		}
		backend = c
	case config.BackendMemory:
		backend = cache.NewInMemory(a.ctx, opts...)
	default:
		return nil, errors.Newf("unknown cache backend %q", cc.Backend)
	}

	if cc.LocalTTL > 0 && cc.Backend != config.BackendMemory {
		local := cache.NewInMemory(a.ctx, cache.WithExpires(cc.LocalTTL), cache.WithMaxExpires(cc.LocalTTL))
		backend = cache.NewCompositeWithBackfill(resolver.Backfill, local, backend)
	}
	return backend, nil
}

// redisOptions parses url with the client's own retries turned off. A failed
// cache call is already a miss, and the store read is retried by the resolver.
func redisOptions(url string) (*redis.Options, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse REDIS_URL")
	}
	ropts.MaxRetries = -1
	return ropts, nil
}

func (a *app) withResolver() error {
	if a.store == nil {
		if err := a.withStore(); err != nil {
			return err
		}
	}
	backend, err := a.newBackend()
	if err != nil {
		return errors.Wrapf(err, "open %s cache", a.cfg.Cache.Backend)
	}
	a.cache = cache.NewGuard(backend, a.cfg.Guard(), a.log)
	a.closers = append(a.closers, func() {
		if err := a.cache.Close(); err != nil {
			a.log.Warn("closing cache: %s", err)
		}
	})

	cdc, err := codec.New[item.Item](a.cfg.Cache.Codec, a.cfg.Cache.MaxEntry)
	if err != nil {
		return err
	}

	rc := resolver.DefaultConfig()
	rc.TTL = a.cfg.Cache.TTL
	rc.NegativeTTL = a.cfg.Cache.NegativeTTL
	rc.SetTimeout = a.cfg.Cache.SetTimeout
	rc.Retry = a.cfg.StoreRetry()
	rc.CoalesceMisses = a.cfg.Resolver.CoalesceMisses
	rc.AsyncPopulate = a.cfg.Resolver.AsyncPopulate

	a.resolver = resolver.New(a.cache, a.store, cdc, rc, a.log,
		resolver.WithMetrics(a.metrics),
		resolver.WithTracer(telemetry.Tracer()),
	)
	a.closers = append(a.closers, a.resolver.Wait)
	return nil
}

// Close releases clients in reverse order of creation: pending cache writes
// drain before the cache closes, and telemetry flushes last.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

var exit = os.Exit

// fail reports a startup error, closes what was opened so far and exits 1.
// Deferred calls do not run past os.Exit, so Close is called here.
func (a *app) fail(err error) {
	tui.ShowError("startup failed: %s", err)
	a.Close()
	exit(1)
}
