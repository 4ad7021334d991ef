package config

import (
	"github.com/cockroachdb/errors"

	"github.com/agentuity/readaside/logger"
)

// Validate returns the first missing or out of range setting.
func (c *Config) Validate() error {
	if c.Store.Endpoint == "" {
		return errors.New("CLUSTER_ENDPOINT is required")
	}
	if c.Store.Port <= 0 || c.Store.Port > 65535 {
		return errors.Newf("STORE_PORT %d is out of range", c.Store.Port)
	}
	if c.Store.MaxConns < 1 {
		return errors.New("STORE_MAX_CONNS must be at least 1")
	}
	if c.Store.QueryTimeout <= 0 {
		return errors.New("STORE_QUERY_TIMEOUT must be positive")
	}
	if c.Store.Retries < 0 || c.Store.Retries > 1 {
		return errors.Newf("STORE_RETRIES must be 0 or 1, got %d", c.Store.Retries)
	}

	switch c.Cache.Backend {
	case BackendMomento:
		if c.Cache.Name == "" {
			return errors.New("CACHE_NAME is required for the momento backend")
		}
		if c.Cache.MomentoAPIKey == "" {
			return errors.New("MOMENTO_API_KEY is required for the momento backend")
		}
	case BackendRedis:
		if c.Cache.Name == "" {
			return errors.New("CACHE_NAME is required for the redis backend")
		}
		if c.Cache.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis backend")
		}
	case BackendSQLite:
		if c.Cache.SQLitePath == "" {
			return errors.New("CACHE_SQLITE_PATH is required for the sqlite backend")
		}
	case BackendMemory:
	default:
		return errors.Newf("unknown CACHE_BACKEND %q", c.Cache.Backend)
	}

	switch c.Cache.Codec {
	case "msgpack", "cbor", "json":
	default:
		return errors.Newf("unknown CACHE_CODEC %q", c.Cache.Codec)
	}
	if c.Cache.TTL <= 0 {
		return errors.New("CACHE_TTL must be positive")
	}
	if c.Cache.NegativeTTL < 0 || c.Cache.NegativeTTL > c.Cache.TTL {
		return errors.New("NEGATIVE_TTL must be between 0 and CACHE_TTL")
	}
	if c.Cache.LocalTTL < 0 || c.Cache.LocalTTL > c.Cache.TTL {
		return errors.New("CACHE_LOCAL_TTL must be between 0 and CACHE_TTL")
	}
	if c.Cache.GetTimeout <= 0 || c.Cache.SetTimeout <= 0 {
		return errors.New("CACHE_GET_TIMEOUT and CACHE_SET_TIMEOUT must be positive")
	}
	if c.Cache.BreakerFailures < 1 {
		return errors.New("CACHE_BREAKER_FAILURES must be at least 1")
	}
	if c.Cache.BreakerCooldown <= 0 {
		return errors.New("CACHE_BREAKER_COOLDOWN must be positive")
	}
	if c.Cache.MaxEntry < 0 {
		return errors.New("CACHE_MAX_ENTRY must not be negative")
	}

	if c.Server.ListenAddr == "" {
		return errors.New("LISTEN_ADDR is required")
	}
	if _, ok := logger.ParseLevel(c.Log.Level); !ok {
		return errors.Newf("unknown LOG_LEVEL %q", c.Log.Level)
	}
	return nil
}
