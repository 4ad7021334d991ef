// Package config loads process settings from flags, the environment and an
// optional dotenv file, and validates them before any client is created.
package config

import (
	"time"

	"github.com/agentuity/readaside/cache"
	"github.com/agentuity/readaside/redact"
	"github.com/agentuity/readaside/resilience"
	"github.com/agentuity/readaside/store"
)

// Cache backends.
const (
	BackendMomento = "momento"
	BackendRedis   = "redis"
	BackendSQLite  = "sqlite"
	BackendMemory  = "memory"
)

type StoreConfig struct {
	Endpoint     string
	Region       string
	Port         int
	Database     string
	User         string
	Password     string
	SSLMode      string
	MaxConns     int
	QueryTimeout time.Duration
	Retries      int
}

type CacheConfig struct {
	Backend         string
	Name            string
	MomentoAPIKey   string
	RedisURL        string
	SQLitePath      string
	LocalTTL        time.Duration // in-process L1 in front of the backend; 0 disables
	TTL             time.Duration
	NegativeTTL     time.Duration
	GetTimeout      time.Duration
	SetTimeout      time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
	Codec           string
	MaxEntry        int
}

type ResolverConfig struct {
	CoalesceMisses bool
	AsyncPopulate  bool
}

type ServerConfig struct {
	ListenAddr string
}

type LogConfig struct {
	Level  string
	Format string
}

// Config is the full process configuration.
type Config struct {
	Store    StoreConfig
	Cache    CacheConfig
	Resolver ResolverConfig
	Server   ServerConfig
	Log      LogConfig
}

// StorePool returns the connection settings for store.NewPool.
func (c *Config) StorePool() store.Config {
	cfg := store.DefaultConfig(c.Store.Endpoint)
	cfg.Region = c.Store.Region
	cfg.Port = c.Store.Port
	cfg.Database = c.Store.Database
	cfg.User = c.Store.User
	cfg.Password = c.Store.Password
	cfg.SSLMode = c.Store.SSLMode
	cfg.MaxConns = int32(c.Store.MaxConns)
	return cfg
}

// Guard returns the timeout and breaker settings wrapped around the cache.
func (c *Config) Guard() cache.GuardConfig {
	return cache.GuardConfig{
		GetTimeout:  c.Cache.GetTimeout,
		SetTimeout:  c.Cache.SetTimeout,
		MaxFailures: c.Cache.BreakerFailures,
		Cooldown:    c.Cache.BreakerCooldown,
	}
}

// StoreRetry returns the retry policy for store reads.
func (c *Config) StoreRetry() resilience.RetryConfig {
	r := resilience.DefaultRetryConfig()
	r.MaxRetries = c.Store.Retries
	r.RetryableErrors = store.IsTransient
	return r
}

// LogFields returns the settings as log metadata with secrets masked.
func (c *Config) LogFields() map[string]interface{} {
	return map[string]interface{}{
		"store.endpoint":     c.Store.Endpoint,
		"store.region":       c.Store.Region,
		"store.user":         c.Store.User,
		"store.password":     redact.Secret(c.Store.Password),
		"store.sslmode":      c.Store.SSLMode,
		"store.retries":      c.Store.Retries,
		"cache.backend":      c.Cache.Backend,
		"cache.name":         c.Cache.Name,
		"cache.momento_key":  redact.Secret(c.Cache.MomentoAPIKey),
		"cache.redis_url":    redact.Secret(c.Cache.RedisURL),
		"cache.ttl":          c.Cache.TTL.String(),
		"cache.negative_ttl": c.Cache.NegativeTTL.String(),
		"cache.local_ttl":    c.Cache.LocalTTL.String(),
		"cache.codec":        c.Cache.Codec,
		"resolver.coalesce":  c.Resolver.CoalesceMisses,
		"resolver.async":     c.Resolver.AsyncPopulate,
		"server.listen_addr": c.Server.ListenAddr,
	}
}
