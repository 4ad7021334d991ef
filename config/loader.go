package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/xhit/go-str2duration/v2"

	"github.com/agentuity/readaside/env"
	"github.com/agentuity/readaside/sys"
)

// setting is one configuration key. The environment variable is the
// upper-cased key and the flag is the key with dashes.
type setting struct {
	key   string
	def   any
	usage string
}

var settings = []setting{
	{"cluster_endpoint", "", "cluster hostname"},
	{"aws_region", "us-east-1", "cluster region, used to sign auth tokens"},
	{"store_port", 5432, "cluster port"},
	{"store_database", "postgres", "database name"},
	{"store_user", "admin", "database user"},
	{"store_password", "", "static password; when empty an IAM auth token is generated per connection"},
	{"store_sslmode", "", "libpq sslmode (default verify-full, disable for localhost)"},
	{"store_max_conns", 10, "maximum pooled connections"},
	{"store_query_timeout", "2s", "timeout for one store query"},
	{"store_retries", 1, "retries of a transient store failure (0 or 1)"},
	{"cache_backend", BackendMomento, "cache backend: momento, redis, sqlite or memory"},
	{"cache_name", "", "momento cache name, or key prefix for redis"},
	{"momento_api_key", "", "momento api key"},
	{"redis_url", "", "redis url"},
	{"cache_sqlite_path", ":memory:", "sqlite cache file"},
	{"cache_local_ttl", "0s", "ttl of an in-process cache in front of the backend, 0 disables"},
	{"cache_ttl", "5s", "ttl of a cached row"},
	{"negative_ttl", "0s", "ttl of a not-found marker, 0 disables negative caching"},
	{"cache_get_timeout", "250ms", "timeout for one cache lookup"},
	{"cache_set_timeout", "500ms", "timeout for one cache write"},
	{"cache_breaker_failures", 5, "consecutive cache failures before lookups are skipped"},
	{"cache_breaker_cooldown", "10s", "how long lookups are skipped once the breaker opens"},
	{"cache_codec", "msgpack", "cache entry encoding: msgpack, cbor or json"},
	{"cache_max_entry", 1 << 20, "largest cache entry decoded, in bytes"},
	{"coalesce_misses", false, "share one store query between concurrent misses of a key"},
	{"async_populate", true, "write the cache after responding"},
	{"listen_addr", ":8080", "http listen address"},
	{"log_level", "info", "log level"},
	{"log_format", "json", "log format: json or console"},
}

func flagName(key string) string { return strings.ReplaceAll(key, "_", "-") }

// RegisterFlags adds a flag for every configuration key, plus --env-file.
// Flags left unset fall back to the environment, then to the defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("env-file", "", "dotenv file loaded into the environment before reading settings")
	for _, s := range settings {
		name := flagName(s.key)
		if fs.Lookup(name) != nil {
			continue
		}
		switch d := s.def.(type) {
		case bool:
			fs.Bool(name, d, s.usage)
		default:
			fs.String(name, "", s.usage)
		}
	}
}

type reader struct {
	v    *viper.Viper
	errs []error
}

func (r *reader) str(key string) string {
	return strings.TrimSpace(r.v.GetString(key))
}

func (r *reader) int(key string) int {
	raw := r.str(key)
	n, err := strconv.Atoi(raw)
	if err != nil {
		r.errs = append(r.errs, errors.Newf("%s: %q is not an integer", strings.ToUpper(key), raw))
	}
	return n
}

func (r *reader) bool(key string) bool {
	raw := r.str(key)
	b, err := strconv.ParseBool(raw)
	if err != nil {
		r.errs = append(r.errs, errors.Newf("%s: %q is not a boolean", strings.ToUpper(key), raw))
	}
	return b
}

func (r *reader) duration(key string) time.Duration {
	raw := r.str(key)
	d, err := str2duration.ParseDuration(raw)
	if err != nil {
		r.errs = append(r.errs, errors.Wrapf(err, "%s", strings.ToUpper(key)))
	}
	return d
}

// Load reads the configuration for cmd. Precedence is flag, environment,
// default. An --env-file is exported into the environment first without
// overriding variables that are already set.
func Load(cmd *cobra.Command) (*Config, error) {
	if fn := env.FlagOrEnv(cmd, "env-file", "ENV_FILE", ""); fn != "" {
		if _, err := env.LoadEnvFile(fn, false); err != nil {
			return nil, errors.Wrap(err, "load env file")
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	for _, s := range settings {
		v.SetDefault(s.key, s.def)
		if f := cmd.Flags().Lookup(flagName(s.key)); f != nil {
			if err := v.BindPFlag(s.key, f); err != nil {
				return nil, errors.Wrapf(err, "bind flag %s", f.Name)
			}
		}
	}
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	r := &reader{v: v}
	cfg := &Config{
		Store: StoreConfig{
			Endpoint:     r.str("cluster_endpoint"),
			Region:       r.str("aws_region"),
			Port:         r.int("store_port"),
			Database:     r.str("store_database"),
			User:         r.str("store_user"),
			Password:     v.GetString("store_password"),
			SSLMode:      r.str("store_sslmode"),
			MaxConns:     r.int("store_max_conns"),
			QueryTimeout: r.duration("store_query_timeout"),
			Retries:      r.int("store_retries"),
		},
		Cache: CacheConfig{
			Backend:         strings.ToLower(r.str("cache_backend")),
			Name:            r.str("cache_name"),
			MomentoAPIKey:   r.str("momento_api_key"),
			RedisURL:        r.str("redis_url"),
			SQLitePath:      r.str("cache_sqlite_path"),
			LocalTTL:        r.duration("cache_local_ttl"),
			TTL:             r.duration("cache_ttl"),
			NegativeTTL:     r.duration("negative_ttl"),
			GetTimeout:      r.duration("cache_get_timeout"),
			SetTimeout:      r.duration("cache_set_timeout"),
			BreakerFailures: r.int("cache_breaker_failures"),
			BreakerCooldown: r.duration("cache_breaker_cooldown"),
			Codec:           strings.ToLower(r.str("cache_codec")),
			MaxEntry:        r.int("cache_max_entry"),
		},
		Resolver: ResolverConfig{
			CoalesceMisses: r.bool("coalesce_misses"),
			AsyncPopulate:  r.bool("async_populate"),
		},
		Server: ServerConfig{ListenAddr: r.str("listen_addr")},
		Log:    LogConfig{Level: r.str("log_level"), Format: r.str("log_format")},
	}
	if len(r.errs) > 0 {
		var err error
		for _, e := range r.errs {
			err = errors.CombineErrors(err, e)
		}
		return nil, errors.Wrap(err, "config")
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Store.SSLMode == "" {
		if sys.IsLocalhost(cfg.Store.Endpoint) {
			cfg.Store.SSLMode = "disable"
		} else {
			cfg.Store.SSLMode = "verify-full"
		}
	}
}
