package store

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dsql/auth"
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"

	"github.com/agentuity/readaside/logger"
)

// Config describes the connection to the cluster.
type Config struct {
	Endpoint       string
	Region         string
	Port           int
	Database       string
	User           string
	Password       string // static password; empty means an IAM token per connection
	SSLMode        string
	MaxConns       int32
	ConnectTimeout time.Duration
}

// DefaultConfig returns the cluster defaults: port 5432, database and user
// "postgres"/"admin", verify-full TLS and a pool of 10.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:       endpoint,
		Region:         "us-east-1",
		Port:           5432,
		Database:       "postgres",
		User:           "admin",
		SSLMode:        "verify-full",
		MaxConns:       10,
		ConnectTimeout: 5 * time.Second,
	}
}

// TokenProvider returns the password for a new connection.
type TokenProvider func(ctx context.Context) (string, error)

// StaticPassword returns a TokenProvider that always yields password.
func StaticPassword(password string) TokenProvider {
	return func(context.Context) (string, error) { return password, nil }
}

// DSQLTokenProvider signs short-lived IAM auth tokens with the default AWS
// credential chain. The admin user gets an admin token.
func DSQLTokenProvider(ctx context.Context, cfg Config) (TokenProvider, error) {
	awscfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	return func(ctx context.Context) (string, error) {
		var token string
		var err error
		if cfg.User == "admin" {
			token, err = auth.GenerateDBConnectAdminAuthToken(ctx, cfg.Endpoint, cfg.Region, awscfg.Credentials)
		} else {
			token, err = auth.GenerateDbConnectAuthToken(ctx, cfg.Endpoint, cfg.Region, awscfg.Credentials)
		}
		if err != nil {
			return "", errors.Wrap(err, "generate dsql auth token")
		}
		return token, nil
	}, nil
}

func buildConnString(cfg Config) string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s",
		cfg.Endpoint,
		cfg.Port,
		cfg.Database,
		cfg.User,
	)

	if cfg.SSLMode != "" {
		connStr += fmt.Sprintf(" sslmode=%s", cfg.SSLMode)
	}

	if cfg.ConnectTimeout > 0 {
		connStr += fmt.Sprintf(" connect_timeout=%d", max(int(cfg.ConnectTimeout.Seconds()), 1))
	}

	return connStr
}

// PoolConfig builds the pgxpool configuration. Every new connection asks
// tokens for its password, so rotating IAM tokens never expire a pool.
func PoolConfig(cfg Config, tokens TokenProvider, log logger.Logger) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(buildConnString(cfg))
	if err != nil {
		return nil, errors.Wrap(err, "parse pool config")
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.BeforeConnect = func(ctx context.Context, cc *pgx.ConnConfig) error {
		password, err := tokens(ctx)
		if err != nil {
			return err
		}
		cc.Password = password
		return nil
	}
	if log != nil {
		poolConfig.ConnConfig.Tracer = &tracelog.TraceLog{
			Logger:   TraceLogger(log.WithPrefix("[pgx]")),
			LogLevel: tracelog.LogLevelWarn,
		}
	}
	return poolConfig, nil
}

// NewPool creates the connection pool. Connections are established lazily,
// so a cluster that is down at startup does not prevent serving from cache.
func NewPool(ctx context.Context, cfg Config, tokens TokenProvider, log logger.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := PoolConfig(cfg, tokens, log)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, "create connection pool")
	}
	return pool, nil
}

// TraceLogger routes pgx driver logs into log.
func TraceLogger(log logger.Logger) tracelog.Logger {
	return tracelog.LoggerFunc(func(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
		l := log.WithContext(ctx)
		if len(data) > 0 {
			l = l.With(data)
		}
		switch level {
		case tracelog.LogLevelTrace:
			l.Trace("%s", msg)
		case tracelog.LogLevelDebug:
			l.Debug("%s", msg)
		case tracelog.LogLevelInfo:
			l.Info("%s", msg)
		case tracelog.LogLevelWarn:
			l.Warn("%s", msg)
		case tracelog.LogLevelError:
			l.Error("%s", msg)
		}
	})
}
