package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/agentuity/readaside/logger"
	"github.com/agentuity/readaside/resilience"
)

// GuardConfig bounds calls to a remote cache.
type GuardConfig struct {
	// GetTimeout bounds every Get. Zero disables the bound.
	GetTimeout time.Duration
	// SetTimeout bounds every Set and Expire. Zero disables the bound.
	SetTimeout time.Duration
	// MaxFailures consecutive failures open the circuit.
	MaxFailures int
	// Cooldown is how long the circuit stays open before a trial call is let through.
	Cooldown time.Duration
}

// DefaultGuardConfig returns the read path defaults.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		GetTimeout:  250 * time.Millisecond,
		SetTimeout:  500 * time.Millisecond,
		MaxFailures: 5,
		Cooldown:    10 * time.Second,
	}
}

// Guard wraps a Cache with per-call timeouts and a circuit breaker. Every
// error it returns is marked ErrUnavailable. While the circuit is open calls
// fail immediately without touching the backend.
type Guard struct {
	inner   Cache
	cfg     GuardConfig
	breaker *resilience.CircuitBreaker
}

var _ Cache = (*Guard)(nil)

// NewGuard returns inner wrapped in a Guard. Breaker transitions are logged
// to log.
func NewGuard(inner Cache, cfg GuardConfig, log logger.Logger) *Guard {
	log = log.WithPrefix("[cache]")
	return &Guard{
		inner: inner,
		cfg:   cfg,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			MaxFailures:           max(cfg.MaxFailures, 1),
			Timeout:               cfg.Cooldown,
			MaxConcurrentRequests: 1,
			SuccessThreshold:      1,
			IsFailure: func(err error) bool {
				return !errors.Is(err, context.Canceled)
			},
			OnStateChange: func(from, to resilience.CircuitBreakerState) {
				switch to {
				case resilience.StateOpen:
					log.Warn("circuit %s -> %s, serving every lookup as a miss for %s", from, to, cfg.Cooldown)
				case resilience.StateClosed:
					log.Info("circuit %s -> %s, cache recovered", from, to)
				default:
					log.Debug("circuit %s -> %s", from, to)
				}
			},
		}),
	}
}

// State returns the breaker state.
func (g *Guard) State() resilience.CircuitBreakerState {
	return g.breaker.State()
}

func (g *Guard) call(ctx context.Context, timeout time.Duration, op string, fn func(context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := g.breaker.Execute(ctx, fn); err != nil {
		return errors.Mark(errors.Wrap(err, op), ErrUnavailable)
	}
	return nil
}

func (g *Guard) Get(ctx context.Context, key string) (bool, []byte, error) {
	var found bool
	var val []byte
	err := g.call(ctx, g.cfg.GetTimeout, "cache get", func(ctx context.Context) error {
		var err error
		found, val, err = g.inner.Get(ctx, key)
		return err
	})
	if err != nil {
		return false, nil, err
	}
	return found, val, nil
}

func (g *Guard) Set(ctx context.Context, key string, val []byte, expires time.Duration) error {
	return g.call(ctx, g.cfg.SetTimeout, "cache set", func(ctx context.Context) error {
		return g.inner.Set(ctx, key, val, expires)
	})
}

// Hits reports no error, so it can neither trip nor heal the circuit. It is
// passed through only while the circuit is closed and never takes the
// half-open slot that a Get, Set or Expire needs to test recovery.
func (g *Guard) Hits(ctx context.Context, key string) (bool, int) {
	if g.breaker.State() != resilience.StateClosed {
		return false, 0
	}
	if g.cfg.GetTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.GetTimeout)
		defer cancel()
	}
	return g.inner.Hits(ctx, key)
}

func (g *Guard) Expire(ctx context.Context, key string) (bool, error) {
	var found bool
	err := g.call(ctx, g.cfg.SetTimeout, "cache expire", func(ctx context.Context) error {
		var err error
		found, err = g.inner.Expire(ctx, key)
		return err
	})
	return found, err
}

func (g *Guard) Close() error {
	return g.inner.Close()
}
