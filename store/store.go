// Package store reads rows of CacheableTable from the distributed SQL
// cluster over the PostgreSQL wire protocol.
package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/agentuity/readaside/item"
)

// Table is the table served by the read path.
const Table = "CacheableTable"

const (
	selectItem = `SELECT id, first_name, last_name, created_at, updated_at FROM CacheableTable WHERE id = $1`
	insertItem = `INSERT INTO CacheableTable (id, first_name, last_name, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`
	createItem = `CREATE TABLE IF NOT EXISTS CacheableTable (
	id UUID PRIMARY KEY,
	first_name TEXT NOT NULL,
	last_name TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`
)

// DefaultQueryTimeout bounds a single store call when none is configured.
const DefaultQueryTimeout = 2 * time.Second

// Querier is the subset of *pgxpool.Pool used by the store. It lets tests
// substitute pgxmock.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

// Store performs point reads by primary key. It never retries; retry policy
// belongs to the caller.
type Store struct {
	db           Querier
	queryTimeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithQueryTimeout bounds each call. Zero or negative disables the bound.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Store) { s.queryTimeout = d }
}

// New returns a Store reading through db. The Store owns db and closes it.
func New(db Querier, opts ...Option) *Store {
	s := &Store{db: db, queryTimeout: DefaultQueryTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, s.queryTimeout)
}

func unavailable(err error, format string, args ...any) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrUnavailable)
}

// withDeadline makes a failure caused by the per-call deadline recognisable
// whatever error the driver surfaced for it.
func withDeadline(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil && !errors.Is(err, cerr) {
		return errors.Mark(err, cerr)
	}
	return err
}

// Get reads the row with the given id. A missing row is (zero, false, nil).
func (s *Store) Get(ctx context.Context, id uuid.UUID) (item.Item, bool, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var it item.Item
	err := s.db.QueryRow(qctx, selectItem, id).Scan(&it.ID, &it.FirstName, &it.LastName, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return item.Item{}, false, nil
	}
	if err != nil {
		return item.Item{}, false, unavailable(withDeadline(qctx, err), "select %s", id)
	}
	return it.Normalize(), true, nil
}

// Insert writes a new row. Used by the seeder; the read path never writes.
func (s *Store) Insert(ctx context.Context, it item.Item) error {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()

	if _, err := s.db.Exec(qctx, insertItem, it.ID, it.FirstName, it.LastName, it.CreatedAt, it.UpdatedAt); err != nil {
		return unavailable(withDeadline(qctx, err), "insert %s", it.ID)
	}
	return nil
}

// EnsureSchema creates the table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createItem); err != nil {
		return unavailable(err, "create table %s", Table)
	}
	return nil
}

// Ping verifies a connection to the database is still alive.
func (s *Store) Ping(ctx context.Context) error {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	if err := s.db.Ping(qctx); err != nil {
		return unavailable(err, "ping")
	}
	return nil
}

// CheckHealth executes SELECT 1. The default timeout is 5 seconds unless the
// context has a shorter one.
func (s *Store) CheckHealth(ctx context.Context) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	var result int
	if err := s.db.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		return unavailable(err, "health check failed")
	}
	if result != 1 {
		return errors.Newf("health check returned unexpected result: %d", result)
	}
	return nil
}

// Close closes all connections in the pool.
func (s *Store) Close() {
	s.db.Close()
}
