// Package seeder fills the store with random rows for load testing the read
// path.
package seeder

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agentuity/readaside/item"
	"github.com/agentuity/readaside/logger"
)

const (
	DefaultWorkers = 100
	DefaultRows    = 1000
)

// Inserter is the part of *store.Store the seeder writes through.
type Inserter interface {
	Insert(ctx context.Context, it item.Item) error
	EnsureSchema(ctx context.Context) error
}

type Config struct {
	Workers      int  // concurrent writers
	Rows         int  // rows per writer
	CreateSchema bool // create the table before inserting
	// Progress, when set, is called after every attempted insert with the
	// number of attempts so far. It must be safe for concurrent use.
	Progress func(done int64)
}

// Summary reports what a run did.
type Summary struct {
	Inserted int64
	Failed   int64
	Elapsed  time.Duration
	Sample   []uuid.UUID // the first id written by each worker
}

// Rate is inserted rows per second.
func (s Summary) Rate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Inserted) / s.Elapsed.Seconds()
}

var (
	firstNames = []string{"Ada", "Grace", "Alan", "Edsger", "Barbara", "Donald", "Margaret", "Ken", "Radia", "Leslie"}
	lastNames  = []string{"Lovelace", "Hopper", "Turing", "Dijkstra", "Liskov", "Knuth", "Hamilton", "Thompson", "Perlman", "Lamport"}
)

// NewItem returns a row with a random id and name, stamped now.
func NewItem() item.Item {
	now := time.Now()
	return item.Item{
		ID:        uuid.New(),
		FirstName: firstNames[rand.IntN(len(firstNames))],
		LastName:  lastNames[rand.IntN(len(lastNames))],
		CreatedAt: now,
		UpdatedAt: now,
	}.Normalize()
}

// Run inserts cfg.Workers*cfg.Rows rows. A failed insert is logged and
// counted and the worker moves on; only cancellation or a schema failure
// aborts the run.
func Run(ctx context.Context, s Inserter, cfg Config, log logger.Logger) (Summary, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Rows <= 0 {
		cfg.Rows = DefaultRows
	}
	log = log.WithPrefix("[seeder]")
	started := time.Now()

	if cfg.CreateSchema {
		if err := s.EnsureSchema(ctx); err != nil {
			return Summary{}, errors.Wrap(err, "ensure schema")
		}
		log.Info("schema ready")
	}

	var inserted, failed, done atomic.Int64
	sample := make([]uuid.UUID, cfg.Workers)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Workers; w++ {
		g.Go(func() error {
			for j := 0; j < cfg.Rows; j++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				it := NewItem()
				if err := s.Insert(gctx, it); err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					failed.Add(1)
					log.Warn("worker %d: error saving %s: %s", w, it.ID, err)
				} else {
					inserted.Add(1)
					if j == 0 {
						sample[w] = it.ID
					}
					log.Trace("worker %d: saved %s", w, it.ID)
				}
				if cfg.Progress != nil {
					cfg.Progress(done.Add(1))
				}
			}
			return nil
		})
	}
	err := g.Wait()

	summary := Summary{
		Inserted: inserted.Load(),
		Failed:   failed.Load(),
		Elapsed:  time.Since(started),
	}
	for _, id := range sample {
		if id != uuid.Nil {
			summary.Sample = append(summary.Sample, id)
		}
	}
	if err != nil {
		return summary, errors.Wrapf(err, "seed stopped after %d rows", summary.Inserted)
	}
	log.Info("inserted %d rows (%d failed) in %s", summary.Inserted, summary.Failed, summary.Elapsed)
	return summary, nil
}
