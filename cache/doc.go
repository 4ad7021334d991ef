// Package cache provides the key-value cache used in front of the store, with
// several interchangeable backends.
//
// # Cache Interface
//
// The [Cache] interface defines five operations: [Cache.Get], [Cache.Set],
// [Cache.Hits], [Cache.Expire], and [Cache.Close]. Values are opaque byte
// slices; callers encode and decode them (see package codec). Entries are
// written whole with a TTL and never updated in place.
//
// A miss is reported as (false, nil, nil). An error means the backend could
// not answer; the read path treats that as a miss and goes to the store.
//
// # Implementations
//
//   - [NewMomento]: Momento serverless cache. The default in production.
//     TTLs are native; hit counts are not tracked.
//
//   - [NewRedis]: Redis via [github.com/redis/go-redis/v9]. Values are stored
//     in hashes (fields "v" for value, "h" for hit count) with a native TTL.
//     An optional key prefix namespaces the keys. The caller owns the client;
//     [Cache.Close] is a no-op.
//
//   - [NewSQLite]: SQLite via [modernc.org/sqlite] (pure Go, no CGO), file
//     or ":memory:". Expired rows are deleted lazily and by a background
//     sweep. Useful for local development.
//
//   - [NewInMemory]: a process-local map guarded by a mutex, swept by a
//     background goroutine. Set copies the value.
//
//   - [NewComposite]: chains caches in order. Get returns the first hit and
//     backfills the layers above it; Set and Expire go to every layer. An
//     in-memory L1 (capped with [WithMaxExpires]) in front of a shared cache
//     is the intended topology.
//
// # Guard
//
// Remote backends are wrapped in a [Guard] before use. The guard bounds Get
// and Set with their own timeouts and runs every call through a circuit
// breaker. After repeated failures the circuit opens and all calls fail fast
// with [ErrUnavailable] for the cool-down period, so a cache outage costs the
// read path nothing but a miss.
//
//	remote, _ := cache.NewMomento(apiKey, "items", cache.WithExpires(5*time.Second))
//	c := cache.NewGuard(remote, cache.DefaultGuardConfig(), log)
//
// # Timeouts
//
// The I/O-backed backends also apply a per-operation timeout
// ([DefaultQueryTimeout], 5 seconds, see [WithQueryTimeout]) derived from the
// context passed to each call.
package cache
