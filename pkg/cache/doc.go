// Package cache provides the named cache stores used by the offline worker.
//
// A Storage holds any number of named caches, and each named cache is a Store
// mapping a request key to a stored response Entry. The worker keeps two
// caches per version:
//
//   - a static cache (versioned, rebuilt on every version bump) keyed by
//     RequestKey, holding pages and build assets
//   - a data cache keyed by DataKey, whose entries wrap API payloads in an
//     Envelope carrying a freshness timestamp
//
// Caches whose name does not match the current StoreNames are stale and are
// deleted whole on activation; there is no per-entry eviction.
//
// # Backends
//
// Three Storage implementations are provided:
//
//   - MemoryStorage: in-process maps, used by tests and single-instance setups
//   - RedisStorage: one Redis hash per cache plus a set of cache names
//   - LevelDBStorage: a local LevelDB database with prefixed keys
//
// Every backend performs an atomic write per Put and per Delete. Concurrent
// writers to the same key race with last-write-wins semantics.
//
// # Basic Usage
//
//	storage := cache.NewMemoryStorage()
//	names := cache.NewStoreNames("campus", 2)
//
//	data, err := storage.Open(ctx, names.Data)
//	if err != nil {
//		return err
//	}
//
//	env := cache.NewManualEnvelope(json.RawMessage(`{"x":1}`), time.Now())
//	if _, err := cache.WriteEnvelope(ctx, data, "/api/schedule", env); err != nil {
//		return err
//	}
//
// # Staleness
//
// Staleness is never stored. It is derived at read time:
//
//	stale := now - envelope.Timestamp > threshold
//
// with a default threshold of one hour (StaleThreshold). A difference of
// exactly one hour is not stale.
//
// # Metrics
//
//   - campus_cache_hits_total{store} - Cache hits by store role
//   - campus_cache_misses_total{store} - Cache misses by store role
//   - campus_cache_errors_total{operation} - Storage operation errors
package cache
