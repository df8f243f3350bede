// Package cache provides the in-memory tier that sits in front of the local
// store, plus the key serializer used to address it.
//
// # Overview
//
//   - CacheService: read-through GetOrFetch, Set and invalidation by key or prefix
//   - KeySerializer: builds stable keys from a namespace and key parts
//
// The default implementation is backed by sturdyc. Concurrent misses for the same
// key share one fetch, so a burst of reads for a cold record reaches the store once.
//
// # Basic Usage
//
//	svc, err := cache.NewCacheService(cache.DefaultConfig())
//	keys := cache.NewDefaultKeySerializer()
//	key := keys.SerializeKey("entry", "players", "42")
//
//	entry, err := cache.GetOrFetch(ctx, svc, key, func(ctx context.Context) (Entry, error) {
//		return loadFromStore(ctx, "42")
//	})
//	if errors.Is(err, cache.ErrNotFound) {
//		// the store has no record, nothing was cached
//	}
//
// # Keys
//
// Keys have the form namespace::part::part. String parts are escaped, so a
// record id containing "::" produces a distinct key. Prefix returns the shared
// prefix of a key family, which DeleteByPrefix uses to purge it:
//
//	svc.DeleteByPrefix(ctx, cache.Prefix(keys, "entry", "players"))
//
// # Early Refresh
//
// EarlyRefresh stays disabled unless configured, and it is unsafe in front of a
// sync repository. The memory tier only ever holds copies of what the local
// store already persisted, and the repository invalidates them on every write.
// A background refresh started before a write can land after it and put the
// replaced copy back, so the di container rejects early_refresh whenever the
// cache is enabled.
package cache
