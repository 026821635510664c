// Package cache provides the opt-in response cache used to memoize identical
// table requests within one client.
//
// Entries are keyed by the fully built request URL. Each client owns its own
// namespace, so two clients never observe each other's entries even when they
// share a Redis instance.
//
// # Basic Usage
//
//	store := cache.NewMemoryStore()
//
//	key := cache.NewKey(namespace, desc.URL)
//	entry, err := store.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the endpoint
//	}
//
// # Redis Layer
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := cache.NewRedisStore(redisClient)
//	defer store.Clear(ctx, namespace)
//
// # Metrics
//
//   - histfetch_cache_hits_total{layer="memory|redis"} - Cache hits
//   - histfetch_cache_misses_total{layer} - Cache misses
//   - histfetch_cache_errors_total{operation} - Cache operation errors
//   - histfetch_cache_entries{layer} - Entries currently held
package cache
