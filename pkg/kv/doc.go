// Package kv provides a small Redis-like key-value store abstraction with
// in-memory and Redis-backed implementations.
//
// The Store interface covers byte strings and lists with TTL support, which is
// what the service needs for its journal fallback and caches.
//
// Example usage:
//
//	store, err := kv.NewStoreFromConfig(kv.Config{Backend: kv.BackendMemory})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	if err := store.Set(ctx, "key", []byte("value"), 10*time.Second); err != nil {
//		log.Fatal(err)
//	}
//
// Backends register themselves on import; import pkg/kv/memory and, when
// needed, pkg/kv/redis for their side effects.
package kv
