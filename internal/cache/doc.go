// Package cache provides a generic LRU cache with pinning.
//
// Entries are evicted least-recently-used first once the cache grows past its
// soft limit. Pinned entries are never evicted; they become eligible again
// when their pin count drops to zero. Evicted values are handed to the
// eviction callback after the cache lock is released, so the callback may
// release GPU resources or call back into the cache.
//
//	c := cache.New[string, int](64, func(k string, v int) { release(v) })
//	v, created, err := c.GetOrCreate("key", build)
//	c.Pin("key")
//	defer c.Unpin("key")
//
// # Thread Safety
//
// Cache is safe for concurrent use and must not be copied after creation.
package cache
