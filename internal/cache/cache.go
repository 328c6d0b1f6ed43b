package cache

import "sync"

// Cache is a generic thread-safe LRU cache with a soft limit and pinning.
// A softLimit of 0 means unlimited.
//
// Cache is safe for concurrent use.
// Cache must not be copied after creation (has mutex).
type Cache[K comparable, V any] struct {
	mu        sync.Mutex
	entries   map[K]*cacheEntry[K, V]
	order     lruList[K]
	softLimit int
	onEvict   func(K, V)

	hits      uint64
	misses    uint64
	evictions uint64
}

type cacheEntry[K comparable, V any] struct {
	value V
	node  *lruNode[K]
	pins  int
}

type evicted[K comparable, V any] struct {
	key   K
	value V
}

// New creates a cache with the given soft limit. onEvict may be nil.
func New[K comparable, V any](softLimit int, onEvict func(K, V)) *Cache[K, V] {
	return &Cache[K, V]{
		entries:   make(map[K]*cacheEntry[K, V]),
		softLimit: softLimit,
		onEvict:   onEvict,
	}
}

// Get retrieves a value and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	c.order.moveToFront(e.node)
	return e.value, true
}

// Peek retrieves a value without touching recency or hit counters.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// GetOrCreate returns the cached value for key or stores the result of create.
// create runs under the cache lock, so concurrent callers never build the same
// key twice. If create fails nothing is stored. created reports whether the
// value was built by this call.
func (c *Cache[K, V]) GetOrCreate(key K, create func() (V, error)) (value V, created bool, err error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.hits++
		c.order.moveToFront(e.node)
		c.mu.Unlock()
		return e.value, false, nil
	}
	c.misses++

	value, err = create()
	if err != nil {
		c.mu.Unlock()
		var zero V
		return zero, false, err
	}
	c.entries[key] = &cacheEntry[K, V]{value: value, node: c.order.pushFront(key)}
	out := c.evictLocked()
	c.mu.Unlock()

	c.notify(out)
	return value, true, nil
}

// Set stores a value, replacing any previous one without calling onEvict.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.value = value
		c.order.moveToFront(e.node)
		c.mu.Unlock()
		return
	}
	c.entries[key] = &cacheEntry[K, V]{value: value, node: c.order.pushFront(key)}
	out := c.evictLocked()
	c.mu.Unlock()

	c.notify(out)
}

// Pin protects key from eviction. Pins nest. Returns false if key is absent.
func (c *Cache[K, V]) Pin(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	e.pins++
	return true
}

// Unpin drops one pin from key. When the last pin goes and the cache is over
// its soft limit, eviction runs.
func (c *Cache[K, V]) Unpin(key K) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.pins == 0 {
		c.mu.Unlock()
		return
	}
	e.pins--
	var out []evicted[K, V]
	if e.pins == 0 {
		out = c.evictLocked()
	}
	c.mu.Unlock()

	c.notify(out)
}

// Pinned reports the pin count of key.
func (c *Cache[K, V]) Pinned(key K) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		return e.pins
	}
	return 0
}

// Delete removes key regardless of pins and returns its value.
// onEvict is not called.
func (c *Cache[K, V]) Delete(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.remove(e.node)
	delete(c.entries, key)
	return e.value, true
}

// DeleteUnpinned removes key only if it holds no pins. onEvict is not called.
// pinned reports whether a pin prevented the removal.
func (c *Cache[K, V]) DeleteUnpinned(key K) (value V, ok, pinned bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[key]
	if !found {
		return value, false, false
	}
	if e.pins > 0 {
		return value, false, true
	}
	c.order.remove(e.node)
	delete(c.entries, key)
	return e.value, true, false
}

// Clear removes every entry, calling onEvict for each.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	out := make([]evicted[K, V], 0, len(c.entries))
	for n := c.order.tail; n != nil; n = n.prev {
		out = append(out, evicted[K, V]{key: n.key, value: c.entries[n.key].value})
	}
	c.entries = make(map[K]*cacheEntry[K, V])
	c.order = lruList[K]{}
	c.mu.Unlock()

	c.notify(out)
}

// Len returns the number of entries in the cache.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Capacity returns the soft limit of the cache.
func (c *Cache[K, V]) Capacity() int {
	return c.softLimit
}

// Stats returns cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	pinned := 0
	for _, e := range c.entries {
		if e.pins > 0 {
			pinned++
		}
	}
	s := Stats{
		Len:       len(c.entries),
		Capacity:  c.softLimit,
		Pinned:    pinned,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// evictLocked drops unpinned entries from the tail until the cache is within
// its soft limit. The most recently used entry is never dropped, so a value
// just returned to a caller stays live. Caller must hold c.mu.
func (c *Cache[K, V]) evictLocked() []evicted[K, V] {
	if c.softLimit <= 0 {
		return nil
	}
	var out []evicted[K, V]
	n := c.order.tail
	for len(c.entries) > c.softLimit && n != nil && n != c.order.head {
		prev := n.prev
		e := c.entries[n.key]
		if e.pins == 0 {
			c.order.remove(n)
			delete(c.entries, n.key)
			c.evictions++
			out = append(out, evicted[K, V]{key: n.key, value: e.value})
		}
		n = prev
	}
	return out
}

func (c *Cache[K, V]) notify(out []evicted[K, V]) {
	if c.onEvict == nil {
		return
	}
	for _, ev := range out {
		c.onEvict(ev.key, ev.value)
	}
}

// Stats contains cache statistics.
type Stats struct {
	// Len is the current number of entries.
	Len int
	// Capacity is the soft limit (0 for unlimited).
	Capacity int
	// Pinned is the number of entries with at least one pin.
	Pinned int
	// Hits is the number of lookups that found an entry.
	Hits uint64
	// Misses is the number of lookups that did not.
	Misses uint64
	// HitRate is Hits / (Hits + Misses), 0.0 to 1.0.
	HitRate float64
	// Evictions is the number of entries dropped by the soft limit.
	Evictions uint64
}
