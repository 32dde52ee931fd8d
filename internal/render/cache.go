package render

// Cache is a bounded map with FIFO eviction by insertion order. Lookups do
// not promote entries. Evicted values are released synchronously.
//
// Not safe for concurrent use.
type Cache[K comparable, V Releaser] struct {
	data  map[K]V
	queue []K

	max   int
	evict int
}

// NewCache returns a cache holding at most max entries that evicts evict
// entries at a time when full.
func NewCache[K comparable, V Releaser](max, evict int) *Cache[K, V] {
	if max < 1 {
		max = 1
	}
	if evict < 1 {
		evict = 1
	}
	return &Cache[K, V]{
		data:  make(map[K]V, max),
		queue: make([]K, 0, max),
		max:   max,
		evict: evict,
	}
}

// Add inserts value under key. When the insert would exceed the maximum the
// oldest min(evict, Len) entries are released and dropped first. Adding an
// existing key releases the previous value.
func (c *Cache[K, V]) Add(key K, value V) {
	if old, ok := c.data[key]; ok {
		old.Release()
		c.data[key] = value
		return
	}

	if len(c.queue)+1 > c.max {
		n := min(c.evict, len(c.queue))
		for _, k := range c.queue[:n] {
			c.data[k].Release()
			delete(c.data, k)
		}
		c.queue = append(c.queue[:0], c.queue[n:]...)
	}

	c.data[key] = value
	c.queue = append(c.queue, key)
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	v, ok := c.data[key]
	return v, ok
}

func (c *Cache[K, V]) Contains(key K) bool {
	_, ok := c.data[key]
	return ok
}

func (c *Cache[K, V]) Len() int {
	return len(c.data)
}

// Keys returns the keys oldest first.
func (c *Cache[K, V]) Keys() []K {
	out := make([]K, len(c.queue))
	copy(out, c.queue)
	return out
}

// Dispose releases every entry and empties the cache. Idempotent.
func (c *Cache[K, V]) Dispose() {
	for _, v := range c.data {
		v.Release()
	}
	clear(c.data)
	c.queue = c.queue[:0]
}
