// Package cache provides the bounded LRU used by the engine's tile and
// overlay caches.
package cache

import (
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the entry bound used when none is configured.
const DefaultCapacity = 256

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Entries   int
	Cost      int64
}

// LRU is a thread-safe least-recently-used cache with an entry bound and an
// optional byte-cost budget. Eviction is strict LRU; an updated entry counts
// as used.
type LRU[K comparable, V any] struct {
	mu         sync.Mutex
	maxEntries int
	maxCost    int64
	costOf     func(V) int64

	entries map[K]*node[K, V]
	head    *node[K, V] // most recently used
	tail    *node[K, V] // eviction candidate
	cost    int64

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type node[K comparable, V any] struct {
	key        K
	value      V
	cost       int64
	prev, next *node[K, V]
}

// Option configures an LRU.
type Option[K comparable, V any] func(*LRU[K, V])

// WithCost sets a per-value cost function and a total cost budget. The
// budget is soft: a single oversized value is still stored, alone.
func WithCost[K comparable, V any](budget int64, costOf func(V) int64) Option[K, V] {
	return func(c *LRU[K, V]) {
		c.maxCost = budget
		c.costOf = costOf
	}
}

// New creates an LRU bounded to maxEntries. If maxEntries <= 0,
// DefaultCapacity is used.
func New[K comparable, V any](maxEntries int, opts ...Option[K, V]) *LRU[K, V] {
	if maxEntries <= 0 {
		maxEntries = DefaultCapacity
	}
	c := &LRU[K, V]{
		maxEntries: maxEntries,
		entries:    make(map[K]*node[K, V]),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves a value and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	n, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	c.moveToFront(n)
	v := n.value
	c.mu.Unlock()
	c.hits.Add(1)
	return v, true
}

// Set stores a value, evicting least recently used entries as needed to
// stay within the entry bound and cost budget.
func (c *LRU[K, V]) Set(key K, value V) {
	var cost int64
	if c.costOf != nil {
		cost = c.costOf(value)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.entries[key]; ok {
		c.cost += cost - n.cost
		n.value = value
		n.cost = cost
		c.moveToFront(n)
		c.evict()
		return
	}

	n := &node[K, V]{key: key, value: value, cost: cost}
	c.entries[key] = n
	c.cost += cost
	c.pushFront(n)
	c.evict()
}

// Delete removes an entry. Returns true if it was present.
func (c *LRU[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.entries[key]
	if !ok {
		return false
	}
	c.remove(n)
	return true
}

// DeleteFunc removes every entry whose key matches the predicate and
// returns how many were removed.
func (c *LRU[K, V]) DeleteFunc(match func(K) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, n := range c.entries {
		if match(key) {
			c.remove(n)
			removed++
		}
	}
	return removed
}

// Clear removes all entries.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[K]*node[K, V])
	c.head = nil
	c.tail = nil
	c.cost = 0
	c.mu.Unlock()
}

// Len returns the number of entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the counters.
func (c *LRU[K, V]) Stats() Stats {
	c.mu.Lock()
	entries := len(c.entries)
	cost := c.cost
	c.mu.Unlock()
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Entries:   entries,
		Cost:      cost,
	}
}

// evict drops LRU entries until bounds are satisfied. Called with the lock
// held. The cost budget never evicts the sole remaining entry.
func (c *LRU[K, V]) evict() {
	for len(c.entries) > c.maxEntries && c.tail != nil {
		c.remove(c.tail)
		c.evictions.Add(1)
	}
	if c.maxCost <= 0 {
		return
	}
	for c.cost > c.maxCost && len(c.entries) > 1 && c.tail != nil {
		c.remove(c.tail)
		c.evictions.Add(1)
	}
}

func (c *LRU[K, V]) remove(n *node[K, V]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev = nil
	n.next = nil
	c.cost -= n.cost
	delete(c.entries, n.key)
}

func (c *LRU[K, V]) pushFront(n *node[K, V]) {
	n.next = c.head
	n.prev = nil
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

func (c *LRU[K, V]) moveToFront(n *node[K, V]) {
	if c.head == n {
		return
	}
	// Unlink.
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	// Relink at head.
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
}
