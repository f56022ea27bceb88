/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package lrucache

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

// EvictReason tells why an entry left the cache without an explicit Remove call.
type EvictReason int

// Eviction reasons.
const (
	// EvictReasonCapacity means the entry was the least recently used one when the cache overflowed.
	EvictReasonCapacity EvictReason = iota
	// EvictReasonExpired means the entry's TTL elapsed.
	EvictReasonExpired
)

func (r EvictReason) String() string {
	switch r {
	case EvictReasonCapacity:
		return "capacity"
	case EvictReasonExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Options represents options for the cache.
type Options[K comparable, V any] struct {
	// DefaultTTL is the TTL of entries added with Add. Zero means entries never expire.
	// Expired entries are dropped lazily on access or by CleanupExpired.
	DefaultTTL time.Duration

	// SlidingExpiration makes every hit extend the entry lifetime by its TTL,
	// so the TTL measures inactivity rather than age.
	SlidingExpiration bool

	// OnEvict is called under the cache lock for entries dropped because of capacity or expiration.
	// It must not call the cache.
	OnEvict func(key K, value V, reason EvictReason)

	// Now replaces time.Now.
	Now func() time.Time
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	ttl       time.Duration
	expiresAt time.Time // zero if the entry never expires
}

func (e *entry[K, V]) touch(now time.Time) {
	e.expiresAt = time.Time{}
	if e.ttl > 0 {
		e.expiresAt = now.Add(e.ttl)
	}
}

func (e *entry[K, V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// LRUCache is a fixed-size cache that evicts the least recently used entries.
// Entries may also expire after a TTL. It is safe for concurrent use.
type LRUCache[K comparable, V any] struct {
	maxEntries int
	opts       Options[K, V]
	metrics    MetricsCollector

	mu    sync.RWMutex
	order *list.List // front is the most recently used entry
	items map[K]*list.Element
}

// NewWithOpts creates a new LRUCache. Metrics collector may be nil.
func NewWithOpts[K comparable, V any](
	maxEntries int, metrics MetricsCollector, opts Options[K, V],
) (*LRUCache[K, V], error) {
	if maxEntries <= 0 {
		return nil, errors.New("maxEntries should be positive")
	}
	if opts.DefaultTTL < 0 {
		return nil, errors.New("defaultTTL should not be negative")
	}
	if metrics == nil {
		metrics = disabledMetrics{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &LRUCache[K, V]{
		maxEntries: maxEntries,
		opts:       opts,
		metrics:    metrics,
		order:      list.New(),
		items:      make(map[K]*list.Element, maxEntries),
	}, nil
}

// Get returns the value and marks it as the most recently used one.
func (c *LRUCache[K, V]) Get(key K) (value V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup(key, c.opts.Now())
}

// Peek returns the value without touching its recency, its expiration or the hit/miss metrics.
func (c *LRUCache[K, V]) Peek(key K) (value V, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if elem, found := c.items[key]; found {
		if e := elem.Value.(*entry[K, V]); !e.expired(c.opts.Now()) {
			return e.value, true
		}
	}
	return value, false
}

// Add sets the value with the default TTL.
// The least recently used entry is evicted if the cache is full.
func (c *LRUCache[K, V]) Add(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.Now()
	if elem, found := c.items[key]; found {
		e := elem.Value.(*entry[K, V])
		e.value, e.ttl = value, c.opts.DefaultTTL
		e.touch(now)
		c.order.MoveToFront(elem)
		return
	}
	c.insert(key, value, c.opts.DefaultTTL, now)
}

// GetOrAddWithTTL returns the cached value or stores the one returned by newValue with the TTL.
// With sliding expiration an existing entry adopts the TTL as well.
func (c *LRUCache[K, V]) GetOrAddWithTTL(key K, newValue func() V, ttl time.Duration) (value V, exists bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.Now()
	if elem, found := c.items[key]; found && c.opts.SlidingExpiration {
		elem.Value.(*entry[K, V]).ttl = ttl
	}
	if value, exists = c.lookup(key, now); exists {
		return value, true
	}
	value = newValue()
	c.insert(key, value, ttl, now)
	return value, false
}

// Remove deletes the entry and reports whether it was present.
func (c *LRUCache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, found := c.items[key]
	if found {
		c.unlink(elem)
		c.metrics.SetAmount(len(c.items))
	}
	return found
}

// Purge drops all entries. They are not counted as evictions and OnEvict is not called.
func (c *LRUCache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*list.Element, c.maxEntries)
	c.order.Init()
	c.metrics.SetAmount(0)
}

// Len returns the number of entries including expired ones that have not been collected yet.
func (c *LRUCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// CleanupExpired drops all expired entries and returns their number.
func (c *LRUCache[K, V]) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.Now()
	expired := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if elem.Value.(*entry[K, V]).expired(now) {
			c.evict(elem, EvictReasonExpired)
			expired++
		}
		elem = prev
	}
	if expired != 0 {
		c.metrics.SetAmount(len(c.items))
	}
	return expired
}

func (c *LRUCache[K, V]) lookup(key K, now time.Time) (value V, ok bool) {
	elem, found := c.items[key]
	if !found {
		c.metrics.IncMisses()
		return value, false
	}
	e := elem.Value.(*entry[K, V])
	if e.expired(now) {
		c.evict(elem, EvictReasonExpired)
		c.metrics.SetAmount(len(c.items))
		c.metrics.IncMisses()
		return value, false
	}
	if c.opts.SlidingExpiration {
		e.touch(now)
	}
	c.order.MoveToFront(elem)
	c.metrics.IncHits()
	return e.value, true
}

func (c *LRUCache[K, V]) insert(key K, value V, ttl time.Duration, now time.Time) {
	e := &entry[K, V]{key: key, value: value, ttl: ttl}
	e.touch(now)
	c.items[key] = c.order.PushFront(e)
	if len(c.items) > c.maxEntries {
		c.evict(c.order.Back(), EvictReasonCapacity)
	}
	c.metrics.SetAmount(len(c.items))
}

func (c *LRUCache[K, V]) evict(elem *list.Element, reason EvictReason) {
	e := c.unlink(elem)
	switch reason {
	case EvictReasonCapacity:
		c.metrics.AddEvictions(1)
	case EvictReasonExpired:
		c.metrics.AddExpirations(1)
	}
	if c.opts.OnEvict != nil {
		c.opts.OnEvict(e.key, e.value, reason)
	}
}

func (c *LRUCache[K, V]) unlink(elem *list.Element) *entry[K, V] {
	e := c.order.Remove(elem).(*entry[K, V])
	delete(c.items, e.key)
	return e
}
