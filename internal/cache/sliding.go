// Package cache implements a sliding-expiration keyed cache shared across
// logical connections: topology, host-health monitors, internal pools, and
// custom-endpoint monitors are all entries in one of these.
package cache

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// entry holds a cached value and its current expiration deadline.
type entry[V any] struct {
	mu        sync.Mutex
	value     V
	expiresAt time.Time
}

// SlidingExpirationCache maps K to V with per-entry TTL reset on access.
// The zero value is not usable; construct with New.
type SlidingExpirationCache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[V]

	defaultTTL      time.Duration
	cleanupInterval time.Duration
	shouldDispose   func(V) bool
	dispose         func(V)

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
}

// New creates a cache with the given default TTL. If cleanupInterval is > 0,
// a single background cleanup task is started lazily on first insert.
func New[K comparable, V any](defaultTTL, cleanupInterval time.Duration, shouldDispose func(V) bool, dispose func(V)) *SlidingExpirationCache[K, V] {
	if shouldDispose == nil {
		shouldDispose = func(V) bool { return true }
	}
	if dispose == nil {
		dispose = func(V) {}
	}
	return &SlidingExpirationCache[K, V]{
		entries:         make(map[K]*entry[V]),
		defaultTTL:      defaultTTL,
		cleanupInterval: cleanupInterval,
		shouldDispose:   shouldDispose,
		dispose:         dispose,
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
}

// ComputeIfAbsent returns the cached value for k if present and unexpired,
// otherwise invokes factory(k) exactly once across any interleaving of
// concurrent callers, stores the result, and returns it. Every call, hit or
// miss, refreshes expiresAt.
func (c *SlidingExpirationCache[K, V]) ComputeIfAbsent(k K, factory func(K) (V, error), ttl time.Duration) (V, error) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	e, ok := c.entries[k]
	if !ok {
		e = &entry[V]{}
		// Lock the placeholder before publishing it, so no concurrent caller
		// can observe it unfilled and run factory a second time.
		e.mu.Lock()
		c.entries[k] = e
		c.ensureCleanupStarted()
	}
	c.mu.Unlock()

	if ok {
		e.mu.Lock()
	}
	defer e.mu.Unlock()

	now := time.Now()
	if ok && now.Before(e.expiresAt) {
		e.expiresAt = now.Add(ttl)
		return e.value, nil
	}

	v, err := factory(k)
	if err != nil {
		var zero V
		if !ok {
			// Never published: remove the placeholder so a later caller retries.
			c.mu.Lock()
			delete(c.entries, k)
			c.mu.Unlock()
		}
		return zero, err
	}
	e.value = v
	e.expiresAt = now.Add(ttl)
	return v, nil
}

// Get returns the cached value for k if present and unexpired. A hit
// refreshes expiresAt when ttl > 0 is supplied.
func (c *SlidingExpirationCache[K, V]) Get(k K, ttl time.Duration) (V, bool) {
	c.mu.Lock()
	e, ok := c.entries[k]
	c.mu.Unlock()
	if !ok {
		var zero V
		return zero, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	if !now.Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	return e.value, true
}

// Put stores v for k with the given TTL (or the cache default when ttl<=0).
func (c *SlidingExpirationCache[K, V]) Put(k K, v V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	e, ok := c.entries[k]
	if !ok {
		e = &entry[V]{}
		c.entries[k] = e
	}
	c.ensureCleanupStarted()
	c.mu.Unlock()

	e.mu.Lock()
	e.value = v
	e.expiresAt = time.Now().Add(ttl)
	e.mu.Unlock()
}

// Remove disposes and deletes the entry for k, if present.
func (c *SlidingExpirationCache[K, V]) Remove(k K) {
	c.mu.Lock()
	e, ok := c.entries[k]
	if ok {
		delete(c.entries, k)
	}
	c.mu.Unlock()
	if ok {
		e.mu.Lock()
		v := e.value
		e.mu.Unlock()
		c.safeDispose(v)
	}
}

// Len reports the number of live entries, for tests and metrics.
func (c *SlidingExpirationCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear stops the background cleanup task, awaits its exit, then disposes
// every remaining entry and empties the map. Entries are disposed in map
// iteration order; insertion order is not tracked.
func (c *SlidingExpirationCache[K, V]) Clear() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		<-c.doneCh
	}

	c.mu.Lock()
	remaining := c.entries
	c.entries = make(map[K]*entry[V])
	c.mu.Unlock()

	for _, e := range remaining {
		e.mu.Lock()
		v := e.value
		e.mu.Unlock()
		c.safeDispose(v)
	}
}

func (c *SlidingExpirationCache[K, V]) safeDispose(v V) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("cache dispose callback panicked")
		}
	}()
	c.dispose(v)
}

// ensureCleanupStarted must be called with c.mu held.
func (c *SlidingExpirationCache[K, V]) ensureCleanupStarted() {
	if c.started || c.cleanupInterval <= 0 {
		return
	}
	c.started = true
	go c.cleanupLoop()
}

func (c *SlidingExpirationCache[K, V]) cleanupLoop() {
	defer close(c.doneCh)
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *SlidingExpirationCache[K, V]) sweep() {
	now := time.Now()

	c.mu.Lock()
	keys := make([]K, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	for _, k := range keys {
		c.mu.Lock()
		e, ok := c.entries[k]
		c.mu.Unlock()
		if !ok {
			continue
		}

		e.mu.Lock()
		expired := now.After(e.expiresAt) || now.Equal(e.expiresAt)
		v := e.value
		e.mu.Unlock()
		if !expired {
			continue
		}
		if !c.shouldDispose(v) {
			// Retained: left in place, expiresAt untouched, reconsidered next cycle.
			continue
		}

		c.mu.Lock()
		delete(c.entries, k)
		c.mu.Unlock()
		c.safeDispose(v)
	}
}
