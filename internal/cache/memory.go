package cache

import (
	"context"
	"sync"
	"time"
)

// entry is one in-process cached payload.
type entry struct {
	payload   []byte
	writtenAt time.Time
	ttl       time.Duration
}

func (e entry) validAt(now time.Time) bool {
	return now.Sub(e.writtenAt) < e.ttl
}

// MemoryCache is the in-process fallback backend. Expiry is checked lazily
// on read; Sweep removes expired entries to bound memory.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// WithClock overrides the time source (tests).
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.now = now
	return c
}

func (c *MemoryCache) Name() string { return "memory" }

// Get retrieves a value. Expired entries are discarded and reported absent.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	now := c.now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !e.validAt(now) {
		c.mu.Lock()
		// Re-check: a concurrent Set may have replaced the entry.
		if cur, ok := c.entries[key]; ok && !cur.validAt(now) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	out := make([]byte, len(e.payload))
	copy(out, e.payload)
	return out, true
}

// Set stores a copy of value with the given TTL. Non-positive TTLs are ignored.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	payload := make([]byte, len(value))
	copy(payload, value)

	c.mu.Lock()
	c.entries[key] = entry{payload: payload, writtenAt: c.now(), ttl: ttl}
	c.mu.Unlock()
}

// Delete removes keys from the cache.
func (c *MemoryCache) Delete(_ context.Context, keys ...string) {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	c.mu.Unlock()
}

// Exists reports whether key holds a live value.
func (c *MemoryCache) Exists(ctx context.Context, key string) bool {
	_, ok := c.Get(ctx, key)
	return ok
}

// Ping always succeeds.
func (c *MemoryCache) Ping(context.Context) error { return nil }

// Sweep removes expired entries and returns how many were dropped.
func (c *MemoryCache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if !e.validAt(now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, including not-yet-swept expired ones.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Flush removes all entries.
func (c *MemoryCache) Flush() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}
