package cache

import (
	"strings"
	"sync"
	"time"
)

// Cache is an in-memory TTL cache with reverse dependency tracking. Cached
// views register the catalog entities they were built from; when the scan
// pipeline changes an entity, only the views tracked against it are dropped.
// If the tracking entry is missing or expired, the whole cache family is
// dropped instead: the broad path trades precision for never serving stale
// data.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	deps    map[string]map[string]time.Time

	// now is overridable in tests.
	now func() time.Time
}

type entry struct {
	value     interface{}
	expiresAt time.Time
}

func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		deps:    make(map[string]map[string]time.Time),
		now:     time.Now,
	}
}

func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		c.Invalidate(key)
		return nil, false
	}
	return e.value, true
}

func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
}

func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidatePattern drops every entry whose key starts with the given prefix
// and returns how many were dropped.
func (c *Cache) InvalidatePattern(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			dropped++
		}
	}
	return dropped
}

// TrackDependency records that the cached view under cacheKey was built from
// the given catalog entity. The tracking entry carries the same TTL as the
// view itself; an expired tracking entry is as good as a missing one.
func (c *Cache) TrackDependency(entityKey, cacheKey string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys, ok := c.deps[entityKey]
	if !ok {
		keys = make(map[string]time.Time)
		c.deps[entityKey] = keys
	}
	keys[cacheKey] = c.now().Add(ttl)
}

// InvalidateByEntity drops the cached views tracked against the entity. The
// tracking entry is consumed either way. If no live tracking entry exists, it
// falls back to dropping the whole family prefix.
func (c *Cache) InvalidateByEntity(entityKey, family string) int {
	c.mu.Lock()
	keys, ok := c.deps[entityKey]
	delete(c.deps, entityKey)

	live := []string{}
	if ok {
		now := c.now()
		for key, expiresAt := range keys {
			if now.Before(expiresAt) {
				live = append(live, key)
			}
		}
	}

	if len(live) == 0 {
		c.mu.Unlock()
		return c.InvalidatePattern(family)
	}

	dropped := 0
	for _, key := range live {
		if _, ok := c.entries[key]; ok {
			delete(c.entries, key)
			dropped++
		}
	}
	c.mu.Unlock()
	return dropped
}

// Len reports the number of entries currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
