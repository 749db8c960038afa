package recurrence

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"
	"time"
)

// cacheEntry is one cached per-event expansion.
type cacheEntry struct {
	eventID    string
	expansion  *Expansion
	expiresAt  time.Time
	accessedAt time.Time
}

// Cache memoizes per-event window expansions. Entries are keyed by event id,
// the event's update timestamp and the window bounds, and indexed by event id
// so a mutation can invalidate everything cached for that event.
type Cache struct {
	entries         map[string]*cacheEntry
	byEvent         map[string]map[string]struct{}
	mutex           sync.RWMutex
	ttl             time.Duration
	maxEntries      int
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	closeOnce       sync.Once
}

// NewCache creates an occurrence cache with the given configuration and
// starts its background cleanup loop. Call Close when done.
func NewCache(config CacheConfig) *Cache {
	c := &Cache{
		entries:         make(map[string]*cacheEntry),
		byEvent:         make(map[string]map[string]struct{}),
		ttl:             config.TTL,
		maxEntries:      config.MaxEntries,
		cleanupInterval: config.CleanupInterval,
		stopCleanup:     make(chan struct{}),
	}

	go c.cleanupLoop()

	return c
}

// cacheKey builds the lookup key. Including the event's update timestamp
// means a stale entry can never match a mutated event even before explicit
// invalidation runs.
func cacheKey(eventID string, updated, windowStart, windowEnd time.Time) string {
	hasher := sha256.New()
	hasher.Write([]byte(eventID))
	hasher.Write([]byte(updated.Format(time.RFC3339Nano)))
	hasher.Write([]byte(windowStart.Format(time.RFC3339Nano)))
	hasher.Write([]byte(windowEnd.Format(time.RFC3339Nano)))
	return fmt.Sprintf("%x", hasher.Sum(nil))
}

// Get retrieves a cached expansion if present and unexpired. Returned
// occurrences are copies marked FromCache.
func (c *Cache) Get(eventID string, updated, windowStart, windowEnd time.Time) (*Expansion, bool) {
	key := cacheKey(eventID, updated, windowStart, windowEnd)

	c.mutex.RLock()
	entry, exists := c.entries[key]
	c.mutex.RUnlock()

	if !exists {
		return nil, false
	}

	now := time.Now()
	if now.After(entry.expiresAt) {
		c.mutex.Lock()
		c.removeEntry(key)
		c.mutex.Unlock()
		return nil, false
	}

	c.mutex.Lock()
	entry.accessedAt = now
	c.mutex.Unlock()

	occs := make([]Occurrence, len(entry.expansion.Occurrences))
	copy(occs, entry.expansion.Occurrences)
	for i := range occs {
		occs[i].FromCache = true
	}
	return &Expansion{Occurrences: occs, Truncated: entry.expansion.Truncated}, true
}

// Set stores an expansion for one event and window.
func (c *Cache) Set(eventID string, updated, windowStart, windowEnd time.Time, expansion *Expansion) {
	key := cacheKey(eventID, updated, windowStart, windowEnd)
	now := time.Now()

	occs := make([]Occurrence, len(expansion.Occurrences))
	copy(occs, expansion.Occurrences)

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries[key] = &cacheEntry{
		eventID:    eventID,
		expansion:  &Expansion{Occurrences: occs, Truncated: expansion.Truncated},
		expiresAt:  now.Add(c.ttl),
		accessedAt: now,
	}
	keys, ok := c.byEvent[eventID]
	if !ok {
		keys = make(map[string]struct{})
		c.byEvent[eventID] = keys
	}
	keys[key] = struct{}{}

	if len(c.entries) > c.maxEntries {
		c.cleanup()
	}
}

// InvalidateEvent drops every cached expansion for the given event. Called on
// any mutation of the event or its overrides, before the write returns.
func (c *Cache) InvalidateEvent(eventID string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for key := range c.byEvent[eventID] {
		delete(c.entries, key)
	}
	delete(c.byEvent, eventID)
}

// Invalidate drops every cached expansion.
func (c *Cache) Invalidate() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.byEvent = make(map[string]map[string]struct{})
}

// removeEntry deletes one entry and its event-index reference. Caller holds
// the write lock.
func (c *Cache) removeEntry(key string) {
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	if keys, ok := c.byEvent[entry.eventID]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.byEvent, entry.eventID)
		}
	}
}

// cleanup removes expired entries, then the least recently accessed entries
// while still over the limit. Caller holds the write lock.
func (c *Cache) cleanup() {
	now := time.Now()

	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			c.removeEntry(key)
		}
	}

	if len(c.entries) <= c.maxEntries {
		return
	}

	type keyAccess struct {
		key        string
		accessedAt time.Time
	}
	keyAccessList := make([]keyAccess, 0, len(c.entries))
	for key, entry := range c.entries {
		keyAccessList = append(keyAccessList, keyAccess{key: key, accessedAt: entry.accessedAt})
	}
	sort.Slice(keyAccessList, func(i, j int) bool {
		return keyAccessList[i].accessedAt.Before(keyAccessList[j].accessedAt)
	})

	entriesToRemove := len(c.entries) - c.maxEntries
	for i := 0; i < entriesToRemove; i++ {
		c.removeEntry(keyAccessList[i].key)
	}
}

// cleanupLoop runs periodic cleanup until Close.
func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mutex.Lock()
			c.cleanup()
			c.mutex.Unlock()
		case <-c.stopCleanup:
			return
		}
	}
}

// Close stops the cleanup goroutine and clears the cache.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		close(c.stopCleanup)
	})
	c.Invalidate()
}

// Stats returns cache statistics.
func (c *Cache) Stats() CacheStats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entryCount := len(c.entries)
	expiredCount := 0
	now := time.Now()

	for _, entry := range c.entries {
		if now.After(entry.expiresAt) {
			expiredCount++
		}
	}

	return CacheStats{
		TotalEntries:   entryCount,
		ExpiredEntries: expiredCount,
		ActiveEntries:  entryCount - expiredCount,
	}
}

// CacheStats provides information about cache occupancy.
type CacheStats struct {
	TotalEntries   int
	ExpiredEntries int
	ActiveEntries  int
}
