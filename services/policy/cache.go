package policy

import (
	"container/list"
	"sync"
	"time"
)

// membershipEntry represents a single cache entry with TTL
type membershipEntry struct {
	userID     string
	groupIDs   []string
	insertedAt time.Time
	element    *list.Element // For LRU tracking
}

// isExpired checks if the cache entry has expired
func (e *membershipEntry) isExpired(ttl time.Duration) bool {
	return time.Since(e.insertedAt) > ttl
}

// MembershipCache is an in-memory LRU cache with TTL for the group ids
// a user belongs to. Thread-safe implementation using sync.Mutex.
type MembershipCache struct {
	mu      sync.Mutex
	entries map[string]*membershipEntry // keyed by user id
	lruList *list.List
	maxSize int
	ttl     time.Duration
	hits    uint64
	misses  uint64
}

// NewMembershipCache creates a new MembershipCache with specified max size and TTL
func NewMembershipCache(maxSize int, ttl time.Duration) *MembershipCache {
	return &MembershipCache{
		entries: make(map[string]*membershipEntry),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get retrieves a user's cached group ids.
// The second result is false when the entry is absent or expired.
func (c *MembershipCache) Get(userID string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[userID]
	if !exists || entry.isExpired(c.ttl) {
		c.misses++
		if exists {
			c.removeEntry(userID)
		}
		return nil, false
	}

	c.lruList.MoveToFront(entry.element)
	c.hits++
	return entry.groupIDs, true
}

// Set stores a user's group ids
func (c *MembershipCache) Set(userID string, groupIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[userID]; exists {
		entry.groupIDs = groupIDs
		entry.insertedAt = time.Now()
		c.lruList.MoveToFront(entry.element)
		return
	}

	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &membershipEntry{
		userID:     userID,
		groupIDs:   groupIDs,
		insertedAt: time.Now(),
	}
	entry.element = c.lruList.PushFront(userID)
	c.entries[userID] = entry
}

// Invalidate removes a user's cached memberships. Group mutations must
// call this for every affected member.
func (c *MembershipCache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeEntry(userID)
}

// Clear removes all entries from the cache
func (c *MembershipCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*membershipEntry)
	c.lruList.Init()
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// Stats returns cache statistics
func (c *MembershipCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return CacheStats{
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: hitRate,
	}
}

// removeEntry removes an entry from the cache (must be called with lock held)
func (c *MembershipCache) removeEntry(userID string) {
	if entry, exists := c.entries[userID]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, userID)
	}
}

// evictLRU evicts the least recently used entry (must be called with lock held)
func (c *MembershipCache) evictLRU() {
	backElement := c.lruList.Back()
	if backElement != nil {
		userID := backElement.Value.(string)
		c.lruList.Remove(backElement)
		delete(c.entries, userID)
	}
}
