// Package ttscache holds recently synthesized narration blobs so
// replaying a post does not re-bill a TTS call. The cache is an
// explicitly owned object with deterministic keys, a small bound and a
// TTL, so eviction and test-reset are deterministic rather than
// ambient global state.
package ttscache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultCapacity keeps only a handful of posts warm.
	DefaultCapacity = 8
	// DefaultTTL expires entries after half an hour.
	DefaultTTL = 30 * time.Minute
)

// Key derives a deterministic cache key from normalized text plus the
// voice and scope (content or author id). Same words, same voice, same
// post: same blob.
func Key(text, voice, scope string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(normalized + "|" + voice + "|" + scope))
	return hex.EncodeToString(sum[:])
}

type entry struct {
	blob     []byte
	storedAt time.Time
}

// Cache is a bounded, TTL-expiring blob cache. Safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]entry
	capacity int
	ttl      time.Duration

	// now is swappable in tests.
	now func() time.Time
}

// New creates a cache. Non-positive arguments take the defaults.
func New(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries:  make(map[string]entry),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get returns the cached blob for key, expiring it first if stale.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.blob, true
}

// Put stores a blob, evicting the oldest entry when full.
func (c *Cache) Put(key string, blob []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		var oldestKey string
		var oldestAt time.Time
		for k, e := range c.entries {
			if oldestKey == "" || e.storedAt.Before(oldestAt) {
				oldestKey, oldestAt = k, e.storedAt
			}
		}
		delete(c.entries, oldestKey)
	}
	c.entries[key] = entry{blob: blob, storedAt: c.now()}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Reset drops every entry.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}
