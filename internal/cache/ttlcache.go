package cache

import (
	"sync"
	"time"

	"github.com/brennhill/ghost-fleet/pkg/fleet"
)

// ObservationKey identifies a cached perception snapshot: the ghost context
// it was taken in, the URL at the time, and a fingerprint of the DOM
// (typically a hash of the normalized tree's node count and structure).
// Perception reuses a cached entry only when all three match and no
// RefetchReason forces a fresh extraction.
type ObservationKey struct {
	ContextID      string
	CurrentURL     string
	DOMFingerprint string
}

type observationEntry struct {
	value      *fleet.Observation
	storedAt   int64
	lastTouch  int64
}

// ObservationCache holds the most recent perception snapshot per
// (context, URL, DOM fingerprint) so an unchanged page does not pay the
// extraction cost twice in a row. Eviction follows the same TTL-plus-
// max-size-oldest-out strategy as DedupeCache.
type ObservationCache struct {
	mu      sync.Mutex
	entries map[ObservationKey]*observationEntry
	ttl     time.Duration
	maxSize int
}

// NewObservationCache creates a cache with the given TTL and capacity.
// A non-positive TTL means entries never expire on their own; a
// non-positive maxSize means no eviction beyond expiry.
func NewObservationCache(ttl time.Duration, maxSize int) *ObservationCache {
	if ttl < 0 {
		ttl = 0
	}
	if maxSize < 0 {
		maxSize = 0
	}
	return &ObservationCache{
		entries: make(map[ObservationKey]*observationEntry),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Get returns the cached observation for key if present and not expired.
func (c *ObservationCache) Get(key ObservationKey) (*fleet.Observation, bool) {
	return c.GetAt(key, time.Now())
}

// GetAt is Get with an explicit timestamp, for deterministic tests.
func (c *ObservationCache) GetAt(key ObservationKey, now time.Time) (*fleet.Observation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	nowUnix := now.UnixMilli()
	if c.ttl > 0 && nowUnix-entry.storedAt >= c.ttl.Milliseconds() {
		delete(c.entries, key)
		return nil, false
	}
	entry.lastTouch = nowUnix
	return entry.value, true
}

// Put stores an observation under key, replacing any prior entry.
func (c *ObservationCache) Put(key ObservationKey, value *fleet.Observation) {
	c.PutAt(key, value, time.Now())
}

// PutAt is Put with an explicit timestamp, for deterministic tests.
func (c *ObservationCache) PutAt(key ObservationKey, value *fleet.Observation, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	nowUnix := now.UnixMilli()
	c.entries[key] = &observationEntry{value: value, storedAt: nowUnix, lastTouch: nowUnix}
	c.prune(nowUnix)
}

// Invalidate drops every cached entry for a ghost context, used when
// perception observes a navigation or significant DOM mutation.
func (c *ObservationCache) Invalidate(contextID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.ContextID == contextID {
			delete(c.entries, key)
		}
	}
}

// Size returns the number of cached entries.
func (c *ObservationCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ObservationCache) prune(nowUnix int64) {
	if c.ttl > 0 {
		cutoff := nowUnix - c.ttl.Milliseconds()
		for key, entry := range c.entries {
			if entry.storedAt < cutoff {
				delete(c.entries, key)
			}
		}
	}

	if c.maxSize <= 0 {
		return
	}
	for len(c.entries) > c.maxSize {
		var oldestKey ObservationKey
		var oldestTs int64 = int64(^uint64(0) >> 1)
		found := false
		for k, entry := range c.entries {
			if entry.lastTouch < oldestTs {
				oldestTs = entry.lastTouch
				oldestKey = k
				found = true
			}
		}
		if !found {
			break
		}
		delete(c.entries, oldestKey)
	}
}
