package service

import "time"

// RecentCache remembers when each record was last processed so a record is
// scanned at most once per TTL. It is not safe for concurrent use; the
// stream processor guards it.
type RecentCache struct {
	ttl     time.Duration
	entries map[int64]time.Time
}

// NewRecentCache creates an empty cache.
func NewRecentCache(ttl time.Duration) *RecentCache {
	return &RecentCache{ttl: ttl, entries: make(map[int64]time.Time)}
}

// ShouldProcess reports whether id has no entry or its entry is older than the TTL.
func (c *RecentCache) ShouldProcess(id int64, now time.Time) bool {
	last, ok := c.entries[id]
	if !ok {
		return true
	}
	return now.Sub(last) > c.ttl
}

// Mark records id as processed at now.
func (c *RecentCache) Mark(id int64, now time.Time) {
	c.entries[id] = now
}

// EvictExpired drops entries older than the TTL and returns how many were removed.
func (c *RecentCache) EvictExpired(now time.Time) int {
	n := 0
	for id, last := range c.entries {
		if now.Sub(last) > c.ttl {
			delete(c.entries, id)
			n++
		}
	}
	return n
}

// Len returns the number of tracked records.
func (c *RecentCache) Len() int { return len(c.entries) }

// TTL returns the configured time to live.
func (c *RecentCache) TTL() time.Duration { return c.ttl }
