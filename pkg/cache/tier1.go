package cache

import (
	"time"

	"github.com/verdictai/verdict-oss/pkg/decision"
	"github.com/verdictai/verdict-oss/pkg/domain"
)

// cacheEntry is a tier-1 slot. Entries are never mutated after insertion;
// expiry is handled by replacement, not update.
type cacheEntry struct {
	decision   domain.PolicyDecision
	insertedAt time.Time
}

// tierOne is the bounded in-process store. Eviction removes the entry with
// the oldest insertion time, an approximate LRU keyed on last write rather
// than last read. Correctness depends only on the size bound, not recency
// optimality. Not safe for concurrent use on its own; TwoTierCache holds the
// lock.
type tierOne struct {
	capacity int
	ttl      time.Duration
	entries  map[decision.Key]cacheEntry
}

func newTierOne(capacity int, ttl time.Duration) *tierOne {
	return &tierOne{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[decision.Key]cacheEntry, capacity),
	}
}

func (t *tierOne) get(key decision.Key, now time.Time) (domain.PolicyDecision, bool) {
	entry, ok := t.entries[key]
	if !ok {
		return domain.PolicyDecision{}, false
	}
	if t.ttl > 0 && now.Sub(entry.insertedAt) > t.ttl {
		delete(t.entries, key)
		return domain.PolicyDecision{}, false
	}
	return entry.decision, true
}

func (t *tierOne) put(key decision.Key, dec domain.PolicyDecision, now time.Time) {
	if _, exists := t.entries[key]; !exists && len(t.entries) >= t.capacity {
		t.evictOldest()
	}
	t.entries[key] = cacheEntry{decision: dec, insertedAt: now}
}

// evictOldest removes exactly one entry, the one with the oldest insertion
// time. A linear scan is fine at the capacities this cache runs with.
func (t *tierOne) evictOldest() {
	var (
		oldestKey decision.Key
		oldestAt  time.Time
		found     bool
	)
	for key, entry := range t.entries {
		if !found || entry.insertedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.insertedAt
			found = true
		}
	}
	if found {
		delete(t.entries, oldestKey)
	}
}

func (t *tierOne) size() int {
	return len(t.entries)
}
