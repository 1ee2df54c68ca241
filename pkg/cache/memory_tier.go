package cache

import (
	"context"
	"sync"
	"time"

	"github.com/verdictai/verdict-oss/pkg/decision"
	"github.com/verdictai/verdict-oss/pkg/domain"
)

// MemoryTier is an in-memory Tier implementation. It backs single-process
// deployments and tests; a shared deployment substitutes the HTTP tier.
type MemoryTier struct {
	mu      sync.RWMutex
	entries map[decision.Key]memoryTierEntry
}

type memoryTierEntry struct {
	decision  domain.PolicyDecision
	expiresAt time.Time
}

// NewMemoryTier creates an empty in-memory tier.
func NewMemoryTier() *MemoryTier {
	return &MemoryTier{entries: make(map[decision.Key]memoryTierEntry)}
}

// Get retrieves a decision, honouring TTL expiry.
func (m *MemoryTier) Get(_ context.Context, key decision.Key) (domain.PolicyDecision, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return domain.PolicyDecision{}, false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return domain.PolicyDecision{}, false, nil
	}
	return entry.decision.Clone(), true, nil
}

// Set stores a decision with the given TTL. A zero TTL stores forever.
func (m *MemoryTier) Set(_ context.Context, key decision.Key, dec domain.PolicyDecision, ttl time.Duration) error {
	entry := memoryTierEntry{decision: dec.Clone()}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

// Len reports the number of stored entries.
func (m *MemoryTier) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close is a no-op for the memory tier.
func (m *MemoryTier) Close() error {
	return nil
}
