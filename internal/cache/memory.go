// In-process bounded cache provider.
package cache

import (
	"context"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/issuepilot/context-engine/internal/contextagg"
)

// MemoryStore is a bounded in-process cache with TTL eviction.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[string]memoryEntry
	maxEntries int

	hits   atomic.Int64
	misses atomic.Int64
}

type memoryEntry struct {
	resp      *contextagg.ContextResponse
	expiresAt time.Time
}

// NewMemoryStore creates a store holding at most maxEntries responses.
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &MemoryStore{
		entries:    make(map[string]memoryEntry),
		maxEntries: maxEntries,
	}
}

// Get returns the cached response, treating expired entries as misses.
func (m *MemoryStore) Get(_ context.Context, key string) (*contextagg.ContextResponse, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || time.Now().After(e.expiresAt) {
		if ok {
			m.mu.Lock()
			// Re-check under the write lock; another writer may have
			// refreshed the entry.
			if cur, still := m.entries[key]; still && time.Now().After(cur.expiresAt) {
				delete(m.entries, key)
			}
			m.mu.Unlock()
		}
		m.misses.Add(1)
		return nil, false
	}
	m.hits.Add(1)
	return e.resp, true
}

// Set stores a response, evicting the entry closest to expiry when full.
func (m *MemoryStore) Set(_ context.Context, key string, resp *contextagg.ContextResponse, ttl time.Duration) {
	if resp == nil || ttl <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.maxEntries {
		m.evictSoonestLocked()
	}
	m.entries[key] = memoryEntry{resp: resp, expiresAt: time.Now().Add(ttl)}
}

// evictSoonestLocked drops the entry expiring soonest. Caller holds mu.
func (m *MemoryStore) evictSoonestLocked() {
	var victim string
	var soonest time.Time
	for k, e := range m.entries {
		if victim == "" || e.expiresAt.Before(soonest) {
			victim, soonest = k, e.expiresAt
		}
	}
	if victim != "" {
		delete(m.entries, victim)
	}
}

// Delete removes one key.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Clear removes entries matching pattern; empty pattern removes all.
func (m *MemoryStore) Clear(_ context.Context, pattern string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pattern == "" {
		n := len(m.entries)
		m.entries = make(map[string]memoryEntry)
		return n, nil
	}

	removed := 0
	for k := range m.entries {
		if ok, _ := path.Match(pattern, k); ok {
			delete(m.entries, k)
			removed++
		}
	}
	return removed, nil
}

// Healthy always holds for the in-process store.
func (m *MemoryStore) Healthy(_ context.Context) bool { return true }

// Stats returns the counters.
func (m *MemoryStore) Stats() Stats {
	m.mu.RLock()
	entries := len(m.entries)
	m.mu.RUnlock()
	return Stats{
		Hits:    m.hits.Load(),
		Misses:  m.misses.Load(),
		Entries: entries,
	}
}

// Close is a no-op for the in-process store.
func (m *MemoryStore) Close() error { return nil }
