package cache

import (
	"context"
	"sync"
	"time"
)

type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

func (m *MemoryCache) Get(_ context.Context, fingerprint string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[fingerprint]
	if !ok {
		return Entry{}, false
	}
	if e.Expired(m.now()) {
		delete(m.entries, fingerprint)
		return Entry{}, false
	}
	return e, true
}

func (m *MemoryCache) Put(_ context.Context, entry Entry, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := m.now()
	entry.CreatedAt = now
	entry.ExpiresAt = now.Add(ttl)

	m.mu.Lock()
	m.entries[entry.Fingerprint] = entry
	m.mu.Unlock()
}

// Sweep drops expired entries and returns how many were removed.
func (m *MemoryCache) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for k, e := range m.entries {
		if e.Expired(now) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Count returns the number of live entries.
func (m *MemoryCache) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for _, e := range m.entries {
		if !e.Expired(now) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryCache) Clear(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.entries)
	m.entries = make(map[string]Entry)
	return n, nil
}
