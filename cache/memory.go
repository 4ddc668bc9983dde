package cache

import (
	"strings"
	"sync"
	"time"

	"dealflow/models"
)

type memoryEntry struct {
	products []models.Product
	storedAt time.Time
}

// memoryStore is the in-process tier. An entry is logically absent once
// now - storedAt > ttl, whether or not it has been physically evicted.
type memoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *memoryStore) get(key string, ttl time.Duration) ([]models.Product, bool) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if m.now().Sub(entry.storedAt) > ttl {
		m.mu.Lock()
		// Re-check under the write lock; a fresher write may have landed.
		if cur, ok := m.entries[key]; ok && cur.storedAt.Equal(entry.storedAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false
	}

	return entry.products, true
}

func (m *memoryStore) set(key string, products []models.Product) {
	m.mu.Lock()
	m.entries[key] = memoryEntry{products: products, storedAt: m.now()}
	m.mu.Unlock()
}

func (m *memoryStore) clearPrefix(prefix string) {
	m.mu.Lock()
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
		}
	}
	m.mu.Unlock()
}
