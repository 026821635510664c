package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

const layerMemory = "memory"

// MemoryStore is an in-process Store. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

// Layer returns "memory".
func (m *MemoryStore) Layer() string { return layerMemory }

// Get retrieves a cache entry by key.
func (m *MemoryStore) Get(_ context.Context, key Key) (*Entry, error) {
	k := key.String()

	m.mu.RLock()
	entry, ok := m.entries[k]
	m.mu.RUnlock()

	if !ok {
		CacheMisses.WithLabelValues(layerMemory).Inc()
		return nil, ErrCacheMiss
	}
	if entry.IsExpired() {
		m.remove(k)
		CacheMisses.WithLabelValues(layerMemory).Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues(layerMemory).Inc()
	cp := *entry
	return &cp, nil
}

// Set stores a copy of entry under key.
func (m *MemoryStore) Set(_ context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	if entry.IsExpired() {
		return nil
	}

	cp := *entry
	k := key.String()

	m.mu.Lock()
	if _, exists := m.entries[k]; !exists {
		CacheEntries.WithLabelValues(layerMemory).Inc()
	}
	m.entries[k] = &cp
	m.mu.Unlock()
	return nil
}

// Delete removes a cache entry.
func (m *MemoryStore) Delete(_ context.Context, key Key) error {
	m.remove(key.String())
	return nil
}

// Clear removes every entry in namespace.
func (m *MemoryStore) Clear(_ context.Context, namespace string) error {
	prefix := strings.TrimSuffix(NamespacePattern(namespace), "*")

	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
			CacheEntries.WithLabelValues(layerMemory).Dec()
		}
	}
	return nil
}

// Len returns the number of entries held, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryStore) remove(k string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[k]; ok {
		delete(m.entries, k)
		CacheEntries.WithLabelValues(layerMemory).Dec()
	}
}
