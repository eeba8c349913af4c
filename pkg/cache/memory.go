package cache

import (
	"context"
	"sort"
	"sync"
)

// MemoryStorage keeps named caches in process memory.
type MemoryStorage struct {
	mu     sync.RWMutex
	stores map[string]*memoryStore
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{stores: make(map[string]*memoryStore)}
}

func (m *MemoryStorage) Open(_ context.Context, name string) (Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[name]; ok {
		return s, nil
	}
	s := &memoryStore{name: name, parent: m, entries: make(map[string]*Entry)}
	m.stores[name] = s
	return s, nil
}

func (m *MemoryStorage) Has(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.stores[name]
	return ok, nil
}

func (m *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	s, ok := m.stores[name]
	delete(m.stores, name)
	m.mu.Unlock()

	if ok {
		// Handles still held by callers see an empty cache.
		s.clear()
	}
	return ok, nil
}

func (m *MemoryStorage) Names(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.stores))
	for name := range m.stores {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStorage) Close() error { return nil }

// adopt returns the registered store for s's name, registering s when the
// name was deleted while s was still held.
func (m *MemoryStorage) adopt(s *memoryStore) *memoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.stores[s.name]; ok {
		return cur
	}
	m.stores[s.name] = s
	return s
}

type memoryStore struct {
	name   string
	parent *MemoryStorage

	mu      sync.RWMutex
	entries map[string]*Entry
}

func (s *memoryStore) Name() string { return s.name }

func (s *memoryStore) Match(_ context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return e.Clone(), nil
}

// Put writes through to the cache currently registered under the store's
// name, so a handle held across a cache deletion does not write into a
// detached map.
func (s *memoryStore) Put(_ context.Context, key string, entry *Entry) error {
	target := s.parent.adopt(s)
	target.mu.Lock()
	defer target.mu.Unlock()
	target.entries[key] = entry.Clone()
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *memoryStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.entries))
	for k := range s.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (s *memoryStore) Size(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, e := range s.entries {
		total += e.Size()
	}
	return total, nil
}

func (s *memoryStore) clear() {
	s.mu.Lock()
	s.entries = make(map[string]*Entry)
	s.mu.Unlock()
}
