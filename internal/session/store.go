package session

import "sync"

// MemoryStore is an in-memory Store, used by tests and by tools that run
// without a browser cookie jar.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[name]
	return v, ok
}

func (m *MemoryStore) Set(name, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] = value
}

func (m *MemoryStore) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, name)
}
