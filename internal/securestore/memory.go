package securestore

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store implementation backed by a plain
// map, used in tests where a Badger data directory would be unwanted
// overhead. fabricd itself always opens a BadgerStore.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Read(ctx context.Context, namespace, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key(namespace, name))]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryStore) Write(ctx context.Context, namespace, name string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[string(key(namespace, name))] = cp
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, namespace, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key(namespace, name)))
	return nil
}

func (m *MemoryStore) Flush(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
