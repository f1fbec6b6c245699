package session

import "sync"

// Store is the key/value backend holding session state. Set applies every
// entry of the batch or none of them. Snapshot reads several keys from one
// consistent view and omits the missing ones.
type Store interface {
	Get(key string) (string, bool)
	Snapshot(keys ...string) map[string]string
	Set(values map[string]string) error
	Delete(keys ...string) error
	Clear() error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *MemoryStore) Snapshot(keys ...string) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return pick(m.values, keys)
}

func (m *MemoryStore) Set(values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

func (m *MemoryStore) Delete(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[string]string)
	return nil
}

// pick copies the present keys out of entries.
func pick(entries map[string]string, keys []string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := entries[k]; ok {
			out[k] = v
		}
	}
	return out
}
