package store

import (
	"sort"
	"sync"
)

// Backend is raw key/value storage. Values reaching a Backend are already
// obfuscated where required. Apply must apply all sets and deletes as one
// unit or none of them.
type Backend interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
	Keys() ([]string, error)
	Apply(sets map[string]string, deletes []string) error
}

var _ Backend = (*MemoryBackend)(nil)

// MemoryBackend keeps values for the lifetime of the process. It backs
// ephemeral (session-scoped) storage and memory-only mode.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string]string)}
}

func (m *MemoryBackend) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryBackend) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryBackend) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *MemoryBackend) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryBackend) Apply(sets map[string]string, deletes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range deletes {
		delete(m.values, k)
	}
	for k, v := range sets {
		m.values[k] = v
	}
	return nil
}
