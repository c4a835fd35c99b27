package kvstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Store is a small key/value store for non-secret state such as the site
// registry. Values are encoded by the backend; Get decodes into out.
type Store interface {
	// Get decodes the value stored under key into out. It reports false,
	// with a nil error, when the key does not exist.
	Get(key string, out any) (bool, error)
	Set(key string, value any) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
	// Keys returns the sorted keys starting with prefix.
	Keys(prefix string) ([]string, error)
	Close() error
}

// MemoryStore keeps JSON-encoded values in memory. Values are copied on
// both Set and Get, so callers never share state with the store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Get(key string, out any) (bool, error) {
	m.mu.RLock()
	raw, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("failed to decode value for %q: %w", key, err)
	}
	return true, nil
}

func (m *MemoryStore) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %q: %w", key, err)
	}
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Keys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) Close() error { return nil }
