package docstore

import (
	"sort"
	"strings"
	"sync"

	"camstore/internal/model"
	"camstore/internal/station"
)

// memoryBackend keeps encoded documents in a map. Useful for testing.
type memoryBackend struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

var _ backend = (*memoryBackend)(nil)

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{docs: make(map[string][]byte)}
}

func (m *memoryBackend) load(key model.Key) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.docs[key.String()]
	if !ok {
		return nil, station.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *memoryBackend) save(key model.Key, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key.String()] = append([]byte(nil), data...)
	return nil
}

func (m *memoryBackend) exists(key model.Key) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.docs[key.String()]
	return ok
}

func (m *memoryBackend) keys(kind model.Kind) ([]model.Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []model.Key
	for raw := range m.docs {
		if raw != string(kind) && !strings.HasPrefix(raw, string(kind)+"/") {
			continue
		}
		if key, err := model.ParseKey(raw); err == nil {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}

func (m *memoryBackend) close() error { return nil }
