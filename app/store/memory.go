package store

import (
	"context"
	"sync"
)

// Memory is a process-local key/value map. It serves as the default mirror
// and as a durable backend for tests and throwaway runs.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var (
	_ Backend = (*Memory)(nil)
	_ Mirror  = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := m.Load(key)
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	return m.Save(key, value)
}

func (m *Memory) Load(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

func (m *Memory) Save(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Close() error {
	return nil
}
