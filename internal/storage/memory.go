package storage

import (
	"context"
	"sync"
)

// Memory keeps everything in a process-local map.
type Memory struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string][]byte)}
}

func (m *Memory) Write(_ context.Context, path string, data []byte) error {
	if err := validatePath(path); err != nil {
		return err
	}
	m.mu.Lock()
	m.items[path] = cloneBytes(data)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Read(_ context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	data, ok := m.items[path]
	m.mu.RUnlock()
	if !ok {
		return nil, notFound(path)
	}
	return cloneBytes(data), nil
}

func (m *Memory) Exists(_ context.Context, path string) (bool, error) {
	m.mu.RLock()
	_, ok := m.items[path]
	m.mu.RUnlock()
	return ok, nil
}

func (m *Memory) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	delete(m.items, path)
	m.mu.Unlock()
	return nil
}

func (m *Memory) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	paths := make([]string, 0, len(m.items))
	for path := range m.items {
		paths = append(paths, path)
	}
	return paths, nil
}

func (m *Memory) Close() error { return nil }
