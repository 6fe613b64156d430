package blob

import (
	"context"
	"io"
	"sync"
)

// Memory keeps blobs in process memory.
type Memory struct {
	mu   sync.RWMutex
	objs map[string][]byte
}

func NewMemory() *Memory { return &Memory{objs: make(map[string][]byte)} }

func (m *Memory) Driver() Driver { return DriverMemory }

func (m *Memory) Put(_ context.Context, key string, r io.Reader, _ string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objs[key] = b
	return nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objs[key]
	return ok, nil
}

func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objs[key]
	delete(m.objs, key)
	return ok, nil
}

// Bytes returns a copy of a stored blob.
func (m *Memory) Bytes(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objs[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}
