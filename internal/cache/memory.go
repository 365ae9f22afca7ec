package cache

import (
	"context"
	"encoding/json"
	"sync"
)

// Memory is a process-local cache with the same semantics as the Redis
// implementation. Used in development and tests.
type Memory struct {
	mu     sync.RWMutex
	hashes map[Name]map[string][]byte
}

// NewMemory creates an empty Memory cache.
func NewMemory() *Memory {
	return &Memory{hashes: make(map[Name]map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, name Name, key string, dest any) error {
	m.mu.RLock()
	raw, ok := m.hashes[name][key]
	m.mu.RUnlock()
	if !ok {
		return ErrMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *Memory) GetAll(ctx context.Context, name Name) (map[string]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hash := m.hashes[name]
	if len(hash) == 0 {
		return nil, ErrMiss
	}
	out := make(map[string]json.RawMessage, len(hash))
	for k, v := range hash {
		out[k] = json.RawMessage(append([]byte(nil), v...))
	}
	return out, nil
}

func (m *Memory) Set(ctx context.Context, name Name, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hashes[name] == nil {
		m.hashes[name] = make(map[string][]byte)
	}
	m.hashes[name][key] = raw
	return nil
}

func (m *Memory) Update(ctx context.Context, name Name, key string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	merged, err := merge(m.hashes[name][key], fields)
	if err != nil {
		return err
	}
	if m.hashes[name] == nil {
		m.hashes[name] = make(map[string][]byte)
	}
	m.hashes[name][key] = merged
	return nil
}

func (m *Memory) Delete(ctx context.Context, name Name, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.hashes[name], k)
	}
	return nil
}
