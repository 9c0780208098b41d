package storage

import (
	"context"
	"sync"
)

// MemoryAdapter is a map-backed Adapter for tests and ephemeral runs.
type MemoryAdapter struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryAdapter creates an empty in-memory adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{data: make(map[string][]byte)}
}

// Get returns the stored value, or (nil, nil) when absent.
func (a *MemoryAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	raw, ok := a.data[key]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return cp, nil
}

// Set stores a copy of value under key.
func (a *MemoryAdapter) Set(ctx context.Context, key string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data[key] = cp
	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (a *MemoryAdapter) Remove(ctx context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.data, key)
	return nil
}

// Keys returns all stored keys.
func (a *MemoryAdapter) Keys(ctx context.Context) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	keys := make([]string, 0, len(a.data))
	for key := range a.data {
		keys = append(keys, key)
	}
	return keys, nil
}

// Close is a no-op.
func (a *MemoryAdapter) Close() error { return nil }

var _ Adapter = (*MemoryAdapter)(nil)
