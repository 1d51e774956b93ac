package store

import (
	"context"
	"sync"
)

// MemoryStore is a volatile Store kept in a process local map. It is safe for
// concurrent access and suited for tests and single-process development.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[Ref][]byte
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[Ref][]byte)}
}

// Read returns a copy of the blob at ref.
func (m *MemoryStore) Read(ctx context.Context, ref Ref) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Write stores a copy of data at ref.
func (m *MemoryStore) Write(ctx context.Context, ref Ref, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[ref] = append([]byte(nil), data...)
	return nil
}

// Len returns the number of stored blobs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
