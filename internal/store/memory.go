package store

import (
	"context"
	"sync"

	"github.com/theirongolddev/creditwatch/internal/model"
)

// MemoryStore keeps the ledger in process memory. It backs the "memory"
// store kind, where nothing outlives the process (dry runs, a throwaway
// daemon), and the service tests.
type MemoryStore struct {
	mu     sync.Mutex
	ledger *model.Ledger
	saves  int
}

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the stored ledger.
func (m *MemoryStore) Load(_ context.Context) (model.Ledger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ledger == nil {
		return model.Ledger{}, ErrNotFound
	}
	return m.ledger.Clone(), nil
}

// Save replaces the stored ledger with a copy of l.
func (m *MemoryStore) Save(_ context.Context, l model.Ledger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := l.Clone()
	m.ledger = &c
	m.saves++
	return nil
}

// Saves reports how many times Save was called.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Name identifies the in-memory ledger.
func (m *MemoryStore) Name() string { return "memory" }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
