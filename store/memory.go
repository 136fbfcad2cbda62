package store

import (
	"context"
	"sync"

	"collabdoc/doc"
)

// MemoryStore keeps documents in process memory. It backs tests and
// single-process setups.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*doc.Document
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*doc.Document)}
}

func (m *MemoryStore) Create(_ context.Context, d *doc.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[d.ID]; ok {
		return ErrExists
	}
	m.docs[d.ID] = d.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*doc.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

func (m *MemoryStore) Put(_ context.Context, d *doc.Document, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.docs[d.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.State.Version != expectedVersion {
		return ErrVersionMismatch
	}
	m.docs[d.ID] = d.Clone()
	return nil
}
