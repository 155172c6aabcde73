package snapshot

import (
	"context"
	"sync"
)

// MemoryStore keeps snapshots in process memory. It is the backend used by
// tests and by single-node deployments that persist elsewhere.
type MemoryStore struct {
	data sync.Map // ID -> []byte
}

// NewMemoryStore creates an empty in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Put stores canonical bytes under their content ID.
func (m *MemoryStore) Put(ctx context.Context, data []byte) (ID, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	id, err := ComputeID(data)
	if err != nil {
		return "", err
	}

	// Content-addressed: identical data is already in place.
	if _, loaded := m.data.Load(id); loaded {
		return id, nil
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	m.data.Store(id, stored)
	return id, nil
}

// Get returns the canonical bytes for an ID, or ErrNotFound.
func (m *MemoryStore) Get(ctx context.Context, id ID) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	value, ok := m.data.Load(id)
	if !ok {
		return nil, ErrNotFound
	}

	stored := value.([]byte)
	out := make([]byte, len(stored))
	copy(out, stored)
	return out, nil
}

// Has reports whether a snapshot exists for the ID.
func (m *MemoryStore) Has(ctx context.Context, id ID) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	_, ok := m.data.Load(id)
	return ok, nil
}

// Len returns the number of stored snapshots.
func (m *MemoryStore) Len() int {
	n := 0
	m.data.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

var _ Store = (*MemoryStore)(nil)
