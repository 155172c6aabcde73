package branch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryDirectory is the in-process branch registry used by tests and
// single-node deployments.
type MemoryDirectory struct {
	mu       sync.Mutex
	branches map[string]Branch
}

// NewMemoryDirectory creates an empty in-memory branch directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{branches: make(map[string]Branch)}
}

// Head returns the current head commit id, or ErrNotFound.
func (m *MemoryDirectory) Head(ctx context.Context, name string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.branches[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return b.Head, nil
}

// Create registers a branch pointing at fromCommit.
func (m *MemoryDirectory) Create(ctx context.Context, name, fromCommit string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if name == "" {
		return errors.New("branch name required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.branches[name]; ok {
		return fmt.Errorf("%w: %s", ErrExists, name)
	}
	m.branches[name] = Branch{
		Name:      name,
		Head:      fromCommit,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

// AdvanceHead moves the head from expected to next.
func (m *MemoryDirectory) AdvanceHead(ctx context.Context, name, expected, next string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.branches[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if b.Head != expected {
		return fmt.Errorf("%w: %s is at %s, expected %s", ErrStaleHead, name, b.Head, expected)
	}
	b.Head = next
	m.branches[name] = b
	return nil
}

// Delete removes the branch pointer.
func (m *MemoryDirectory) Delete(ctx context.Context, name string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.branches[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(m.branches, name)
	return nil
}

// List returns all branches sorted by name.
func (m *MemoryDirectory) List(ctx context.Context) ([]Branch, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Branch, 0, len(m.branches))
	for _, b := range m.branches {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

var _ Directory = (*MemoryDirectory)(nil)
