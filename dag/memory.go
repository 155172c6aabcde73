package dag

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is the in-process commit store used by tests and single-node
// deployments.
type MemoryStore struct {
	mu        sync.RWMutex
	commits   map[string]*Commit
	children  map[string]map[string]struct{}
	redirects map[string]string
}

// NewMemoryStore creates an empty in-memory commit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		commits:   make(map[string]*Commit),
		children:  make(map[string]map[string]struct{}),
		redirects: make(map[string]string),
	}
}

// Put appends a sealed commit and indexes it under its parents.
func (m *MemoryStore) Put(ctx context.Context, c *Commit) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	want, err := c.ComputeID()
	if err != nil {
		return err
	}
	if c.ID == "" || c.ID != want {
		return fmt.Errorf("%w: %s", ErrNotSealed, c.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range c.Parents {
		if _, live := m.commits[p]; live {
			continue
		}
		if _, redirected := m.redirects[p]; redirected {
			continue
		}
		return fmt.Errorf("%w: %s", ErrMissingParent, p)
	}

	if _, exists := m.commits[c.ID]; exists {
		return nil
	}
	m.commits[c.ID] = c
	for _, p := range c.Parents {
		if m.children[p] == nil {
			m.children[p] = make(map[string]struct{})
		}
		m.children[p][c.ID] = struct{}{}
	}
	return nil
}

// Get returns a live commit by id, or ErrNotFound.
func (m *MemoryStore) Get(ctx context.Context, id string) (*Commit, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.commits[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c, nil
}

// Has reports whether a live commit exists for the id.
func (m *MemoryStore) Has(ctx context.Context, id string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.commits[id]
	return ok, nil
}

// Children returns the ids of live commits whose parents resolve to id.
func (m *MemoryStore) Children(ctx context.Context, id string) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	collect := func(key string) {
		for child := range m.children[key] {
			if _, live := m.commits[child]; live {
				seen[child] = struct{}{}
			}
		}
	}

	collect(id)
	// A synthetic commit inherits the surviving children of everything it
	// collapsed: those children still name the original ids as parents.
	if c, ok := m.commits[id]; ok && c.IsSynthetic() {
		for _, original := range c.Collapsed {
			collect(original)
		}
	}

	out := make([]string, 0, len(seen))
	for child := range seen {
		out = append(out, child)
	}
	sort.Strings(out)
	return out, nil
}

// AddRedirect makes every id in from resolve to the live commit to.
func (m *MemoryStore) AddRedirect(ctx context.Context, from []string, to string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, live := m.commits[to]; !live {
		return fmt.Errorf("%w: redirect target %s", ErrNotFound, to)
	}
	for _, f := range from {
		m.redirects[f] = to
	}
	return nil
}

// Redirect returns the redirect target for an id, if any.
func (m *MemoryStore) Redirect(ctx context.Context, id string) (string, bool, error) {
	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	default:
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	to, ok := m.redirects[id]
	return to, ok, nil
}

// RemoveRedirect deletes redirects.
func (m *MemoryStore) RemoveRedirect(ctx context.Context, from []string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range from {
		delete(m.redirects, f)
	}
	return nil
}

// Remove deletes a live commit and unlinks it from its parents.
func (m *MemoryStore) Remove(ctx context.Context, id string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.commits[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.commits, id)
	for _, p := range c.Parents {
		delete(m.children[p], id)
	}
	return nil
}

// Len returns the number of live commits.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.commits)
}

var _ Store = (*MemoryStore)(nil)
