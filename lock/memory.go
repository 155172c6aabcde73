package lock

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memEntry is the lease state for one key: at most one exclusive holder, or
// any number of shared holders keyed by token.
type memEntry struct {
	exclusive *Record
	shared    map[string]*Record
}

// MemoryCoordinator is the in-process lease store used by tests and
// single-node deployments. Expired leases are swept lazily on access, the
// same way the TTL would fire in a real coordination store.
type MemoryCoordinator struct {
	mu      sync.Mutex
	entries map[string]*memEntry
}

// NewMemoryCoordinator creates an empty in-memory coordinator.
func NewMemoryCoordinator() *MemoryCoordinator {
	return &MemoryCoordinator{entries: make(map[string]*memEntry)}
}

// TryAcquire attempts to take the lock once.
func (m *MemoryCoordinator) TryAcquire(ctx context.Context, key, token, holder string, mode Mode, ttl time.Duration) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	e := m.entry(key, now)

	rec := &Record{
		Key:        key,
		Token:      token,
		Holder:     holder,
		Mode:       mode,
		AcquiredAt: now,
		Deadline:   now.Add(ttl),
	}

	switch mode {
	case Exclusive:
		if e.exclusive != nil || len(e.shared) > 0 {
			return false, nil
		}
		e.exclusive = rec
		return true, nil
	default:
		if e.exclusive != nil {
			return false, nil
		}
		e.shared[token] = rec
		return true, nil
	}
}

// Release frees the lease if token still owns it.
func (m *MemoryCoordinator) Release(ctx context.Context, key, token string, mode Mode) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entry(key, time.Now())
	switch mode {
	case Exclusive:
		if e.exclusive == nil || e.exclusive.Token != token {
			return false, nil
		}
		e.exclusive = nil
	default:
		if _, ok := e.shared[token]; !ok {
			return false, nil
		}
		delete(e.shared, token)
	}
	m.drop(key, e)
	return true, nil
}

// Extend renews the lease deadline if token still owns it.
func (m *MemoryCoordinator) Extend(ctx context.Context, key, token string, mode Mode, ttl time.Duration) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	e := m.entry(key, now)
	switch mode {
	case Exclusive:
		if e.exclusive == nil || e.exclusive.Token != token {
			return false, nil
		}
		e.exclusive.Deadline = now.Add(ttl)
	default:
		rec, ok := e.shared[token]
		if !ok {
			return false, nil
		}
		rec.Deadline = now.Add(ttl)
	}
	return true, nil
}

// Holders returns a snapshot of live leases sorted by key.
func (m *MemoryCoordinator) Holders(ctx context.Context) ([]Record, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var out []Record
	for key, e := range m.entries {
		m.sweep(e, now)
		if e.exclusive != nil {
			out = append(out, *e.exclusive)
		}
		for _, rec := range e.shared {
			out = append(out, *rec)
		}
		m.drop(key, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].Token < out[j].Token
	})
	return out, nil
}

// entry returns the swept entry for a key, creating it if needed.
// Callers must hold m.mu.
func (m *MemoryCoordinator) entry(key string, now time.Time) *memEntry {
	e, ok := m.entries[key]
	if !ok {
		e = &memEntry{shared: make(map[string]*Record)}
		m.entries[key] = e
	}
	m.sweep(e, now)
	return e
}

func (m *MemoryCoordinator) sweep(e *memEntry, now time.Time) {
	if e.exclusive != nil && now.After(e.exclusive.Deadline) {
		e.exclusive = nil
	}
	for token, rec := range e.shared {
		if now.After(rec.Deadline) {
			delete(e.shared, token)
		}
	}
}

func (m *MemoryCoordinator) drop(key string, e *memEntry) {
	if e.exclusive == nil && len(e.shared) == 0 {
		delete(m.entries, key)
	}
}

var _ Coordinator = (*MemoryCoordinator)(nil)
