// Package compact shrinks long linear runs of history into synthetic
// commits. Originals move to an audit archive before anything else happens,
// redirects keep every collapsed id resolvable, and branch heads are
// re-checked before originals are removed, so a racing fork can never be
// left pointing at nothing.
package compact

import (
	"context"
	"errors"
	"sync"

	"github.com/trellis-data/trellis/dag"
)

var (
	// ErrSkipped is returned for a branch whose lock was contended. The
	// compactor moves on and retries next cycle; writers never wait for it.
	ErrSkipped = errors.New("branch skipped: lock contention")

	// ErrNotArchived is returned when an id has never been through
	// compaction.
	ErrNotArchived = errors.New("commit not archived")
)

// IsNotArchived returns true if the error is ErrNotArchived.
func IsNotArchived(err error) bool {
	return errors.Is(err, ErrNotArchived)
}

// Archive preserves collapsed commits for audit. Saved commits are kept
// forever: compaction trades walk length for archive space, never for
// history.
type Archive interface {
	// Save stores the originals of one collapsed run along with the id of
	// the synthetic commit that replaced them. branch is a hint recorded for
	// operators; lookups are by commit id.
	Save(ctx context.Context, branch string, commits []*dag.Commit, syntheticID string) error

	// Get returns an archived original by id, or ErrNotArchived.
	Get(ctx context.Context, id string) (*dag.Commit, error)

	// SyntheticFor returns the id of the synthetic commit that replaced an
	// archived original, or ErrNotArchived.
	SyntheticFor(ctx context.Context, id string) (string, error)
}

// MemoryArchive is an in-process archive for tests and single-node use.
type MemoryArchive struct {
	mu        sync.RWMutex
	commits   map[string]*dag.Commit
	synthetic map[string]string
}

// NewMemoryArchive creates an empty archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{
		commits:   make(map[string]*dag.Commit),
		synthetic: make(map[string]string),
	}
}

// Save stores the run. Re-archiving an id overwrites its synthetic pointer;
// that happens when a synthetic commit is itself collapsed later.
func (a *MemoryArchive) Save(ctx context.Context, branch string, commits []*dag.Commit, syntheticID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range commits {
		a.commits[c.ID] = c
		a.synthetic[c.ID] = syntheticID
	}
	return nil
}

// Get returns an archived commit by id.
func (a *MemoryArchive) Get(ctx context.Context, id string) (*dag.Commit, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.commits[id]
	if !ok {
		return nil, ErrNotArchived
	}
	return c, nil
}

// SyntheticFor returns the synthetic id that replaced an archived commit.
func (a *MemoryArchive) SyntheticFor(ctx context.Context, id string) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	sid, ok := a.synthetic[id]
	if !ok {
		return "", ErrNotArchived
	}
	return sid, nil
}

var _ Archive = (*MemoryArchive)(nil)
