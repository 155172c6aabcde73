package dag

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no live commit exists for an id and no
	// redirect covers it.
	ErrNotFound = errors.New("commit not found")

	// ErrMissingParent is returned by Put when a parent id is neither live
	// nor redirected. Parents-first insertion is what keeps the graph
	// acyclic.
	ErrMissingParent = errors.New("parent commit not found")

	// ErrNotSealed is returned by Put when a commit's ID does not match its
	// body hash.
	ErrNotSealed = errors.New("commit not sealed")

	// ErrNoCommonAncestor is returned when two commits share no history.
	ErrNoCommonAncestor = errors.New("no common ancestor")
)

// IsNotFound returns true if the error is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store is the append-only commit store. Commits are only ever removed by
// the compactor, and only after a redirect to their synthetic replacement
// is in place, so readers holding an id can always resolve it.
//
// Child indexes answer "which live commits point here". Children of a
// synthetic commit include the surviving children of every commit it
// collapsed, so chain detection keeps working across compactions.
type Store interface {
	// Put appends a sealed commit and indexes it under its parents.
	// Every parent must be live or redirected: ErrMissingParent otherwise.
	Put(ctx context.Context, c *Commit) error

	// Get returns a live commit by id, or ErrNotFound. It does not follow
	// redirects; use a Walker for resolution.
	Get(ctx context.Context, id string) (*Commit, error)

	// Has reports whether a live commit exists for the id.
	Has(ctx context.Context, id string) (bool, error)

	// Children returns the ids of live commits whose parents resolve to id,
	// sorted for determinism.
	Children(ctx context.Context, id string) ([]string, error)

	// AddRedirect makes every id in from resolve to the live commit to.
	AddRedirect(ctx context.Context, from []string, to string) error

	// Redirect returns the redirect target for an id, if any.
	Redirect(ctx context.Context, id string) (string, bool, error)

	// RemoveRedirect deletes redirects, used to roll back an aborted
	// compaction before any original commit has been removed.
	RemoveRedirect(ctx context.Context, from []string) error

	// Remove deletes a live commit and unlinks it from its parents' child
	// indexes. Compactor use only.
	Remove(ctx context.Context, id string) error
}
