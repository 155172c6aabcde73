// Package branch names lines of history. A branch is nothing but a pointer
// to a commit; all movement goes through a compare-and-swap so concurrent
// writers cannot silently overwrite each other.
package branch

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a branch does not exist.
	ErrNotFound = errors.New("branch not found")

	// ErrExists is returned when creating a branch whose name is taken.
	ErrExists = errors.New("branch already exists")

	// ErrStaleHead is returned when a CAS advance loses a race: the head
	// moved since the caller read it. Retry from a fresh read.
	ErrStaleHead = errors.New("stale branch head")
)

// IsNotFound returns true if the error is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsStaleHead returns true if the error is ErrStaleHead.
func IsStaleHead(err error) bool {
	return errors.Is(err, ErrStaleHead)
}

// Branch is a named head pointer.
type Branch struct {
	Name      string    `json:"name"`
	Head      string    `json:"head"`
	CreatedAt time.Time `json:"created_at"`
}

// Directory is the authoritative registry of branches. AdvanceHead is the
// only way a head moves, and it is atomic: locks serialize writers as a
// courtesy, the CAS is what makes lost updates impossible.
type Directory interface {
	// Head returns the current head commit id, or ErrNotFound.
	Head(ctx context.Context, name string) (string, error)

	// Create registers a branch pointing at fromCommit, or ErrExists.
	Create(ctx context.Context, name, fromCommit string) error

	// AdvanceHead moves the head from expected to next. ErrStaleHead if the
	// head is no longer expected, ErrNotFound if the branch is gone.
	AdvanceHead(ctx context.Context, name, expected, next string) error

	// Delete removes the branch pointer. Commits stay reachable from other
	// branches or by id.
	Delete(ctx context.Context, name string) error

	// List returns all branches sorted by name.
	List(ctx context.Context) ([]Branch, error)
}
