// Package lock serializes mutating operations with leased, hierarchical
// locks. Scopes nest Branch > ResourceType > Resource; a lock below the
// branch level can only be taken by a holder that already owns the level
// above it, which fixes the acquisition order and makes deadlock between
// writers structurally impossible. Leases expire on their own, so a crashed
// holder costs one TTL of availability instead of an operator page.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trellis-data/trellis/schema"
)

var (
	// ErrHierarchyViolation is returned when a lock is requested without the
	// enclosing scope held. This is a caller bug: it is detected locally,
	// before any coordination-store call, and must never be retried.
	ErrHierarchyViolation = errors.New("lock hierarchy violation")

	// ErrTimeout is returned when a lock could not be acquired within the
	// caller's wait budget. Transient: retry with backoff.
	ErrTimeout = errors.New("lock acquisition timed out")

	// ErrNotHeld is returned by Release and Extend when the lease behind a
	// handle is gone: it expired and may have been taken by someone else.
	ErrNotHeld = errors.New("lock not held")
)

// IsTimeout returns true if the error is ErrTimeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsHierarchyViolation returns true if the error is ErrHierarchyViolation.
func IsHierarchyViolation(err error) bool {
	return errors.Is(err, ErrHierarchyViolation)
}

// Mode distinguishes readers from writers. Any number of Shared holders may
// coexist; an Exclusive holder excludes everyone.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case Shared:
		return "shared"
	case Exclusive:
		return "exclusive"
	default:
		return "unknown"
	}
}

// Level is the depth of a scope in the hierarchy.
type Level int

const (
	LevelBranch Level = iota + 1
	LevelResourceType
	LevelResource
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelBranch:
		return "branch"
	case LevelResourceType:
		return "resource_type"
	case LevelResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Scope identifies what a lock covers. Branch alone covers the whole
// branch; adding a Kind narrows to one entity kind on that branch; adding
// a Resource narrows to one named entity.
type Scope struct {
	Branch   string
	Kind     schema.EntityKind
	Resource string

	level Level
}

// BranchScope covers every mutation on a branch.
func BranchScope(branch string) Scope {
	return Scope{Branch: branch, level: LevelBranch}
}

// ResourceTypeScope covers one entity kind on a branch.
func ResourceTypeScope(branch string, kind schema.EntityKind) Scope {
	return Scope{Branch: branch, Kind: kind, level: LevelResourceType}
}

// ResourceScope covers a single named entity on a branch. For properties,
// name the entity "Owner.Property".
func ResourceScope(branch string, kind schema.EntityKind, resource string) Scope {
	return Scope{Branch: branch, Kind: kind, Resource: resource, level: LevelResource}
}

// Level returns the scope's depth in the hierarchy.
func (s Scope) Level() Level {
	return s.level
}

// Key is the coordination-store key for the scope. Keys of nested scopes
// share a prefix but never collide.
func (s Scope) Key() string {
	switch s.level {
	case LevelBranch:
		return "branch/" + s.Branch
	case LevelResourceType:
		return fmt.Sprintf("branch/%s/kind/%s", s.Branch, s.Kind)
	case LevelResource:
		return fmt.Sprintf("branch/%s/kind/%s/res/%s", s.Branch, s.Kind, s.Resource)
	default:
		return ""
	}
}

// Parent returns the enclosing scope, or false at the branch level.
func (s Scope) Parent() (Scope, bool) {
	switch s.level {
	case LevelResourceType:
		return BranchScope(s.Branch), true
	case LevelResource:
		return ResourceTypeScope(s.Branch, s.Kind), true
	default:
		return Scope{}, false
	}
}

// String returns the scope key.
func (s Scope) String() string {
	return s.Key()
}

// Options control a single acquisition.
type Options struct {
	// Holder identifies who is asking, typically "author#operation". It
	// appears in lock records and drives the hierarchy check, so two
	// concurrent operations must not share a holder.
	Holder string

	// TTL is the lease duration. The lock frees itself this long after the
	// last successful Acquire or Extend, whether or not the holder is alive.
	TTL time.Duration

	// WaitTimeout bounds how long Acquire polls a contended lock before
	// giving up with ErrTimeout. Zero means a single attempt.
	WaitTimeout time.Duration
}

// Handle is proof of a held lease. The token fences stale holders: a handle
// whose lease expired and was re-acquired by someone else can no longer
// release or extend the lock.
type Handle struct {
	Scope    Scope
	Mode     Mode
	Holder   string
	Deadline time.Time

	token string
}

// Token returns the fencing token for the handle.
func (h *Handle) Token() string {
	return h.token
}

// Record describes one held lease, as reported by a coordinator. The
// monitor consumes these; nothing on the write path does.
type Record struct {
	Key        string
	Token      string
	Holder     string
	Mode       Mode
	AcquiredAt time.Time
	Deadline   time.Time
}

// Coordinator is the pluggable lease store. All methods are conditional on
// the fencing token, so an expired-and-reacquired lease cannot be touched
// by its previous owner. Implementations must be safe for concurrent use.
type Coordinator interface {
	// TryAcquire attempts to take the lock once, without blocking. It
	// reports whether the lease was granted.
	TryAcquire(ctx context.Context, key, token, holder string, mode Mode, ttl time.Duration) (bool, error)

	// Release frees the lease if token still owns it.
	Release(ctx context.Context, key, token string, mode Mode) (bool, error)

	// Extend renews the lease deadline if token still owns it.
	Extend(ctx context.Context, key, token string, mode Mode, ttl time.Duration) (bool, error)

	// Holders returns a snapshot of live leases for monitoring.
	Holders(ctx context.Context) ([]Record, error)
}
