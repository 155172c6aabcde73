package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/trellis-data/trellis/branch"
	"github.com/trellis-data/trellis/dag"
	"github.com/trellis-data/trellis/diff"
	"github.com/trellis-data/trellis/lock"
	"github.com/trellis-data/trellis/manifest"
	"github.com/trellis-data/trellis/schema"
	"github.com/trellis-data/trellis/snapshot"
)

// commitRetries bounds the read-mutate-CAS loops in CommitWith and
// CommitEntity.
const commitRetries = 3

// Commit stores next as a new snapshot and lands it on the branch with the
// current head as parent. The caller assembled next from whatever state it
// observed; branch.ErrStaleHead surfaces when the head moves between the
// read and the CAS, and the caller decides whether to rebuild and retry.
func (e *Engine) Commit(ctx context.Context, caller Caller, branchName string, next *schema.Schema, message string) (*dag.Commit, error) {
	if err := caller.validate(); err != nil {
		return nil, err
	}
	if next == nil {
		return nil, errors.New("commit: schema required")
	}

	handle, err := e.locks.Acquire(ctx, lock.BranchScope(branchName), lock.Exclusive, e.lockOpts(holder(caller.Author)))
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", branchName, err)
	}
	defer e.release(ctx, handle)

	headID, err := e.branches.Head(ctx, branchName)
	if err != nil {
		return nil, err
	}
	commit, changes, err := e.commitOnHead(ctx, caller, branchName, headID, next, message)
	if err != nil {
		return nil, err
	}
	e.export(ctx, manifest.New(manifest.KindCommit, branchName, commit, changes, nil))
	return commit, nil
}

// CommitWith is the canonical read-mutate-write loop: it reads the head
// schema, applies mutate to a clone, and lands the result, retrying from a
// fresh head a bounded number of times if the CAS loses.
func (e *Engine) CommitWith(ctx context.Context, caller Caller, branchName, message string, mutate func(*schema.Schema) error) (*dag.Commit, error) {
	if err := caller.validate(); err != nil {
		return nil, err
	}
	if mutate == nil {
		return nil, errors.New("commit: mutate func required")
	}

	handle, err := e.locks.Acquire(ctx, lock.BranchScope(branchName), lock.Exclusive, e.lockOpts(holder(caller.Author)))
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", branchName, err)
	}
	defer e.release(ctx, handle)

	commit, changes, err := e.commitLoop(ctx, caller, branchName, message, mutate)
	if err != nil {
		return nil, err
	}
	e.export(ctx, manifest.New(manifest.KindCommit, branchName, commit, changes, nil))
	return commit, nil
}

// EntityMutation is a fine-grained write: it names the one entity it
// touches so CommitEntity can lock at the resource level instead of the
// whole branch. Mutate must stay inside that entity; the resource lock is
// what makes concurrent disjoint mutations safe to interleave.
type EntityMutation struct {
	// Kind and Name identify the entity, e.g. (KindObjectType, "User") or
	// (KindProperty, "User.email").
	Kind schema.EntityKind
	Name string

	Mutate func(*schema.Schema) error
}

// CommitEntity lands a single-entity mutation using the full lock
// hierarchy: branch shared, resource type shared, resource exclusive.
// Writers touching different entities proceed in parallel; the head CAS
// serializes their commits, and the bounded retry replays the mutation on
// whatever head won.
func (e *Engine) CommitEntity(ctx context.Context, caller Caller, branchName string, mutation EntityMutation, message string) (*dag.Commit, error) {
	if err := caller.validate(); err != nil {
		return nil, err
	}
	if mutation.Mutate == nil {
		return nil, errors.New("commit: mutate func required")
	}
	if mutation.Name == "" {
		return nil, errors.New("commit: entity name required")
	}

	h := holder(caller.Author)
	branchHandle, err := e.locks.Acquire(ctx, lock.BranchScope(branchName), lock.Shared, e.lockOpts(h))
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", branchName, err)
	}
	defer e.release(ctx, branchHandle)

	kindHandle, err := e.locks.Acquire(ctx, lock.ResourceTypeScope(branchName, mutation.Kind), lock.Shared, e.lockOpts(h))
	if err != nil {
		return nil, fmt.Errorf("lock %s/%s: %w", branchName, mutation.Kind, err)
	}
	defer e.release(ctx, kindHandle)

	resHandle, err := e.locks.Acquire(ctx, lock.ResourceScope(branchName, mutation.Kind, mutation.Name), lock.Exclusive, e.lockOpts(h))
	if err != nil {
		return nil, fmt.Errorf("lock %s/%s/%s: %w", branchName, mutation.Kind, mutation.Name, err)
	}
	defer e.release(ctx, resHandle)

	commit, changes, err := e.commitLoop(ctx, caller, branchName, message, mutation.Mutate)
	if err != nil {
		return nil, err
	}
	e.export(ctx, manifest.New(manifest.KindCommit, branchName, commit, changes, nil))
	return commit, nil
}

// commitLoop reads the head schema, mutates a clone, and lands it, retrying
// on a stale head. Callers hold whatever locks their write path requires.
func (e *Engine) commitLoop(ctx context.Context, caller Caller, branchName, message string, mutate func(*schema.Schema) error) (*dag.Commit, []diff.FieldChange, error) {
	var lastErr error
	for attempt := 0; attempt < commitRetries; attempt++ {
		headID, err := e.branches.Head(ctx, branchName)
		if err != nil {
			return nil, nil, err
		}
		head, err := e.walker.Resolve(ctx, headID)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve head %s: %w", headID, err)
		}
		current, err := snapshot.GetSchema(ctx, e.snapshots, head.Snapshot)
		if err != nil {
			return nil, nil, fmt.Errorf("load head snapshot: %w", err)
		}

		next := current.Clone()
		if err := mutate(next); err != nil {
			return nil, nil, fmt.Errorf("mutate schema: %w", err)
		}

		commit, changes, err := e.commitOnHead(ctx, caller, branchName, headID, next, message)
		if branch.IsStaleHead(err) {
			lastErr = err
			e.log.Debug("stale head, retrying",
				zap.String("branch", branchName),
				zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		return commit, changes, nil
	}
	return nil, nil, fmt.Errorf("commit to %s: retries exhausted: %w", branchName, lastErr)
}

// commitOnHead validates and stores next, builds a commit with headID as
// parent, and advances the branch from exactly headID. The snapshot and
// commit are content-addressed appends; if the CAS loses they stay behind
// unreferenced, which is harmless.
func (e *Engine) commitOnHead(ctx context.Context, caller Caller, branchName, headID string, next *schema.Schema, message string) (*dag.Commit, []diff.FieldChange, error) {
	if err := next.Validate(); err != nil {
		return nil, nil, err
	}

	head, err := e.walker.Resolve(ctx, headID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve head %s: %w", headID, err)
	}
	current, err := snapshot.GetSchema(ctx, e.snapshots, head.Snapshot)
	if err != nil {
		return nil, nil, fmt.Errorf("load head snapshot: %w", err)
	}

	snapID, err := snapshot.PutSchema(ctx, e.snapshots, next)
	if err != nil {
		return nil, nil, fmt.Errorf("store snapshot: %w", err)
	}
	commit, err := dag.NewCommit(snapID, []*dag.Commit{head}, caller.Author, message, caller.TraceID)
	if err != nil {
		return nil, nil, fmt.Errorf("build commit: %w", err)
	}
	if err := e.commits.Put(ctx, commit); err != nil {
		return nil, nil, fmt.Errorf("store commit: %w", err)
	}
	if err := e.branches.AdvanceHead(ctx, branchName, headID, commit.ID); err != nil {
		return nil, nil, err
	}

	e.log.Info("committed",
		zap.String("branch", branchName),
		zap.String("commit", commit.ID),
		zap.String("author", caller.Author))
	return commit, diff.Compute(current, next), nil
}
