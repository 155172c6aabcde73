package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/trellis-data/trellis/dag"
	"github.com/trellis-data/trellis/lock"
)

// CreateBranch registers a branch at an existing live commit. Compacted-away
// ids fail with ErrCompacted: a branch must point at a commit the store can
// still serve directly.
func (e *Engine) CreateBranch(ctx context.Context, caller Caller, name, fromCommit string) error {
	if err := caller.validate(); err != nil {
		return err
	}

	if err := e.requireLive(ctx, name, fromCommit); err != nil {
		return err
	}
	if err := e.branches.Create(ctx, name, fromCommit); err != nil {
		return err
	}

	// The compactor re-reads branch heads before removing anything, but a
	// pointer created after that re-read is invisible to it. Its redirects
	// land before the re-read, so looking again now catches that ordering:
	// either the compactor saw our pointer, or we see its redirect.
	if err := e.requireLive(ctx, name, fromCommit); err != nil {
		if derr := e.branches.Delete(ctx, name); derr != nil {
			e.log.Error("remove branch pointing at dead commit",
				zap.String("branch", name), zap.Error(derr))
		}
		return err
	}

	e.log.Info("branch created",
		zap.String("branch", name),
		zap.String("head", fromCommit),
		zap.String("author", caller.Author))
	return nil
}

// requireLive fails unless the commit is live and no redirect covers it.
// The compactor writes redirects before it removes the originals, so a live
// commit carrying a redirect means a collapse is mid-flight and the id is
// about to die; rejecting it is the conservative read.
func (e *Engine) requireLive(ctx context.Context, name, commitID string) error {
	live, err := e.commits.Has(ctx, commitID)
	if err != nil {
		return err
	}
	_, redirected, err := e.commits.Redirect(ctx, commitID)
	if err != nil {
		return err
	}
	if live && !redirected {
		return nil
	}
	if redirected {
		return fmt.Errorf("create %s at %s: %w", name, commitID, ErrCompacted)
	}
	return fmt.Errorf("create %s at %s: %w", name, commitID, dag.ErrNotFound)
}

// Fork creates a branch at another branch's current head. The shared lock
// on the source keeps writers (who take it exclusive) from moving the head
// mid-fork; the head itself is safe from compaction because heads never
// collapse.
func (e *Engine) Fork(ctx context.Context, caller Caller, name, fromBranch string) error {
	if err := caller.validate(); err != nil {
		return err
	}

	handle, err := e.locks.Acquire(ctx, lock.BranchScope(fromBranch), lock.Shared, e.lockOpts(holder(caller.Author)))
	if err != nil {
		return fmt.Errorf("lock %s: %w", fromBranch, err)
	}
	defer e.release(ctx, handle)

	head, err := e.branches.Head(ctx, fromBranch)
	if err != nil {
		return err
	}
	if err := e.branches.Create(ctx, name, head); err != nil {
		return err
	}

	e.log.Info("branch forked",
		zap.String("branch", name),
		zap.String("from", fromBranch),
		zap.String("head", head),
		zap.String("author", caller.Author))
	return nil
}

// DeleteBranch removes the branch pointer. Commits stay in the store; other
// branches and raw ids still reach them.
func (e *Engine) DeleteBranch(ctx context.Context, caller Caller, name string) error {
	if err := caller.validate(); err != nil {
		return err
	}

	handle, err := e.locks.Acquire(ctx, lock.BranchScope(name), lock.Exclusive, e.lockOpts(holder(caller.Author)))
	if err != nil {
		return fmt.Errorf("lock %s: %w", name, err)
	}
	defer e.release(ctx, handle)

	if err := e.branches.Delete(ctx, name); err != nil {
		return err
	}

	e.log.Info("branch deleted",
		zap.String("branch", name),
		zap.String("author", caller.Author))
	return nil
}
