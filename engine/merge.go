package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/trellis-data/trellis/lock"
	"github.com/trellis-data/trellis/manifest"
	"github.com/trellis-data/trellis/merge"
)

// Merge merges source into target under exclusive locks on both branches.
// Locks are taken in lexicographic name order so two opposing merges can
// never hold one branch each and wait on the other. Unresolved conflicts
// return *merge.ConflictError with every record and write nothing.
func (e *Engine) Merge(ctx context.Context, caller Caller, source, target, message string) (*merge.Result, error) {
	if err := caller.validate(); err != nil {
		return nil, err
	}
	if source == target {
		return nil, errors.New("merge: source and target are the same branch")
	}

	h := holder(caller.Author)
	first, second := source, target
	if second < first {
		first, second = second, first
	}
	firstHandle, err := e.locks.Acquire(ctx, lock.BranchScope(first), lock.Exclusive, e.lockOpts(h))
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", first, err)
	}
	defer e.release(ctx, firstHandle)

	secondHandle, err := e.locks.Acquire(ctx, lock.BranchScope(second), lock.Exclusive, e.lockOpts(h))
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", second, err)
	}
	defer e.release(ctx, secondHandle)

	sourceHead, err := e.branches.Head(ctx, source)
	if err != nil {
		return nil, err
	}
	targetHead, err := e.branches.Head(ctx, target)
	if err != nil {
		return nil, err
	}

	result, err := e.merger.Merge(ctx, merge.Request{
		Source:     source,
		Target:     target,
		SourceHead: sourceHead,
		TargetHead: targetHead,
		Author:     caller.Author,
		Message:    message,
		TraceID:    caller.TraceID,
	})
	if err != nil {
		return nil, err
	}
	if result.NoOp {
		return result, nil
	}

	e.export(ctx, manifest.New(manifest.KindMerge, target, result.Commit, result.Applied, result.Conflicts))
	return result, nil
}
