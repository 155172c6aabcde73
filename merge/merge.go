// Package merge computes and commits three-way merges between branches.
// The engine diffs both heads against their lowest common ancestor,
// partitions the changes, runs the conflict resolver, and either commits a
// merged snapshot behind the branch CAS or fails with the full conflict
// list. There is no fast-forward path: even when the target has not moved,
// the merge is a real three-way computation and a real two-parent commit,
// so history always shows where a branch landed.
package merge

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/trellis-data/trellis/branch"
	"github.com/trellis-data/trellis/dag"
	"github.com/trellis-data/trellis/diff"
	"github.com/trellis-data/trellis/resolve"
	"github.com/trellis-data/trellis/snapshot"
)

// ConflictError is returned when a merge has unresolved conflicts at Error
// or Blocking severity. It carries every record, resolved and not, so the
// caller can show the whole picture. Nothing was written: no snapshot, no
// commit, no head movement.
type ConflictError struct {
	Source  string
	Target  string
	Records []resolve.Record
}

// Error summarizes the blocking records.
func (e *ConflictError) Error() string {
	blocked := 0
	var first string
	for _, r := range e.Records {
		if r.Blocks() {
			blocked++
			if first == "" {
				first = r.String()
			}
		}
	}
	return fmt.Sprintf("merge %s into %s: %d of %d conflicts unresolved, first: %s",
		e.Source, e.Target, blocked, len(e.Records), first)
}

// IsConflict returns true if the error is a *ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// Request names what to merge. Heads are the commit ids the caller observed
// under its branch locks; the CAS on the target head catches anything that
// moved since.
type Request struct {
	Source     string
	Target     string
	SourceHead string
	TargetHead string
	Author     string
	Message    string
	TraceID    string
}

// Result reports a finished merge. Commit is nil and NoOp true when the
// heads were identical or the source is already contained in the target.
type Result struct {
	Commit    *dag.Commit
	Snapshot  snapshot.ID
	Conflicts []resolve.Record
	Applied   []diff.FieldChange
	NoOp      bool
}

// Options carries the engine's dependencies.
type Options struct {
	Snapshots snapshot.Store
	Commits   dag.Store
	Walker    *dag.Walker
	Branches  branch.Directory
	Resolver  *resolve.Resolver
	Log       *zap.Logger
}

// Engine performs merges. It is stateless between calls and safe for
// concurrent use; callers serialize per branch with locks, and the head
// CAS backstops them.
type Engine struct {
	snapshots snapshot.Store
	commits   dag.Store
	walker    *dag.Walker
	branches  branch.Directory
	resolver  *resolve.Resolver
	log       *zap.Logger
}

// NewEngine creates a merge engine. Resolver defaults to the built-in
// strategy table; Log defaults to no logging.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Snapshots == nil || opts.Commits == nil || opts.Walker == nil || opts.Branches == nil {
		return nil, fmt.Errorf("merge: snapshots, commits, walker, and branches are required")
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = resolve.NewResolver(nil)
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		snapshots: opts.Snapshots,
		commits:   opts.Commits,
		walker:    opts.Walker,
		branches:  opts.Branches,
		resolver:  resolver,
		log:       log,
	}, nil
}

// Merge merges source into target. On success the new commit's parents are
// [target head, source head], so the target branch's first-parent chain
// stays its own history. Unresolved Error or Blocking conflicts fail with
// *ConflictError and write nothing; branch.ErrStaleHead means another
// writer advanced the target first and the caller should retry from fresh
// heads.
func (e *Engine) Merge(ctx context.Context, req Request) (*Result, error) {
	if req.SourceHead == "" || req.TargetHead == "" {
		return nil, fmt.Errorf("merge %s into %s: missing heads", req.Source, req.Target)
	}

	srcHead, err := e.walker.Resolve(ctx, req.SourceHead)
	if err != nil {
		return nil, fmt.Errorf("resolve source head: %w", err)
	}
	tgtHead, err := e.walker.Resolve(ctx, req.TargetHead)
	if err != nil {
		return nil, fmt.Errorf("resolve target head: %w", err)
	}

	if srcHead.ID == tgtHead.ID {
		return &Result{NoOp: true, Snapshot: tgtHead.Snapshot}, nil
	}

	base, err := e.walker.MergeBase(ctx, srcHead.ID, tgtHead.ID)
	if err != nil {
		return nil, fmt.Errorf("merge base of %s and %s: %w", req.Source, req.Target, err)
	}
	if base.ID == srcHead.ID {
		// Source is an ancestor of target: everything already landed.
		return &Result{NoOp: true, Snapshot: tgtHead.Snapshot}, nil
	}

	baseSchema, err := snapshot.GetSchema(ctx, e.snapshots, base.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("load base snapshot: %w", err)
	}
	srcSchema, err := snapshot.GetSchema(ctx, e.snapshots, srcHead.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("load source snapshot: %w", err)
	}
	tgtSchema, err := snapshot.GetSchema(ctx, e.snapshots, tgtHead.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("load target snapshot: %w", err)
	}

	sourceChanges := diff.Compute(baseSchema, srcSchema)
	targetChanges := diff.Compute(baseSchema, tgtSchema)

	plan := partition(sourceChanges, targetChanges, srcSchema, tgtSchema)

	records := make([]resolve.Record, 0, len(plan.candidates))
	blocked := false
	for _, c := range plan.candidates {
		rec := e.resolver.Resolve(c)
		records = append(records, rec)
		if rec.Blocks() {
			blocked = true
		}
	}
	if blocked {
		e.log.Warn("merge blocked by conflicts",
			zap.String("source", req.Source),
			zap.String("target", req.Target),
			zap.Int("conflicts", len(records)))
		return nil, &ConflictError{Source: req.Source, Target: req.Target, Records: records}
	}

	merged, err := construct(tgtSchema, srcSchema, plan, records)
	if err != nil {
		return nil, fmt.Errorf("merge %s into %s: %w", req.Source, req.Target, err)
	}
	if err := merged.Validate(); err != nil {
		return nil, fmt.Errorf("merge %s into %s: merged schema invalid: %w", req.Source, req.Target, err)
	}

	snapID, err := snapshot.PutSchema(ctx, e.snapshots, merged)
	if err != nil {
		return nil, fmt.Errorf("store merged snapshot: %w", err)
	}
	commit, err := dag.NewCommit(snapID, []*dag.Commit{tgtHead, srcHead}, req.Author, req.Message, req.TraceID)
	if err != nil {
		return nil, fmt.Errorf("build merge commit: %w", err)
	}
	if err := e.commits.Put(ctx, commit); err != nil {
		return nil, fmt.Errorf("store merge commit: %w", err)
	}
	if err := e.branches.AdvanceHead(ctx, req.Target, req.TargetHead, commit.ID); err != nil {
		// The commit stays in the append-only store unreferenced; that is
		// harmless and the retry will build a fresh one from new heads.
		return nil, fmt.Errorf("advance %s: %w", req.Target, err)
	}

	e.log.Info("merged",
		zap.String("source", req.Source),
		zap.String("target", req.Target),
		zap.String("commit", commit.ID),
		zap.Int("applied", len(plan.apply)),
		zap.Int("conflicts", len(records)))

	return &Result{
		Commit:    commit,
		Snapshot:  snapID,
		Conflicts: records,
		Applied:   plan.apply,
	}, nil
}
