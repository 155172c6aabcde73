// Package engine is the orchestration facade: every read and write on the
// version graph goes through it. The engine owns nothing clever itself; it
// sequences the stores, takes the right locks at the right levels, and
// leaves correctness to the branch-head CAS underneath them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trellis-data/trellis/branch"
	"github.com/trellis-data/trellis/compact"
	"github.com/trellis-data/trellis/dag"
	"github.com/trellis-data/trellis/diff"
	"github.com/trellis-data/trellis/lock"
	"github.com/trellis-data/trellis/manifest"
	"github.com/trellis-data/trellis/merge"
	"github.com/trellis-data/trellis/resolve"
	"github.com/trellis-data/trellis/schema"
	"github.com/trellis-data/trellis/snapshot"
)

// DefaultLockWait bounds how long write operations wait for contended
// branch locks before giving up with lock.ErrTimeout.
const DefaultLockWait = 5 * time.Second

// ErrCompacted is returned when an operation names a commit id that was
// collapsed away by compaction. The id still resolves for reads, but it no
// longer denotes a live commit a branch could point at.
var ErrCompacted = errors.New("commit compacted away")

// IsCompacted returns true if the error is ErrCompacted.
func IsCompacted(err error) bool {
	return errors.Is(err, ErrCompacted)
}

// Caller identifies who is asking. The request layer that authenticates
// callers is out of scope; the engine just records what it is told.
type Caller struct {
	Author  string
	TraceID string
}

func (c Caller) validate() error {
	if c.Author == "" {
		return errors.New("caller author required")
	}
	return nil
}

// Options carries the engine's dependencies. Snapshots, Commits, Walker,
// Branches, and Locks are required; the rest default sensibly.
type Options struct {
	Snapshots snapshot.Store
	Commits   dag.Store
	Walker    *dag.Walker
	Branches  branch.Directory
	Locks     *lock.Manager

	// Resolver customizes merge conflict handling; nil means the built-in
	// strategy table.
	Resolver *resolve.Resolver

	// Archive, when set, lets GetCommit return commits that compaction
	// removed and no redirect covers anymore.
	Archive compact.Archive

	// Exporter receives a manifest after every landed commit and merge.
	// Nil discards them.
	Exporter manifest.Exporter

	// LockTTL and LockWait tune every lock acquisition the engine makes.
	LockTTL  time.Duration
	LockWait time.Duration

	Log *zap.Logger
}

// Engine sequences schema version-control operations over the injected
// stores. It is safe for concurrent use.
type Engine struct {
	snapshots snapshot.Store
	commits   dag.Store
	walker    *dag.Walker
	branches  branch.Directory
	locks     *lock.Manager
	merger    *merge.Engine
	archive   compact.Archive
	exporter  manifest.Exporter
	lockTTL   time.Duration
	lockWait  time.Duration
	log       *zap.Logger
}

// New creates an engine.
func New(opts Options) (*Engine, error) {
	if opts.Snapshots == nil || opts.Commits == nil || opts.Walker == nil ||
		opts.Branches == nil || opts.Locks == nil {
		return nil, fmt.Errorf("engine: snapshots, commits, walker, branches, and locks are required")
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	exporter := opts.Exporter
	if exporter == nil {
		exporter = manifest.NopExporter{}
	}
	lockWait := opts.LockWait
	if lockWait <= 0 {
		lockWait = DefaultLockWait
	}

	merger, err := merge.NewEngine(merge.Options{
		Snapshots: opts.Snapshots,
		Commits:   opts.Commits,
		Walker:    opts.Walker,
		Branches:  opts.Branches,
		Resolver:  opts.Resolver,
		Log:       log,
	})
	if err != nil {
		return nil, err
	}

	return &Engine{
		snapshots: opts.Snapshots,
		commits:   opts.Commits,
		walker:    opts.Walker,
		branches:  opts.Branches,
		locks:     opts.Locks,
		merger:    merger,
		archive:   opts.Archive,
		exporter:  exporter,
		lockTTL:   opts.LockTTL,
		lockWait:  lockWait,
		log:       log,
	}, nil
}

// holder builds a lock holder identity unique to one operation. Two
// concurrent operations by the same author must not share one, or the
// hierarchy check would treat them as a single caller.
func holder(author string) string {
	return author + "#" + uuid.New().String()
}

func (e *Engine) lockOpts(holder string) lock.Options {
	return lock.Options{Holder: holder, TTL: e.lockTTL, WaitTimeout: e.lockWait}
}

func (e *Engine) release(ctx context.Context, h *lock.Handle) {
	if err := e.locks.Release(ctx, h); err != nil {
		e.log.Warn("release lock", zap.String("scope", h.Scope.Key()), zap.Error(err))
	}
}

// export hands a manifest to the exporter. The commit has already landed;
// an export failure is logged and swallowed.
func (e *Engine) export(ctx context.Context, m *manifest.Manifest) {
	if err := e.exporter.Export(ctx, m); err != nil {
		e.log.Warn("manifest export failed",
			zap.String("manifest_id", m.ID),
			zap.String("commit", m.CommitID),
			zap.Error(err))
	}
}

// Init stores the initial schema as a root commit and points a new branch
// at it.
func (e *Engine) Init(ctx context.Context, caller Caller, initial *schema.Schema, branchName string) (*dag.Commit, error) {
	if err := caller.validate(); err != nil {
		return nil, err
	}
	if initial == nil {
		return nil, errors.New("init: schema required")
	}
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}

	snapID, err := snapshot.PutSchema(ctx, e.snapshots, initial)
	if err != nil {
		return nil, fmt.Errorf("store initial snapshot: %w", err)
	}
	commit, err := dag.NewCommit(snapID, nil, caller.Author, "initial schema", caller.TraceID)
	if err != nil {
		return nil, fmt.Errorf("build root commit: %w", err)
	}
	if err := e.commits.Put(ctx, commit); err != nil {
		return nil, fmt.Errorf("store root commit: %w", err)
	}
	if err := e.branches.Create(ctx, branchName, commit.ID); err != nil {
		return nil, fmt.Errorf("create %s: %w", branchName, err)
	}

	e.log.Info("initialized",
		zap.String("branch", branchName),
		zap.String("commit", commit.ID))
	e.export(ctx, manifest.New(manifest.KindCommit, branchName, commit,
		diff.Compute(schema.New(), initial), nil))
	return commit, nil
}

// History returns the branch's first-parent history, newest first. Limit
// zero means the whole chain back to the root.
func (e *Engine) History(ctx context.Context, branchName string, limit int) ([]*dag.Commit, error) {
	head, err := e.branches.Head(ctx, branchName)
	if err != nil {
		return nil, err
	}
	return e.walker.FirstParentChain(ctx, head, limit)
}

// GetCommit returns what an id denotes today: the live commit, the
// synthetic commit its redirect points at, or, when neither exists, the
// original body from the compaction archive. Commit ids never stop
// resolving.
func (e *Engine) GetCommit(ctx context.Context, id string) (*dag.Commit, error) {
	c, err := e.walker.Resolve(ctx, id)
	if err == nil {
		return c, nil
	}
	if !dag.IsNotFound(err) || e.archive == nil {
		return nil, err
	}
	archived, aerr := e.archive.Get(ctx, id)
	if aerr != nil {
		if compact.IsNotArchived(aerr) {
			return nil, err
		}
		return nil, aerr
	}
	return archived, nil
}

// GetSchema returns the schema at the branch head.
func (e *Engine) GetSchema(ctx context.Context, branchName string) (*schema.Schema, error) {
	head, err := e.branches.Head(ctx, branchName)
	if err != nil {
		return nil, err
	}
	commit, err := e.walker.Resolve(ctx, head)
	if err != nil {
		return nil, err
	}
	return snapshot.GetSchema(ctx, e.snapshots, commit.Snapshot)
}

// GetSnapshot returns the schema stored under a snapshot id.
func (e *Engine) GetSnapshot(ctx context.Context, id snapshot.ID) (*schema.Schema, error) {
	return snapshot.GetSchema(ctx, e.snapshots, id)
}
