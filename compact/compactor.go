package compact

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trellis-data/trellis/branch"
	"github.com/trellis-data/trellis/dag"
	"github.com/trellis-data/trellis/lock"
)

const (
	// DefaultInterval is the cycle period when Options.Interval is zero.
	DefaultInterval = 5 * time.Minute

	// DefaultBatchSize caps how many commits one cycle may collapse.
	DefaultBatchSize = 128

	// DefaultMinChainLength is the shortest run worth replacing with a
	// synthetic commit.
	DefaultMinChainLength = 3

	// lockWait is the whole patience budget for a branch lock. Compaction is
	// housekeeping: if a writer is in, skip the branch and come back.
	lockWait = 50 * time.Millisecond
)

// Stats summarizes one compaction cycle.
type Stats struct {
	Branches  int // branches scanned
	Skipped   int // branches skipped on lock contention
	Runs      int // runs collapsed
	Collapsed int // original commits removed
}

// Options carries the compactor's dependencies and tuning.
type Options struct {
	Store          dag.Store
	Branches       branch.Directory
	Walker         *dag.Walker
	Locks          *lock.Manager
	Archive        Archive
	Interval       time.Duration
	BatchSize      int
	MinChainLength int
	Log            *zap.Logger
}

// Compactor periodically rewrites long linear runs of commits into single
// synthetic commits, archiving the originals. It shares the writers' lock
// manager but only ever takes shared branch locks with a tiny wait budget:
// contention means the branch is busy and the cycle moves on.
type Compactor struct {
	store    dag.Store
	branches branch.Directory
	walker   *dag.Walker
	locks    *lock.Manager
	archive  Archive
	interval time.Duration
	batch    int
	minChain int
	log      *zap.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a compactor.
func New(opts Options) (*Compactor, error) {
	if opts.Store == nil || opts.Branches == nil || opts.Walker == nil ||
		opts.Locks == nil || opts.Archive == nil {
		return nil, fmt.Errorf("compact: store, branches, walker, locks, and archive are required")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MinChainLength < 2 {
		opts.MinChainLength = DefaultMinChainLength
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Compactor{
		store:    opts.Store,
		branches: opts.Branches,
		walker:   opts.Walker,
		locks:    opts.Locks,
		archive:  opts.Archive,
		interval: opts.Interval,
		batch:    opts.BatchSize,
		minChain: opts.MinChainLength,
		log:      log,
		stopChan: make(chan struct{}),
	}, nil
}

// Start launches the compaction loop.
func (c *Compactor) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// Stop halts the loop and waits for the current cycle to finish.
func (c *Compactor) Stop() {
	close(c.stopChan)
	c.wg.Wait()
}

func (c *Compactor) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := c.RunOnce(ctx)
			if err != nil {
				c.log.Warn("compaction cycle failed", zap.Error(err))
				continue
			}
			if stats.Collapsed > 0 {
				c.log.Info("compaction cycle",
					zap.Int("branches", stats.Branches),
					zap.Int("skipped", stats.Skipped),
					zap.Int("runs", stats.Runs),
					zap.Int("collapsed", stats.Collapsed))
			}
		}
	}
}

// RunOnce performs a single compaction cycle over every branch. Contended
// branches are counted as skipped, never treated as failures.
func (c *Compactor) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats

	all, err := c.branches.List(ctx)
	if err != nil {
		return stats, fmt.Errorf("list branches: %w", err)
	}
	heads := make(map[string]bool, len(all))
	for _, b := range all {
		heads[b.Head] = true
	}

	budget := c.batch
	for _, b := range all {
		if budget <= 0 {
			break
		}
		stats.Branches++

		runs, collapsed, err := c.compactBranch(ctx, b, heads, budget)
		if errors.Is(err, ErrSkipped) {
			stats.Skipped++
			c.log.Debug("branch busy, skipping", zap.String("branch", b.Name))
			continue
		}
		if err != nil {
			return stats, fmt.Errorf("compact %s: %w", b.Name, err)
		}
		stats.Runs += runs
		stats.Collapsed += collapsed
		budget -= collapsed
	}
	return stats, nil
}

// compactBranch collapses eligible runs on one branch under a shared branch
// lock. The lock keeps writers out for the duration; forks share the lock
// mode, which is why collapseRun re-checks heads before removing anything.
func (c *Compactor) compactBranch(ctx context.Context, b branch.Branch, heads map[string]bool, budget int) (int, int, error) {
	holder := "compactor#" + uuid.New().String()
	handle, err := c.locks.Acquire(ctx, lock.BranchScope(b.Name), lock.Shared, lock.Options{
		Holder:      holder,
		WaitTimeout: lockWait,
	})
	if lock.IsTimeout(err) {
		return 0, 0, ErrSkipped
	}
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		if rerr := c.locks.Release(ctx, handle); rerr != nil {
			c.log.Warn("release branch lock", zap.String("branch", b.Name), zap.Error(rerr))
		}
	}()

	runs, err := c.findRuns(ctx, b.Head, heads, budget)
	if err != nil {
		return 0, 0, err
	}

	collapsedRuns, collapsedCommits := 0, 0
	for _, run := range runs {
		done, err := c.collapseRun(ctx, b.Name, run)
		if err != nil {
			return collapsedRuns, collapsedCommits, err
		}
		if !done {
			// Head race: a fork landed inside the run. Rolled back; the next
			// cycle sees the new head and plans around it.
			continue
		}
		collapsedRuns++
		collapsedCommits += len(run)
	}
	return collapsedRuns, collapsedCommits, nil
}

// findRuns walks the branch's first-parent history and returns maximal runs
// of collapsible commits, oldest first, totalling at most budget commits. A
// commit is collapsible when it has exactly one parent, exactly one live
// child, and is no branch's head; merges, roots, and fork points all break
// runs.
func (c *Compactor) findRuns(ctx context.Context, head string, heads map[string]bool, budget int) ([][]*dag.Commit, error) {
	chain, err := c.walker.FirstParentChain(ctx, head, 0)
	if err != nil {
		return nil, err
	}

	var runs [][]*dag.Commit
	var seg []*dag.Commit // newest first, flushed on each break

	flush := func() {
		if len(seg) < c.minChain {
			seg = nil
			return
		}
		run := make([]*dag.Commit, len(seg))
		for i, m := range seg {
			run[len(seg)-1-i] = m
		}
		runs = append(runs, run)
		seg = nil
	}

	for _, m := range chain {
		ok, err := c.collapsible(ctx, m, heads)
		if err != nil {
			return nil, err
		}
		if !ok {
			flush()
			continue
		}
		seg = append(seg, m)
	}
	flush()

	// Runs were collected newest-first. Spend the budget on the oldest
	// history first, so successive cycles sweep toward the head instead of
	// re-collapsing synthetics they just made. Oversized runs keep their
	// oldest commits; the surviving newest member keeps its live child.
	out := make([][]*dag.Commit, 0, len(runs))
	remaining := budget
	for i := len(runs) - 1; i >= 0; i-- {
		if remaining < c.minChain {
			break
		}
		run := runs[i]
		if len(run) > remaining {
			run = run[:remaining]
		}
		out = append(out, run)
		remaining -= len(run)
	}
	return out, nil
}

func (c *Compactor) collapsible(ctx context.Context, m *dag.Commit, heads map[string]bool) (bool, error) {
	if len(m.Parents) != 1 || heads[m.ID] {
		return false, nil
	}
	children, err := c.store.Children(ctx, m.ID)
	if err != nil {
		return false, err
	}
	return len(children) == 1, nil
}

// collapseRun replaces run (oldest first) with one synthetic commit. The
// order is chosen so that no step leaves an unresolvable id: archive first,
// then the synthetic, then redirects, and only after re-checking branch
// heads are the originals removed. It returns false when a head raced into
// the run and everything was rolled back.
func (c *Compactor) collapseRun(ctx context.Context, branchName string, run []*dag.Commit) (bool, error) {
	oldest, newest := run[0], run[len(run)-1]

	collapsed := make([]string, 0, len(run))
	for _, m := range run {
		collapsed = append(collapsed, m.Collapsed...)
		collapsed = append(collapsed, m.ID)
	}

	synthetic := &dag.Commit{
		Snapshot:  newest.Snapshot,
		Parents:   append([]string(nil), oldest.Parents...),
		Author:    "compactor",
		Message:   fmt.Sprintf("collapsed %d commits", len(run)),
		CreatedAt: time.Now().UTC(),
		Clock:     newest.Clock,
		Collapsed: collapsed,
	}
	if err := synthetic.Seal(); err != nil {
		return false, fmt.Errorf("seal synthetic commit: %w", err)
	}

	if err := c.archive.Save(ctx, branchName, run, synthetic.ID); err != nil {
		return false, fmt.Errorf("archive run: %w", err)
	}
	if err := c.store.Put(ctx, synthetic); err != nil {
		return false, fmt.Errorf("store synthetic commit: %w", err)
	}

	// Remember where each id pointed before repointing, for rollback. Ids
	// collapsed in earlier cycles already redirect to a prior synthetic.
	prior := make(map[string]string, len(collapsed))
	for _, id := range collapsed {
		to, ok, err := c.store.Redirect(ctx, id)
		if err != nil {
			return false, err
		}
		if ok {
			prior[id] = to
		}
	}
	if err := c.store.AddRedirect(ctx, collapsed, synthetic.ID); err != nil {
		return false, fmt.Errorf("add redirects: %w", err)
	}

	raced, err := c.headInRun(ctx, run)
	if err != nil {
		c.rollback(ctx, prior, collapsed, synthetic.ID)
		return false, err
	}
	if raced {
		c.log.Info("fork raced into run, rolling back",
			zap.String("branch", branchName),
			zap.String("synthetic", synthetic.ID))
		c.rollback(ctx, prior, collapsed, synthetic.ID)
		return false, nil
	}

	for _, m := range run {
		if err := c.store.Remove(ctx, m.ID); err != nil {
			return false, fmt.Errorf("remove %s: %w", m.ID, err)
		}
	}
	for _, id := range collapsed {
		c.walker.Forget(id)
	}

	c.log.Debug("collapsed run",
		zap.String("branch", branchName),
		zap.String("synthetic", synthetic.ID),
		zap.Int("originals", len(run)))
	return true, nil
}

// headInRun reports whether any branch head, re-read now, names a run
// member. Run members were no branch's head when the run was planned; a hit
// means a fork landed on one of them in between.
func (c *Compactor) headInRun(ctx context.Context, run []*dag.Commit) (bool, error) {
	members := make(map[string]bool, len(run))
	for _, m := range run {
		members[m.ID] = true
	}
	all, err := c.branches.List(ctx)
	if err != nil {
		return false, fmt.Errorf("re-check heads: %w", err)
	}
	for _, b := range all {
		if members[b.Head] {
			return true, nil
		}
	}
	return false, nil
}

// rollback undoes an aborted collapse: fresh redirects are deleted, prior
// ones restored, and the synthetic commit removed. The originals were never
// touched, so the graph is exactly as before. Archived rows from the aborted
// run stay behind; the originals are still live, so nothing resolves through
// the archive, and the next collapse of the run overwrites them.
func (c *Compactor) rollback(ctx context.Context, prior map[string]string, ids []string, syntheticID string) {
	var fresh []string
	for _, id := range ids {
		if _, ok := prior[id]; !ok {
			fresh = append(fresh, id)
		}
	}
	if len(fresh) > 0 {
		if err := c.store.RemoveRedirect(ctx, fresh); err != nil {
			c.log.Error("rollback: remove redirects", zap.Error(err))
		}
	}
	for id, to := range prior {
		if err := c.store.AddRedirect(ctx, []string{id}, to); err != nil {
			c.log.Error("rollback: restore redirect",
				zap.String("id", id), zap.String("to", to), zap.Error(err))
		}
	}
	if err := c.store.Remove(ctx, syntheticID); err != nil {
		c.log.Error("rollback: remove synthetic", zap.String("id", syntheticID), zap.Error(err))
	}
	for _, id := range ids {
		c.walker.Forget(id)
	}
	c.walker.Forget(syntheticID)
}
