package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellis-data/trellis/branch"
	"github.com/trellis-data/trellis/compact"
	"github.com/trellis-data/trellis/dag"
	"github.com/trellis-data/trellis/lock"
	"github.com/trellis-data/trellis/manifest"
	"github.com/trellis-data/trellis/merge"
	"github.com/trellis-data/trellis/resolve"
	"github.com/trellis-data/trellis/schema"
	"github.com/trellis-data/trellis/snapshot"
)

var tester = Caller{Author: "ada", TraceID: "trace-1"}

type fixture struct {
	snapshots *snapshot.MemoryStore
	commits   *dag.MemoryStore
	walker    *dag.Walker
	branches  branch.Directory
	locks     *lock.Manager
	archive   *compact.MemoryArchive
	collector *manifest.CollectorExporter
	engine    *Engine
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, nil)
}

func newFixtureWith(t *testing.T, wrapDir func(branch.Directory) branch.Directory) *fixture {
	t.Helper()

	snaps := snapshot.NewMemoryStore()
	commits := dag.NewMemoryStore()
	walker, err := dag.NewWalker(commits, nil)
	require.NoError(t, err)
	t.Cleanup(walker.Close)

	var dir branch.Directory = branch.NewMemoryDirectory()
	if wrapDir != nil {
		dir = wrapDir(dir)
	}

	f := &fixture{
		snapshots: snaps,
		commits:   commits,
		walker:    walker,
		branches:  dir,
		locks:     lock.NewManager(lock.NewMemoryCoordinator(), nil),
		archive:   compact.NewMemoryArchive(),
		collector: manifest.NewCollectorExporter(),
	}
	f.engine, err = New(Options{
		Snapshots: snaps,
		Commits:   commits,
		Walker:    walker,
		Branches:  dir,
		Locks:     f.locks,
		Archive:   f.archive,
		Exporter:  f.collector,
		LockWait:  150 * time.Millisecond,
	})
	require.NoError(t, err)
	return f
}

func baseSchema() *schema.Schema {
	s := schema.New()
	s.AddObjectType(&schema.ObjectType{
		Name:       "User",
		PrimaryKey: "id",
		Properties: []*schema.Property{
			{Name: "id", Type: &schema.TypeSpec{Base: schema.TypeUUID}, Required: true},
			{Name: "email", Type: &schema.TypeSpec{Base: schema.TypeString}, Required: true},
			{Name: "age", Type: &schema.TypeSpec{Base: schema.TypeInteger}},
		},
	})
	s.AddLinkType(&schema.LinkType{
		Name:        "member_of",
		Source:      "User",
		Target:      "User",
		Cardinality: schema.OneToMany,
		OnDelete:    schema.DeleteRestrict,
	})
	return s
}

func (f *fixture) init(t *testing.T) *dag.Commit {
	t.Helper()
	c, err := f.engine.Init(context.Background(), tester, baseSchema(), "main")
	require.NoError(t, err)
	return c
}

// describe lands one commit on main setting the User description.
func (f *fixture) describe(t *testing.T, text string) *dag.Commit {
	t.Helper()
	c, err := f.engine.CommitWith(context.Background(), tester, "main", "update description",
		func(s *schema.Schema) error {
			s.ObjectTypes["User"].Description = text
			return nil
		})
	require.NoError(t, err)
	return c
}

func (f *fixture) headOf(t *testing.T, name string) string {
	t.Helper()
	head, err := f.branches.Head(context.Background(), name)
	require.NoError(t, err)
	return head
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	f := newFixture(t)
	_, err = New(Options{Snapshots: f.snapshots, Commits: f.commits, Walker: f.walker, Branches: f.branches})
	assert.Error(t, err)
}

func TestInit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	root := f.init(t)

	assert.True(t, root.IsRoot())
	assert.Equal(t, "ada", root.Author)
	assert.Equal(t, root.ID, f.headOf(t, "main"))

	got, err := f.engine.GetSchema(ctx, "main")
	require.NoError(t, err)
	assert.True(t, got.Equal(baseSchema()))

	m := f.collector.Last()
	require.NotNil(t, m)
	assert.Equal(t, manifest.KindCommit, m.Kind)
	assert.Equal(t, "main", m.Branch)
	assert.Equal(t, root.ID, m.CommitID)
	assert.Len(t, m.Changes, 2) // one add per top-level entity

	_, err = f.engine.Init(ctx, tester, baseSchema(), "main")
	assert.ErrorIs(t, err, branch.ErrExists)

	_, err = f.engine.Init(ctx, Caller{}, baseSchema(), "other")
	assert.Error(t, err)
}

func TestCommitAdvancesHead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	root := f.init(t)

	next := baseSchema()
	next.ObjectTypes["User"].Description = "people"
	c, err := f.engine.Commit(ctx, tester, "main", next, "describe users")
	require.NoError(t, err)

	assert.Equal(t, []string{root.ID}, c.Parents)
	assert.Equal(t, c.ID, f.headOf(t, "main"))

	got, err := f.engine.GetSchema(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, "people", got.ObjectTypes["User"].Description)

	m := f.collector.Last()
	require.NotNil(t, m)
	assert.Equal(t, c.ID, m.CommitID)
	require.Len(t, m.Changes, 1)
	assert.Equal(t, "object_type/User", m.Changes[0].Entity)
	assert.Equal(t, "description", m.Changes[0].Field)
}

func TestCommitRejectsInvalidSchema(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	root := f.init(t)

	bad := baseSchema()
	bad.ObjectTypes["User"].Properties = append(bad.ObjectTypes["User"].Properties,
		&schema.Property{Name: "ghost"}) // no type

	_, err := f.engine.Commit(ctx, tester, "main", bad, "broken")
	assert.Error(t, err)
	assert.Equal(t, root.ID, f.headOf(t, "main"))

	_, err = f.engine.Commit(ctx, tester, "main", nil, "empty")
	assert.Error(t, err)
}

func TestCommitWithAppliesMutation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.init(t)

	c := f.describe(t, "people")
	assert.Equal(t, c.ID, f.headOf(t, "main"))

	_, err := f.engine.CommitWith(ctx, tester, "main", "boom", func(s *schema.Schema) error {
		return errors.New("refused")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutate schema")
	assert.Equal(t, c.ID, f.headOf(t, "main"))
}

// staleDirectory fails AdvanceHead with ErrStaleHead a fixed number of
// times before delegating, simulating CAS races the lock cannot prevent.
type staleDirectory struct {
	branch.Directory

	mu    sync.Mutex
	fails int
}

func (d *staleDirectory) AdvanceHead(ctx context.Context, name, expected, next string) error {
	d.mu.Lock()
	if d.fails > 0 {
		d.fails--
		d.mu.Unlock()
		return branch.ErrStaleHead
	}
	d.mu.Unlock()
	return d.Directory.AdvanceHead(ctx, name, expected, next)
}

func TestCommitWithRetriesOnStaleHead(t *testing.T) {
	var stale *staleDirectory
	f := newFixtureWith(t, func(dir branch.Directory) branch.Directory {
		stale = &staleDirectory{Directory: dir, fails: 1}
		return stale
	})
	f.init(t)

	c := f.describe(t, "landed on retry")
	assert.Equal(t, c.ID, f.headOf(t, "main"))
	assert.Equal(t, 0, stale.fails)
}

func TestCommitWithExhaustsRetries(t *testing.T) {
	f := newFixtureWith(t, func(dir branch.Directory) branch.Directory {
		return &staleDirectory{Directory: dir, fails: 100}
	})

	// Init lands directly through Create, not AdvanceHead.
	f.init(t)

	_, err := f.engine.CommitWith(context.Background(), tester, "main", "never", func(s *schema.Schema) error {
		s.ObjectTypes["User"].Description = "never"
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, branch.ErrStaleHead)
	assert.Contains(t, err.Error(), "retries exhausted")
}

func TestCommitEntity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.init(t)

	c, err := f.engine.CommitEntity(ctx, tester, "main", EntityMutation{
		Kind: schema.KindProperty,
		Name: "User.email",
		Mutate: func(s *schema.Schema) error {
			s.ObjectTypes["User"].Property("email").Required = false
			return nil
		},
	}, "relax email")
	require.NoError(t, err)
	assert.Equal(t, c.ID, f.headOf(t, "main"))

	got, err := f.engine.GetSchema(ctx, "main")
	require.NoError(t, err)
	assert.False(t, got.ObjectTypes["User"].Property("email").Required)

	m := f.collector.Last()
	require.NotNil(t, m)
	require.Len(t, m.Changes, 1)
	assert.Equal(t, "property/User.email", m.Changes[0].Entity)
	assert.Equal(t, "required", m.Changes[0].Field)

	_, err = f.engine.CommitEntity(ctx, tester, "main", EntityMutation{Kind: schema.KindProperty, Name: "User.email"}, "no func")
	assert.Error(t, err)
	_, err = f.engine.CommitEntity(ctx, tester, "main", EntityMutation{Mutate: func(*schema.Schema) error { return nil }}, "no name")
	assert.Error(t, err)
}

func TestCommitTimesOutOnHeldLock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.init(t)

	handle, err := f.locks.Acquire(ctx, lock.BranchScope("main"), lock.Exclusive, lock.Options{Holder: "other#1"})
	require.NoError(t, err)
	defer f.locks.Release(ctx, handle)

	next := baseSchema()
	next.ObjectTypes["User"].Description = "blocked"
	_, err = f.engine.Commit(ctx, tester, "main", next, "blocked")
	assert.True(t, lock.IsTimeout(err))
}

func TestMergeAutoResolves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.init(t)
	require.NoError(t, f.engine.Fork(ctx, tester, "dev", "main"))

	_, err := f.engine.CommitWith(ctx, tester, "main", "widen to long", func(s *schema.Schema) error {
		s.ObjectTypes["User"].Property("age").Type = &schema.TypeSpec{Base: schema.TypeLong}
		return nil
	})
	require.NoError(t, err)
	_, err = f.engine.CommitWith(ctx, tester, "dev", "widen to double", func(s *schema.Schema) error {
		s.ObjectTypes["User"].Property("age").Type = &schema.TypeSpec{Base: schema.TypeDouble}
		return nil
	})
	require.NoError(t, err)

	mainHead, devHead := f.headOf(t, "main"), f.headOf(t, "dev")
	res, err := f.engine.Merge(ctx, tester, "dev", "main", "merge dev")
	require.NoError(t, err)
	require.NotNil(t, res.Commit)

	assert.True(t, res.Commit.IsMerge())
	assert.Equal(t, []string{mainHead, devHead}, res.Commit.Parents)
	assert.Equal(t, res.Commit.ID, f.headOf(t, "main"))
	assert.Equal(t, devHead, f.headOf(t, "dev")) // source untouched

	got, err := f.engine.GetSchema(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, schema.TypeDouble, got.ObjectTypes["User"].Property("age").Type.Base)

	m := f.collector.Last()
	require.NotNil(t, m)
	assert.Equal(t, manifest.KindMerge, m.Kind)
	assert.Equal(t, "main", m.Branch)
	require.Len(t, m.Resolutions, 1)
	assert.Equal(t, resolve.StrategyWidenType, m.Resolutions[0].Strategy)
}

func TestMergeConflictWritesAndExportsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.init(t)
	require.NoError(t, f.engine.Fork(ctx, tester, "dev", "main"))

	_, err := f.engine.CommitWith(ctx, tester, "main", "unique on", func(s *schema.Schema) error {
		s.ObjectTypes["User"].Property("email").SetConstraint(schema.ConstraintUnique, true)
		return nil
	})
	require.NoError(t, err)
	_, err = f.engine.CommitWith(ctx, tester, "dev", "unique off", func(s *schema.Schema) error {
		s.ObjectTypes["User"].Property("email").SetConstraint(schema.ConstraintUnique, false)
		return nil
	})
	require.NoError(t, err)

	mainHead := f.headOf(t, "main")
	before := len(f.collector.Manifests())

	_, err = f.engine.Merge(ctx, tester, "dev", "main", "merge dev")
	require.Error(t, err)
	assert.True(t, merge.IsConflict(err))
	assert.Equal(t, mainHead, f.headOf(t, "main"))
	assert.Len(t, f.collector.Manifests(), before)
}

func TestMergeSameBranch(t *testing.T) {
	f := newFixture(t)
	f.init(t)

	_, err := f.engine.Merge(context.Background(), tester, "main", "main", "self")
	assert.Error(t, err)
}

func TestMergeNoOpExportsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.init(t)
	require.NoError(t, f.engine.Fork(ctx, tester, "dev", "main"))

	before := len(f.collector.Manifests())
	res, err := f.engine.Merge(ctx, tester, "dev", "main", "nothing to do")
	require.NoError(t, err)
	assert.True(t, res.NoOp)
	assert.Len(t, f.collector.Manifests(), before)
}

func TestCreateBranchValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	root := f.init(t)

	require.NoError(t, f.engine.CreateBranch(ctx, tester, "pinned", root.ID))
	assert.Equal(t, root.ID, f.headOf(t, "pinned"))

	err := f.engine.CreateBranch(ctx, tester, "ghost", "no-such-commit")
	assert.ErrorIs(t, err, dag.ErrNotFound)

	err = f.engine.CreateBranch(ctx, tester, "pinned", root.ID)
	assert.ErrorIs(t, err, branch.ErrExists)
}

func TestCreateBranchRejectsCompactedCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.init(t)

	middle := f.describe(t, "v1")
	f.describe(t, "v2")
	f.describe(t, "v3")
	f.describe(t, "v4")

	comp, err := compact.New(compact.Options{
		Store:    f.commits,
		Branches: f.branches,
		Walker:   f.walker,
		Locks:    f.locks,
		Archive:  f.archive,
	})
	require.NoError(t, err)
	stats, err := comp.RunOnce(ctx)
	require.NoError(t, err)
	require.Greater(t, stats.Collapsed, 0)

	err = f.engine.CreateBranch(ctx, tester, "late", middle.ID)
	assert.True(t, IsCompacted(err))

	// The id still resolves for reads.
	got, err := f.engine.GetCommit(ctx, middle.ID)
	require.NoError(t, err)
	assert.True(t, got.IsSynthetic())
	assert.Contains(t, got.Collapsed, middle.ID)

	// And the archive still serves the original body.
	original, err := f.archive.Get(ctx, middle.ID)
	require.NoError(t, err)
	assert.Equal(t, middle.Snapshot, original.Snapshot)
}

func TestForkAtHead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.init(t)
	c := f.describe(t, "v1")

	require.NoError(t, f.engine.Fork(ctx, tester, "dev", "main"))
	assert.Equal(t, c.ID, f.headOf(t, "dev"))

	assert.ErrorIs(t, f.engine.Fork(ctx, tester, "dev", "main"), branch.ErrExists)
	assert.ErrorIs(t, f.engine.Fork(ctx, tester, "x", "missing"), branch.ErrNotFound)
}

func TestDeleteBranch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	root := f.init(t)
	require.NoError(t, f.engine.CreateBranch(ctx, tester, "dev", root.ID))

	require.NoError(t, f.engine.DeleteBranch(ctx, tester, "dev"))
	_, err := f.branches.Head(ctx, "dev")
	assert.ErrorIs(t, err, branch.ErrNotFound)

	assert.ErrorIs(t, f.engine.DeleteBranch(ctx, tester, "dev"), branch.ErrNotFound)
}

func TestGetCommitFallsBackToArchive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.init(t)

	// An id that is neither live nor redirected, only archived: the store
	// lost its redirect but the audit row survives.
	ghost, err := dag.NewCommit("snap-ghost", nil, "ada", "long gone", "")
	require.NoError(t, err)
	require.NoError(t, f.archive.Save(ctx, "main", []*dag.Commit{ghost}, "syn-x"))

	got, err := f.engine.GetCommit(ctx, ghost.ID)
	require.NoError(t, err)
	assert.Equal(t, ghost.ID, got.ID)

	_, err = f.engine.GetCommit(ctx, "never-existed")
	assert.ErrorIs(t, err, dag.ErrNotFound)
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	root := f.init(t)
	c1 := f.describe(t, "v1")
	c2 := f.describe(t, "v2")

	hist, err := f.engine.History(ctx, "main", 0)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, c2.ID, hist[0].ID)
	assert.Equal(t, c1.ID, hist[1].ID)
	assert.Equal(t, root.ID, hist[2].ID)

	short, err := f.engine.History(ctx, "main", 2)
	require.NoError(t, err)
	assert.Len(t, short, 2)

	_, err = f.engine.History(ctx, "missing", 0)
	assert.ErrorIs(t, err, branch.ErrNotFound)
}

func TestGetSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	root := f.init(t)

	got, err := f.engine.GetSnapshot(ctx, root.Snapshot)
	require.NoError(t, err)
	assert.True(t, got.Equal(baseSchema()))

	_, err = f.engine.GetSnapshot(ctx, "bogus")
	assert.ErrorIs(t, err, snapshot.ErrNotFound)
}
