package manifest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trellis-data/trellis/dag"
	"github.com/trellis-data/trellis/diff"
	"github.com/trellis-data/trellis/resolve"
	"github.com/trellis-data/trellis/schema"
)

func mergeCommitFixture(t *testing.T) *dag.Commit {
	t.Helper()

	root, err := dag.NewCommit("snap-1", nil, "ada", "root", "")
	require.NoError(t, err)
	side, err := dag.NewCommit("snap-2", []*dag.Commit{root}, "grace", "side", "")
	require.NoError(t, err)
	main, err := dag.NewCommit("snap-3", []*dag.Commit{root}, "ada", "main", "")
	require.NoError(t, err)
	merged, err := dag.NewCommit("snap-4", []*dag.Commit{main, side}, "ada", "merge", "trace-7")
	require.NoError(t, err)
	return merged
}

func TestNewManifest(t *testing.T) {
	c := mergeCommitFixture(t)
	changes := []diff.FieldChange{
		{Entity: diff.PropertyRef("User", "age"), Field: diff.FieldType, Kind: diff.Modify},
	}
	resolutions := []resolve.Record{
		{Entity: diff.PropertyRef("User", "age"), Field: diff.FieldType, Resolved: true, Strategy: "widen_type"},
	}

	m := New(KindMerge, "main", c, changes, resolutions)

	_, err := uuid.Parse(m.ID)
	assert.NoError(t, err)
	assert.Equal(t, KindMerge, m.Kind)
	assert.Equal(t, "merge", m.Kind.String())
	assert.Equal(t, "main", m.Branch)
	assert.Equal(t, c.ID, m.CommitID)
	assert.Equal(t, c.Parents, m.ParentIDs)
	assert.Equal(t, c.Snapshot, m.SnapshotID)
	assert.Equal(t, "ada", m.Author)
	assert.Equal(t, "trace-7", m.TraceID)
	assert.False(t, m.CreatedAt.IsZero())
	require.Len(t, m.Changes, 1)
	assert.Equal(t, "property/User.age", m.Changes[0].Entity)
	require.Len(t, m.Resolutions, 1)
	assert.Equal(t, "widen_type", m.Resolutions[0].Strategy)
}

func TestChangesFrom(t *testing.T) {
	changes := []diff.FieldChange{
		{
			Entity: diff.PropertyRef("User", "email"),
			Field:  diff.FieldRequired,
			Kind:   diff.Modify,
			From:   false,
			To:     true,
		},
		{
			Entity: diff.ObjectTypeRef("Order"),
			Kind:   diff.Add,
			To:     &schema.ObjectType{Name: "Order"},
		},
	}

	out := ChangesFrom(changes)

	require.Len(t, out, 2)
	assert.Equal(t, "property/User.email", out[0].Entity)
	assert.Equal(t, "required", out[0].Field)
	assert.Equal(t, "modify", out[0].Kind)
	assert.Equal(t, false, out[0].From)
	assert.Equal(t, true, out[0].To)
	assert.Equal(t, "object_type/Order", out[1].Entity)
	assert.Equal(t, "add", out[1].Kind)
	assert.Empty(t, out[1].Field)

	assert.Nil(t, ChangesFrom(nil))
}

func TestCollectorExporter(t *testing.T) {
	ctx := context.Background()
	collector := NewCollectorExporter()
	assert.Nil(t, collector.Last())

	c := mergeCommitFixture(t)
	first := New(KindCommit, "main", c, nil, nil)
	second := New(KindMerge, "main", c, nil, nil)

	require.NoError(t, collector.Export(ctx, first))
	require.NoError(t, collector.Export(ctx, second))

	all := collector.Manifests()
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, second.ID, all[1].ID)
	assert.Equal(t, second.ID, collector.Last().ID)
}

func TestNopAndLogExporters(t *testing.T) {
	ctx := context.Background()
	m := New(KindCommit, "main", mergeCommitFixture(t), nil, nil)

	assert.NoError(t, NopExporter{}.Export(ctx, m))
	assert.NoError(t, NewLogExporter(nil).Export(ctx, m))
	assert.NoError(t, NewLogExporter(zap.NewNop()).Export(ctx, m))
}
