package dag

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellis-data/trellis/snapshot"
)

func TestNewCommitSealsID(t *testing.T) {
	c, err := NewCommit("snap-1", nil, "ada", "root", "trace-1")
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)

	want, err := c.ComputeID()
	require.NoError(t, err)
	assert.Equal(t, want, c.ID)

	// Mutating a sealed commit breaks its identity.
	c.Message = "tampered"
	want, err = c.ComputeID()
	require.NoError(t, err)
	assert.NotEqual(t, want, c.ID)
}

func TestNewCommitClock(t *testing.T) {
	root, err := NewCommit("snap-1", nil, "ada", "root", "")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), root.Clock)

	child, err := NewCommit("snap-2", []*Commit{root}, "ada", "child", "")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), child.Clock)

	// A merge takes the max parent clock plus one.
	far := &Commit{Snapshot: "snap-3", Clock: 7, CreatedAt: time.Now().UTC()}
	require.NoError(t, far.Seal())
	m, err := NewCommit("snap-4", []*Commit{child, far}, "ada", "merge", "")
	require.NoError(t, err)
	assert.Equal(t, uint64(8), m.Clock)
	assert.Equal(t, []string{child.ID, far.ID}, m.Parents)
}

func TestCommitPredicates(t *testing.T) {
	root := &Commit{Snapshot: "s"}
	assert.True(t, root.IsRoot())
	assert.False(t, root.IsMerge())
	assert.False(t, root.IsSynthetic())
	assert.Equal(t, "", root.FirstParent())

	merge := &Commit{Snapshot: "s", Parents: []string{"a", "b"}}
	assert.True(t, merge.IsMerge())
	assert.Equal(t, "a", merge.FirstParent())

	synthetic := &Commit{Snapshot: "s", Parents: []string{"a"}, Collapsed: []string{"x", "y"}}
	assert.True(t, synthetic.IsSynthetic())
	assert.False(t, synthetic.IsMerge())
}

func TestCommitIDDeterminism(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	build := func(message string) *Commit {
		c := &Commit{
			Snapshot:  snapshot.ID("snap-1"),
			Parents:   []string{"p1"},
			Author:    "ada",
			Message:   message,
			CreatedAt: at,
			Clock:     2,
		}
		require.NoError(t, c.Seal())
		return c
	}

	assert.Equal(t, build("same").ID, build("same").ID)
	assert.NotEqual(t, build("one").ID, build("two").ID)
}
