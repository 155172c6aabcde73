// Package dag models the commit graph: immutable, content-addressed commits
// pointing at schema snapshots, an append-only store with child indexes and
// compaction redirects, and a Walker for history, ancestry, and merge-base
// questions.
package dag

import (
	"fmt"
	"time"

	"github.com/trellis-data/trellis/snapshot"
)

// Commit is one node of the version graph. Commits are immutable once
// sealed; every field participates in the content ID except ID itself.
type Commit struct {
	ID        string      `json:"id"`
	Snapshot  snapshot.ID `json:"snapshot"`
	Parents   []string    `json:"parents,omitempty"`
	Author    string      `json:"author,omitempty"`
	Message   string      `json:"message,omitempty"`
	TraceID   string      `json:"trace_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`

	// Clock is a logical clock: max of the parent clocks plus one, 1 at the
	// root. It orders ancestry searches without trusting wall time.
	Clock uint64 `json:"clock"`

	// Collapsed lists the original commit ids a synthetic commit replaced.
	// Empty on ordinary commits.
	Collapsed []string `json:"collapsed,omitempty"`
}

// commitBody mirrors Commit without the ID field for hashing.
type commitBody struct {
	Snapshot  snapshot.ID `json:"snapshot"`
	Parents   []string    `json:"parents,omitempty"`
	Author    string      `json:"author,omitempty"`
	Message   string      `json:"message,omitempty"`
	TraceID   string      `json:"trace_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	Clock     uint64      `json:"clock"`
	Collapsed []string    `json:"collapsed,omitempty"`
}

// NewCommit builds and seals a commit on top of the given parents. The
// logical clock is derived from the parents; CreatedAt is informational
// and does not affect ordering.
func NewCommit(snap snapshot.ID, parents []*Commit, author, message, traceID string) (*Commit, error) {
	c := &Commit{
		Snapshot:  snap,
		Author:    author,
		Message:   message,
		TraceID:   traceID,
		CreatedAt: time.Now().UTC(),
		Clock:     1,
	}
	for _, p := range parents {
		c.Parents = append(c.Parents, p.ID)
		if p.Clock >= c.Clock {
			c.Clock = p.Clock + 1
		}
	}
	if err := c.Seal(); err != nil {
		return nil, err
	}
	return c, nil
}

// ComputeID hashes the canonical encoding of the commit body.
func (c *Commit) ComputeID() (string, error) {
	body := commitBody{
		Snapshot:  c.Snapshot,
		Parents:   c.Parents,
		Author:    c.Author,
		Message:   c.Message,
		TraceID:   c.TraceID,
		CreatedAt: c.CreatedAt,
		Clock:     c.Clock,
		Collapsed: c.Collapsed,
	}
	data, err := snapshot.CanonicalJSON(body)
	if err != nil {
		return "", fmt.Errorf("encode commit body: %w", err)
	}
	id, err := snapshot.ComputeID(data)
	if err != nil {
		return "", err
	}
	return string(id), nil
}

// Seal computes and assigns the commit ID. Mutating a sealed commit breaks
// its identity; stores verify the seal on Put.
func (c *Commit) Seal() error {
	id, err := c.ComputeID()
	if err != nil {
		return err
	}
	c.ID = id
	return nil
}

// IsRoot reports whether the commit has no parents.
func (c *Commit) IsRoot() bool {
	return len(c.Parents) == 0
}

// IsMerge reports whether the commit joins two lines of history.
func (c *Commit) IsMerge() bool {
	return len(c.Parents) > 1
}

// IsSynthetic reports whether the commit was produced by compaction.
func (c *Commit) IsSynthetic() bool {
	return len(c.Collapsed) > 0
}

// FirstParent returns the first parent id, or "" for a root.
func (c *Commit) FirstParent() string {
	if len(c.Parents) == 0 {
		return ""
	}
	return c.Parents[0]
}
