// Package manifest builds export records for landed commits and merges:
// who changed what, on which branch, and how conflicts were resolved.
// Transport is a consumer concern; the engine only produces the record and
// hands it to an Exporter.
package manifest

import (
	"time"

	"github.com/google/uuid"

	"github.com/trellis-data/trellis/dag"
	"github.com/trellis-data/trellis/diff"
	"github.com/trellis-data/trellis/resolve"
	"github.com/trellis-data/trellis/snapshot"
)

// Kind says what landed the commit.
type Kind int

const (
	KindCommit Kind = iota
	KindMerge
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindCommit:
		return "commit"
	case KindMerge:
		return "merge"
	default:
		return "unknown"
	}
}

// Change is one field change rendered for export: entity keys and change
// kinds as strings, values as the canonical diff values.
type Change struct {
	Entity string `json:"entity"`
	Field  string `json:"field,omitempty"`
	Kind   string `json:"kind"`
	From   any    `json:"from,omitempty"`
	To     any    `json:"to,omitempty"`
}

// Manifest describes one landed commit or merge.
type Manifest struct {
	ID          string           `json:"id"`
	Kind        Kind             `json:"kind"`
	Branch      string           `json:"branch"`
	CommitID    string           `json:"commit_id"`
	ParentIDs   []string         `json:"parent_ids,omitempty"`
	SnapshotID  snapshot.ID      `json:"snapshot_id"`
	Author      string           `json:"author,omitempty"`
	TraceID     string           `json:"trace_id,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	Changes     []Change         `json:"changes,omitempty"`
	Resolutions []resolve.Record `json:"resolutions,omitempty"`
}

// New builds the export record for a landed commit. Merge manifests carry
// the resolver's verdicts alongside the field changes.
func New(kind Kind, branchName string, c *dag.Commit, changes []diff.FieldChange, resolutions []resolve.Record) *Manifest {
	return &Manifest{
		ID:          uuid.New().String(),
		Kind:        kind,
		Branch:      branchName,
		CommitID:    c.ID,
		ParentIDs:   append([]string(nil), c.Parents...),
		SnapshotID:  c.Snapshot,
		Author:      c.Author,
		TraceID:     c.TraceID,
		CreatedAt:   time.Now().UTC(),
		Changes:     ChangesFrom(changes),
		Resolutions: append([]resolve.Record(nil), resolutions...),
	}
}

// ChangesFrom renders diff changes for export.
func ChangesFrom(changes []diff.FieldChange) []Change {
	if len(changes) == 0 {
		return nil
	}
	out := make([]Change, len(changes))
	for i, c := range changes {
		out[i] = Change{
			Entity: c.Entity.Key(),
			Field:  c.Field,
			Kind:   c.Kind.String(),
			From:   c.From,
			To:     c.To,
		}
	}
	return out
}
