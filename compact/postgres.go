package compact

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/trellis-data/trellis/dag"
)

// PostgresArchive persists collapsed commits in a compacted_commits table.
// Callers open the *sql.DB with the pgx stdlib driver and own its lifecycle.
type PostgresArchive struct {
	db *sql.DB
}

// NewPostgresArchive creates an archive over an open database handle.
func NewPostgresArchive(db *sql.DB) *PostgresArchive {
	return &PostgresArchive{db: db}
}

// Initialize ensures the compacted_commits table exists.
func (a *PostgresArchive) Initialize(ctx context.Context) error {
	query := `
CREATE TABLE IF NOT EXISTS compacted_commits (
	id VARCHAR(128) PRIMARY KEY,
	synthetic_id VARCHAR(128) NOT NULL,
	branch_hint VARCHAR(255) NOT NULL DEFAULT '',
	body JSONB NOT NULL,
	archived_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_compacted_commits_synthetic_id
ON compacted_commits(synthetic_id);
`
	if _, err := a.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to initialize compacted_commits table: %w", err)
	}
	return nil
}

// Save archives one run in a transaction. Re-archiving an id happens when a
// synthetic commit is itself collapsed; its synthetic pointer moves to the
// newest replacement while the stored body stays the original.
func (a *PostgresArchive) Save(ctx context.Context, branch string, commits []*dag.Commit, syntheticID string) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
INSERT INTO compacted_commits (id, synthetic_id, branch_hint, body)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET synthetic_id = EXCLUDED.synthetic_id
`
	for _, c := range commits {
		body, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to encode commit %s: %w", c.ID, err)
		}
		if _, err := tx.ExecContext(ctx, query, c.ID, syntheticID, branch, body); err != nil {
			return fmt.Errorf("failed to archive commit %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive transaction: %w", err)
	}
	return nil
}

// Get returns an archived commit by id.
func (a *PostgresArchive) Get(ctx context.Context, id string) (*dag.Commit, error) {
	var body []byte
	err := a.db.QueryRowContext(ctx,
		"SELECT body FROM compacted_commits WHERE id = $1", id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotArchived, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load archived commit: %w", err)
	}

	var c dag.Commit
	if err := json.Unmarshal(body, &c); err != nil {
		return nil, fmt.Errorf("failed to decode archived commit %s: %w", id, err)
	}
	return &c, nil
}

// SyntheticFor returns the synthetic id that replaced an archived commit.
func (a *PostgresArchive) SyntheticFor(ctx context.Context, id string) (string, error) {
	var sid string
	err := a.db.QueryRowContext(ctx,
		"SELECT synthetic_id FROM compacted_commits WHERE id = $1", id).Scan(&sid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotArchived, id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up synthetic id: %w", err)
	}
	return sid, nil
}

var _ Archive = (*PostgresArchive)(nil)
