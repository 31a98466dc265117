package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/AaronLay10/DialogStudio/internal/branch"
)

// Load returns a stored branch, tombstones included.
func (c *Client) Load(ctx context.Context, name string) (*branch.Branch, error) {
	query := `
		SELECT name, scenario_data, base_data, base_commit, last_modified, author,
		       is_deleted, commit_message, revision
		FROM branches
		WHERE workspace = $1 AND name = $2
	`
	var (
		b        branch.Branch
		dataJSON []byte
		baseJSON []byte
	)
	err := c.db.QueryRowContext(ctx, query, c.workspace, name).Scan(
		&b.Name, &dataJSON, &baseJSON, &b.BaseCommit, &b.LastModified, &b.Author,
		&b.IsDeleted, &b.CommitMessage, &b.Revision,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, branch.ErrBranchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load branch %s: %w", name, err)
	}

	if err := json.Unmarshal(dataJSON, &b.ScenarioData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scenario data: %w", err)
	}
	if b.ScenarioData == nil {
		b.ScenarioData = branch.Snapshot{}
	}
	if len(baseJSON) > 0 {
		if err := json.Unmarshal(baseJSON, &b.Base); err != nil {
			return nil, fmt.Errorf("failed to unmarshal base data: %w", err)
		}
	}
	b.LastModified = b.LastModified.UTC()
	return &b, nil
}

// Names lists live branch names.
func (c *Client) Names(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT name FROM branches WHERE workspace = $1 AND NOT is_deleted ORDER BY name`, c.workspace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

const insertBranch = `
	INSERT INTO branches (workspace, name, scenario_data, base_data, base_commit, last_modified,
	                      author, is_deleted, commit_message, revision)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (workspace, name) DO NOTHING
`

const updateBranch = `
	UPDATE branches SET
		scenario_data  = $3,
		base_data      = $4,
		base_commit    = $5,
		last_modified  = $6,
		author         = $7,
		is_deleted     = $8,
		commit_message = $9,
		revision       = $10
	WHERE workspace = $1 AND name = $2 AND revision = $11
`

// branchWrite returns the guarded statement and arguments for one change.
// Expect 0 inserts only when the row is absent; otherwise the update only
// matches the expected revision. Either way zero affected rows means another
// writer got there first.
func branchWrite(workspace string, ch branch.Change, data, base []byte) (string, []interface{}) {
	b := ch.Branch
	args := []interface{}{
		workspace, b.Name, data, base, b.BaseCommit, b.LastModified,
		b.Author, b.IsDeleted, b.CommitMessage, ch.Expect + 1,
	}
	if ch.Expect == 0 {
		return insertBranch, args
	}
	return updateBranch, append(args, ch.Expect)
}

// Commit writes every change and the history entry in one transaction. A
// change whose guard matches no row rolls the whole commit back.
func (c *Client) Commit(ctx context.Context, changes []branch.Change, entry branch.HistoryEntry) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, ch := range changes {
		b := ch.Branch
		data, err := marshalSnapshot(b.ScenarioData)
		if err != nil {
			return err
		}
		var base []byte
		if b.Base != nil {
			if base, err = marshalSnapshot(b.Base); err != nil {
				return err
			}
		}

		query, args := branchWrite(c.workspace, ch, data, base)
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to write branch %s: %w", b.Name, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to write branch %s: %w", b.Name, err)
		}
		if n == 0 {
			return branch.ErrStaleRevision
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO branch_history (workspace, action, branch, author, message, ts) VALUES ($1, $2, $3, $4, $5, $6)`,
		c.workspace, entry.Action, entry.Branch, entry.Author, entry.Message, entry.Timestamp,
	); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}

	return tx.Commit()
}

// History returns every entry in insertion order.
func (c *Client) History(ctx context.Context) ([]branch.HistoryEntry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT action, branch, author, message, ts
		FROM branch_history
		WHERE workspace = $1
		ORDER BY entry_id
	`, c.workspace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []branch.HistoryEntry
	for rows.Next() {
		var h branch.HistoryEntry
		if err := rows.Scan(&h.Action, &h.Branch, &h.Author, &h.Message, &h.Timestamp); err != nil {
			return nil, err
		}
		h.Timestamp = h.Timestamp.UTC()
		out = append(out, h)
	}
	return out, rows.Err()
}

func marshalSnapshot(s branch.Snapshot) ([]byte, error) {
	if s == nil {
		s = branch.Snapshot{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

var _ branch.Backend = (*Client)(nil)
