// Package postgres stores branches, branch history and the audit event log
// in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
)

// Options configures the connection. Empty fields fall back to the standard
// PG* environment variables, then to defaults.
type Options struct {
	Host      string
	Port      string
	User      string
	Password  string
	Database  string
	SSLMode   string
	Workspace string
}

// Client manages the Postgres connection for branch and event storage.
type Client struct {
	db        *sql.DB
	workspace string
}

// New opens the connection, checks it and creates the schema.
func New(ctx context.Context, opts Options) (*Client, error) {
	db, err := sql.Open("postgres", connString(opts))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	workspace := opts.Workspace
	if workspace == "" {
		workspace = "default"
	}
	client := &Client{
		db:        db,
		workspace: workspace,
	}

	if err := client.createTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return client, nil
}

func connString(opts Options) string {
	host := firstSet(opts.Host, "PGHOST", "127.0.0.1")
	port := firstSet(opts.Port, "PGPORT", "5432")
	user := firstSet(opts.User, "PGUSER", "dialogstudio")
	dbname := firstSet(opts.Database, "PGDATABASE", "dialogstudio")
	sslmode := firstSet(opts.SSLMode, "PGSSLMODE", "disable")
	password := firstSet(opts.Password, "PGPASSWORD", "")

	if password != "" {
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			host, port, user, password, dbname, sslmode)
	}
	return fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		host, port, user, dbname, sslmode)
}

func firstSet(value, envKey, defaultVal string) string {
	if value != "" {
		return value
	}
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return defaultVal
}

func (c *Client) createTables(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS branches (
			workspace      TEXT NOT NULL,
			name           TEXT NOT NULL,
			scenario_data  JSONB NOT NULL,
			base_data      JSONB,
			base_commit    TEXT NOT NULL DEFAULT '',
			last_modified  TIMESTAMPTZ NOT NULL,
			author         TEXT NOT NULL DEFAULT '',
			is_deleted     BOOLEAN NOT NULL DEFAULT FALSE,
			commit_message TEXT NOT NULL DEFAULT '',
			revision       BIGINT NOT NULL,
			PRIMARY KEY (workspace, name)
		);
		CREATE TABLE IF NOT EXISTS branch_history (
			entry_id  BIGSERIAL PRIMARY KEY,
			workspace TEXT NOT NULL,
			action    TEXT NOT NULL,
			branch    TEXT NOT NULL,
			author    TEXT NOT NULL,
			message   TEXT NOT NULL,
			ts        TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_branch_history_ws ON branch_history(workspace, entry_id);
		CREATE TABLE IF NOT EXISTS events (
			event_id  BIGSERIAL PRIMARY KEY,
			ts        TIMESTAMPTZ NOT NULL,
			level     TEXT NOT NULL,
			event     TEXT NOT NULL,
			msg       TEXT,
			fields    JSONB,
			workspace TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_events_workspace ON events(workspace);
	`
	_, err := c.db.ExecContext(ctx, query)
	return err
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
