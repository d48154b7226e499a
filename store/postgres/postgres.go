// Package postgres stores workflow instances and their exported execution
// logs in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/deepnoodle-ai/flow"
	"github.com/lib/pq"
)

var (
	_ flow.Store            = (*Store)(nil)
	_ flow.ExecutionLogSink = (*Store)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS flow_instances (
	id TEXT PRIMARY KEY,
	workflow_name TEXT NOT NULL,
	correlation_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	bookmarks INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	snapshot JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS flow_instances_created_at ON flow_instances (created_at DESC);
CREATE TABLE IF NOT EXISTS flow_execution_log (
	instance_id TEXT NOT NULL,
	sequence INTEGER NOT NULL,
	entry JSONB NOT NULL,
	PRIMARY KEY (instance_id, sequence)
);
`

// Store is a PostgreSQL implementation of flow.Store and
// flow.ExecutionLogSink. Snapshots are kept as JSONB alongside the columns
// needed to list instances without decoding them.
type Store struct {
	db *sql.DB
}

// Open connects to the database named by dsn and creates the tables if
// needed.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	store, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an existing connection pool and creates the tables if needed.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveInstance(ctx context.Context, snapshot *flow.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	summary := snapshot.Summary()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flow_instances
			(id, workflow_name, correlation_id, status, bookmarks, error, snapshot, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			bookmarks = EXCLUDED.bookmarks,
			error = EXCLUDED.error,
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at`,
		summary.InstanceID,
		summary.WorkflowName,
		summary.CorrelationID,
		string(summary.Status),
		summary.Bookmarks,
		summary.Error,
		data,
		summary.CreatedAt,
		summary.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save instance %s: %w", snapshot.ID, describe(err))
	}
	return nil
}

func (s *Store) LoadInstance(ctx context.Context, instanceID string) (*flow.Snapshot, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT snapshot FROM flow_instances WHERE id = $1", instanceID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load instance %s: %w", instanceID, describe(err))
	}
	var snapshot flow.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

func (s *Store) DeleteInstance(ctx context.Context, instanceID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", describe(err))
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, "DELETE FROM flow_instances WHERE id = $1", instanceID); err != nil {
		return fmt.Errorf("failed to delete instance %s: %w", instanceID, describe(err))
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM flow_execution_log WHERE instance_id = $1", instanceID); err != nil {
		return fmt.Errorf("failed to delete log of %s: %w", instanceID, describe(err))
	}
	return tx.Commit()
}

func (s *Store) ListInstances(ctx context.Context) ([]*flow.InstanceSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_name, correlation_id, status, bookmarks, error, created_at, updated_at
		FROM flow_instances
		ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", describe(err))
	}
	defer rows.Close()

	var summaries []*flow.InstanceSummary
	for rows.Next() {
		var (
			summary flow.InstanceSummary
			status  string
		)
		if err := rows.Scan(&summary.InstanceID, &summary.WorkflowName, &summary.CorrelationID,
			&status, &summary.Bookmarks, &summary.Error, &summary.CreatedAt, &summary.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		summary.Status = flow.WorkflowStatus(status)
		summary.CreatedAt = summary.CreatedAt.UTC()
		summary.UpdatedAt = summary.UpdatedAt.UTC()
		summaries = append(summaries, &summary)
	}
	return summaries, rows.Err()
}

// WriteEntries appends exported log entries. Entries already stored under
// the same sequence number are left untouched.
func (s *Store) WriteEntries(ctx context.Context, instanceID string, entries []*flow.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", describe(err))
	}
	defer func() { _ = tx.Rollback() }()
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal log entry: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO flow_execution_log (instance_id, sequence, entry)
			VALUES ($1, $2, $3)
			ON CONFLICT (instance_id, sequence) DO NOTHING`,
			instanceID, entry.Sequence, data); err != nil {
			return fmt.Errorf("failed to write log entry: %w", describe(err))
		}
	}
	return tx.Commit()
}

func (s *Store) ReadEntries(ctx context.Context, instanceID string) ([]*flow.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT entry FROM flow_execution_log WHERE instance_id = $1 ORDER BY sequence", instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", describe(err))
	}
	defer rows.Close()
	var entries []*flow.LogEntry
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var entry flow.LogEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal log entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// describe adds the postgres error code to driver errors so they are
// recognizable in logs.
func describe(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("%w (code %s, %s)", err, pqErr.Code, pqErr.Code.Name())
	}
	return err
}
