// Package sqlite stores workflow instances and their exported execution
// logs in a single SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deepnoodle-ai/flow"
	_ "modernc.org/sqlite"
)

var (
	_ flow.Store            = (*Store)(nil)
	_ flow.ExecutionLogSink = (*Store)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS workflow_instances (
	id TEXT PRIMARY KEY,
	workflow_name TEXT NOT NULL,
	correlation_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	bookmarks INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	snapshot TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_instances_created ON workflow_instances(created_at);
CREATE TABLE IF NOT EXISTS execution_log (
	instance_id TEXT NOT NULL,
	sequence INTEGER NOT NULL,
	entry TEXT NOT NULL,
	PRIMARY KEY (instance_id, sequence)
);
`

// Store is a SQLite implementation of flow.Store and flow.ExecutionLogSink.
// It uses WAL mode and a single connection, which suits one engine process
// per database file.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path. Use ":memory:" for a
// throwaway database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database location
func (s *Store) Path() string {
	return s.path
}

// Close closes the database
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
		INSERT INTO workflow_instances
			(id, workflow_name, correlation_id, status, bookmarks, error, snapshot, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			bookmarks = excluded.bookmarks,
			error = excluded.error,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at`,
		summary.InstanceID,
		summary.WorkflowName,
		summary.CorrelationID,
		string(summary.Status),
		summary.Bookmarks,
		summary.Error,
		string(data),
		formatTime(summary.CreatedAt),
		formatTime(summary.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save instance %s: %w", snapshot.ID, err)
	}
	return nil
}

func (s *Store) LoadInstance(ctx context.Context, instanceID string) (*flow.Snapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT snapshot FROM workflow_instances WHERE id = ?", instanceID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load instance %s: %w", instanceID, err)
	}
	var snapshot flow.Snapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

func (s *Store) DeleteInstance(ctx context.Context, instanceID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, "DELETE FROM workflow_instances WHERE id = ?", instanceID); err != nil {
		return fmt.Errorf("failed to delete instance %s: %w", instanceID, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM execution_log WHERE instance_id = ?", instanceID); err != nil {
		return fmt.Errorf("failed to delete log of %s: %w", instanceID, err)
	}
	return tx.Commit()
}

func (s *Store) ListInstances(ctx context.Context) ([]*flow.InstanceSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_name, correlation_id, status, bookmarks, error, created_at, updated_at
		FROM workflow_instances`)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var summaries []*flow.InstanceSummary
	for rows.Next() {
		var (
			summary              flow.InstanceSummary
			status               string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&summary.InstanceID, &summary.WorkflowName, &summary.CorrelationID,
			&status, &summary.Bookmarks, &summary.Error, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		summary.Status = flow.WorkflowStatus(status)
		if summary.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if summary.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		summaries = append(summaries, &summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	flow.SortSummaries(summaries)
	return summaries, nil
}

// WriteEntries appends exported log entries. Re-exporting an entry with a
// sequence number already stored is a no-op.
func (s *Store) WriteEntries(ctx context.Context, instanceID string, entries []*flow.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal log entry: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO execution_log (instance_id, sequence, entry) VALUES (?, ?, ?)",
			instanceID, entry.Sequence, string(data)); err != nil {
			return fmt.Errorf("failed to write log entry: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) ReadEntries(ctx context.Context, instanceID string) ([]*flow.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT entry FROM execution_log WHERE instance_id = ? ORDER BY sequence", instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	defer rows.Close()
	var entries []*flow.LogEntry
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var entry flow.LogEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal log entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
