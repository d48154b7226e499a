package flow

import "context"

// ExecutionLogSink exports execution log entries outside of the instance
// snapshot, for example to a file tailed by an operator.
type ExecutionLogSink interface {
	// WriteEntries appends entries for an instance
	WriteEntries(ctx context.Context, instanceID string, entries []*LogEntry) error

	// ReadEntries returns every exported entry for an instance
	ReadEntries(ctx context.Context, instanceID string) ([]*LogEntry, error)
}
