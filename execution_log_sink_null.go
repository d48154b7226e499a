package flow

import "context"

// NullExecutionLogSink is a no-op implementation of ExecutionLogSink.
type NullExecutionLogSink struct{}

func NewNullExecutionLogSink() *NullExecutionLogSink {
	return &NullExecutionLogSink{}
}

func (s *NullExecutionLogSink) WriteEntries(ctx context.Context, instanceID string, entries []*LogEntry) error {
	return nil
}

func (s *NullExecutionLogSink) ReadEntries(ctx context.Context, instanceID string) ([]*LogEntry, error) {
	return nil, nil
}
