package flow

import (
	"sync"
	"time"
)

// Lifecycle event names recorded in the execution log
const (
	EventWorkflowStarted       = "WorkflowStarted"
	EventWorkflowResumed       = "WorkflowResumed"
	EventWorkflowSuspended     = "WorkflowSuspended"
	EventWorkflowFinished      = "WorkflowFinished"
	EventWorkflowFaulted       = "WorkflowFaulted"
	EventActivityStarted       = "ActivityStarted"
	EventActivityCompleted     = "ActivityCompleted"
	EventActivitySuspended     = "ActivitySuspended"
	EventActivityResumed       = "ActivityResumed"
	EventActivityFaulted       = "ActivityFaulted"
	EventActivityAbandoned     = "ActivityAbandoned"
	EventBookmarkCreated       = "BookmarkCreated"
	EventBookmarkRemoved       = "BookmarkRemoved"
	EventBookmarkSkipped       = "BookmarkSkipped"
	EventInputEvaluationFailed = "InputEvaluationFailed"
)

// LogEntry is one immutable record in a run's execution log.
type LogEntry struct {
	Sequence     int       `json:"sequence"`
	ActivityID   string    `json:"activity_id,omitempty"`
	ActivityType string    `json:"activity_type,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Event        string    `json:"event"`
	Message      string    `json:"message,omitempty"`
	Source       string    `json:"source,omitempty"`
	Payload      any       `json:"payload,omitempty"`
}

// ExecutionLog is the append-only audit trail of one workflow run. Sequence
// numbers are contiguous from 1 and timestamps strictly increase even when
// the clock does not advance between appends.
type ExecutionLog struct {
	mu      sync.RWMutex
	clock   Clock
	entries []*LogEntry
}

// NewExecutionLog returns an empty log stamped by the given clock.
func NewExecutionLog(clock Clock) *ExecutionLog {
	if clock == nil {
		clock = SystemClock
	}
	return &ExecutionLog{clock: clock}
}

func restoreExecutionLog(clock Clock, entries []*LogEntry) *ExecutionLog {
	log := NewExecutionLog(clock)
	log.entries = append(log.entries, entries...)
	return log
}

// Append stamps the entry with the next sequence number and timestamp and
// appends it. The stored entry is returned and must not be modified.
func (l *ExecutionLog) Append(entry LogEntry) *LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := l.clock()
	if n := len(l.entries); n > 0 {
		last := l.entries[n-1].Timestamp
		if !ts.After(last) {
			ts = last.Add(time.Nanosecond)
		}
	}
	entry.Sequence = len(l.entries) + 1
	entry.Timestamp = ts
	stored := &entry
	l.entries = append(l.entries, stored)
	return stored
}

// Entries returns a copy of the entry list.
func (l *ExecutionLog) Entries() []*LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]*LogEntry(nil), l.entries...)
}

// Since returns the entries with a sequence number greater than seq.
func (l *ExecutionLog) Since(seq int) []*LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq < 0 {
		seq = 0
	}
	if seq >= len(l.entries) {
		return nil
	}
	return append([]*LogEntry(nil), l.entries[seq:]...)
}

// Len returns the number of entries.
func (l *ExecutionLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Filter returns the entries for the given event name.
func (l *ExecutionLog) Filter(event string) []*LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*LogEntry
	for _, e := range l.entries {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}
