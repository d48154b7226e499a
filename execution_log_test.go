package flow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExecutionLog(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	log := NewExecutionLog(func() time.Time { return now })

	first := log.Append(LogEntry{Event: EventWorkflowStarted})
	second := log.Append(LogEntry{Event: EventActivityStarted, ActivityID: "a"})
	now = now.Add(-time.Hour)
	third := log.Append(LogEntry{Event: EventActivityCompleted, ActivityID: "a"})

	require.Equal(t, 1, first.Sequence)
	require.Equal(t, 2, second.Sequence)
	require.Equal(t, 3, third.Sequence)
	require.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), first.Timestamp)
	require.True(t, second.Timestamp.After(first.Timestamp))
	require.True(t, third.Timestamp.After(second.Timestamp), "a clock moving backwards never reorders entries")

	require.Equal(t, 3, log.Len())
	require.Len(t, log.Entries(), 3)
	require.Equal(t, []*LogEntry{second, third}, log.Since(1))
	require.Nil(t, log.Since(3))
	require.Len(t, log.Since(-1), 3)
	require.Equal(t, []*LogEntry{third}, log.Filter(EventActivityCompleted))
}

func TestRestoreExecutionLog(t *testing.T) {
	log := NewExecutionLog(nil)
	log.Append(LogEntry{Event: EventWorkflowStarted})
	log.Append(LogEntry{Event: EventWorkflowSuspended})

	restored := restoreExecutionLog(SystemClock, log.Entries())
	next := restored.Append(LogEntry{Event: EventWorkflowResumed})
	require.Equal(t, 3, next.Sequence)
	require.True(t, next.Timestamp.After(log.Entries()[1].Timestamp))
}
