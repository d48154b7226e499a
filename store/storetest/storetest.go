// Package storetest holds the behavior every flow.Store and
// flow.ExecutionLogSink implementation is expected to share.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/deepnoodle-ai/flow"
	"github.com/stretchr/testify/require"
)

// Snapshot returns a small suspended snapshot for instanceID.
func Snapshot(instanceID string, createdAt time.Time) *flow.Snapshot {
	return &flow.Snapshot{
		ID:            instanceID,
		WorkflowName:  "approval",
		CorrelationID: "corr-" + instanceID,
		Status:        flow.WorkflowStatusSuspended,
		Variables:     map[string]any{"amount": 42.0},
		Activities: map[string]*flow.ActivityState{
			"wait": {
				NodeID:     "wait",
				Type:       "Event",
				Status:     flow.ActivityStatusSuspended,
				Inputs:     map[string]any{"name": "approve"},
				Properties: map[string]any{},
				StartedAt:  createdAt,
			},
		},
		Bookmarks: []*flow.Bookmark{{
			ID:         "bm_" + instanceID,
			ActivityID: "wait",
			Payload:    "approve",
			CreatedAt:  createdAt,
		}},
		Log: []*flow.LogEntry{{
			Sequence:  1,
			Timestamp: createdAt,
			Event:     flow.EventWorkflowStarted,
		}},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

// RunStoreTests exercises save, load, list and delete against store. The
// store must start empty.
func RunStoreTests(t *testing.T, store flow.Store) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("missing instance loads as nil", func(t *testing.T) {
		snapshot, err := store.LoadInstance(ctx, "does-not-exist")
		require.NoError(t, err)
		require.Nil(t, snapshot)
	})

	t.Run("round trip", func(t *testing.T) {
		original := Snapshot("wf_one", base)
		require.NoError(t, store.SaveInstance(ctx, original))

		loaded, err := store.LoadInstance(ctx, "wf_one")
		require.NoError(t, err)
		require.NotNil(t, loaded)
		require.Equal(t, original.ID, loaded.ID)
		require.Equal(t, original.WorkflowName, loaded.WorkflowName)
		require.Equal(t, original.Status, loaded.Status)
		require.Equal(t, original.Variables, loaded.Variables)
		require.Len(t, loaded.Bookmarks, 1)
		require.Equal(t, "approve", loaded.Bookmarks[0].Payload)
		require.Equal(t, flow.ActivityStatusSuspended, loaded.Activities["wait"].Status)
		require.True(t, original.CreatedAt.Equal(loaded.CreatedAt))
	})

	t.Run("save replaces", func(t *testing.T) {
		updated := Snapshot("wf_one", base)
		updated.Status = flow.WorkflowStatusFinished
		updated.Bookmarks = nil
		updated.UpdatedAt = base.Add(time.Minute)
		require.NoError(t, store.SaveInstance(ctx, updated))

		loaded, err := store.LoadInstance(ctx, "wf_one")
		require.NoError(t, err)
		require.Equal(t, flow.WorkflowStatusFinished, loaded.Status)
		require.Empty(t, loaded.Bookmarks)
	})

	t.Run("list newest first", func(t *testing.T) {
		require.NoError(t, store.SaveInstance(ctx, Snapshot("wf_two", base.Add(time.Hour))))

		summaries, err := store.ListInstances(ctx)
		require.NoError(t, err)
		require.Len(t, summaries, 2)
		require.Equal(t, "wf_two", summaries[0].InstanceID)
		require.Equal(t, flow.WorkflowStatusSuspended, summaries[0].Status)
		require.Equal(t, 1, summaries[0].Bookmarks)
		require.Equal(t, "wf_one", summaries[1].InstanceID)
		require.Equal(t, flow.WorkflowStatusFinished, summaries[1].Status)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.DeleteInstance(ctx, "wf_two"))
		snapshot, err := store.LoadInstance(ctx, "wf_two")
		require.NoError(t, err)
		require.Nil(t, snapshot)

		summaries, err := store.ListInstances(ctx)
		require.NoError(t, err)
		require.Len(t, summaries, 1)
	})
}

// RunLogSinkTests exercises appending and reading exported log entries.
func RunLogSinkTests(t *testing.T, sink flow.ExecutionLogSink) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	entries, err := sink.ReadEntries(ctx, "wf_empty")
	require.NoError(t, err)
	require.Empty(t, entries)

	first := []*flow.LogEntry{
		{Sequence: 1, Timestamp: base, Event: flow.EventWorkflowStarted},
		{Sequence: 2, Timestamp: base.Add(time.Nanosecond), ActivityID: "wait", ActivityType: "Event", Event: flow.EventActivityStarted},
	}
	second := []*flow.LogEntry{
		{Sequence: 3, Timestamp: base.Add(2 * time.Nanosecond), Event: flow.EventWorkflowSuspended, Payload: map[string]any{"bookmarks": 1.0}},
	}
	require.NoError(t, sink.WriteEntries(ctx, "wf_log", first))
	require.NoError(t, sink.WriteEntries(ctx, "wf_log", second))
	require.NoError(t, sink.WriteEntries(ctx, "wf_log", nil))

	entries, err = sink.ReadEntries(ctx, "wf_log")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, entry := range entries {
		require.Equal(t, i+1, entry.Sequence)
	}
	require.Equal(t, "wait", entries[1].ActivityID)
	require.Equal(t, map[string]any{"bookmarks": 1.0}, entries[2].Payload)
}

// RunRestartTest starts a run against one engine, then resumes it through a
// second engine sharing only the store, as a restarted process would.
func RunRestartTest(t *testing.T, store flow.Store) {
	ctx := context.Background()
	wf, err := flow.New(flow.Options{
		Name: "restart",
		Root: &flow.Node{ID: "wait", Type: "Wait", Inputs: map[string]any{"payload": "go"}},
	})
	require.NoError(t, err)

	wait := flow.NewActivityFunction("Wait", func(ctx *flow.ActivityContext) error {
		payload, err := ctx.RequireInput("payload")
		if err != nil {
			return err
		}
		_, err = ctx.CreateBookmark(payload.(string), nil)
		return err
	})
	newEngine := func() *flow.Engine {
		engine, err := flow.NewEngine(flow.EngineOptions{
			Workflows:  []*flow.Workflow{wf},
			Activities: []flow.Activity{wait},
			Store:      store,
		})
		require.NoError(t, err)
		return engine
	}

	started, err := newEngine().Start(ctx, "restart", flow.StartOptions{})
	require.NoError(t, err)
	require.Equal(t, flow.WorkflowStatusSuspended, started.Status)

	resumed, err := newEngine().Resume(ctx, started.InstanceID, "go", nil)
	require.NoError(t, err)
	require.Equal(t, flow.WorkflowStatusFinished, resumed.Status)

	loaded, err := store.LoadInstance(ctx, started.InstanceID)
	require.NoError(t, err)
	require.Equal(t, flow.WorkflowStatusFinished, loaded.Status)
	require.Empty(t, loaded.Bookmarks)
}
