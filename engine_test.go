package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// tracer records the IDs of the nodes whose behavior ran, in order.
type tracer struct {
	mu  sync.Mutex
	ids []string
}

func (t *tracer) add(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids = append(t.ids, id)
}

func (t *tracer) calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.ids...)
}

// testActivities returns:
//   - Noop, which completes immediately
//   - Wait, which bookmarks on its "payload" input and stores the resume
//     input as its output
//   - Fail, which returns an error
//   - Panic, which panics
func testActivities(trace *tracer) []Activity {
	return []Activity{
		NewActivityFunction("Noop", func(ctx *ActivityContext) error {
			trace.add(ctx.ID())
			return nil
		}),
		&waitActivity{trace: trace},
		NewActivityFunction("Fail", func(ctx *ActivityContext) error {
			trace.add(ctx.ID())
			return errors.New("failed on purpose")
		}),
		NewActivityFunction("Panic", func(ctx *ActivityContext) error {
			trace.add(ctx.ID())
			panic("unexpected state")
		}),
	}
}

type waitActivity struct {
	trace *tracer
}

func (w *waitActivity) Name() string {
	return "Wait"
}

func (w *waitActivity) Execute(ctx *ActivityContext) error {
	w.trace.add(ctx.ID())
	payload, _, err := InputAs[string](ctx, "payload")
	if err != nil {
		return err
	}
	if payload == "" {
		payload = ctx.ID()
	}
	_, err = ctx.CreateBookmark(payload, nil)
	return err
}

func (w *waitActivity) Resume(ctx *ActivityContext, bookmark *Bookmark, input map[string]any) error {
	w.trace.add(ctx.ID() + ":resumed")
	ctx.SetOutput(input)
	return nil
}

type engineFixture struct {
	engine *Engine
	store  *MemoryStore
	trace  *tracer
}

func newEngineFixture(t *testing.T, root *Node, opts ...func(*EngineOptions)) *engineFixture {
	t.Helper()
	wf, err := New(Options{Name: "test", Root: root})
	require.NoError(t, err)

	trace := &tracer{}
	store := NewMemoryStore()
	options := EngineOptions{
		Workflows:  []*Workflow{wf},
		Activities: testActivities(trace),
		Store:      store,
	}
	for _, opt := range opts {
		opt(&options)
	}
	engine, err := NewEngine(options)
	require.NoError(t, err)
	return &engineFixture{engine: engine, store: store, trace: trace}
}

func (f *engineFixture) start(t *testing.T) *RunResult {
	t.Helper()
	result, err := f.engine.Start(context.Background(), "test", StartOptions{})
	require.NoError(t, err)
	return result
}

func events(wc *WorkflowContext, activityID string) []string {
	var out []string
	for _, e := range wc.Log().Entries() {
		if e.ActivityID == activityID {
			out = append(out, e.Event)
		}
	}
	return out
}

func TestEngineStartUnknownWorkflow(t *testing.T) {
	f := newEngineFixture(t, &Node{ID: "a", Type: "Noop"})
	_, err := f.engine.Start(context.Background(), "missing", StartOptions{})
	require.Error(t, err)
	require.True(t, IsErrorType(err, ErrorTypeNotFound))
}

func TestEngineStartDuplicateInstance(t *testing.T) {
	f := newEngineFixture(t, &Node{ID: "a", Type: "Noop"})
	ctx := context.Background()
	_, err := f.engine.Start(ctx, "test", StartOptions{InstanceID: "wf_fixed"})
	require.NoError(t, err)
	_, err = f.engine.Start(ctx, "test", StartOptions{InstanceID: "wf_fixed"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "already exists")
}

func TestEngineSingleActivity(t *testing.T) {
	f := newEngineFixture(t, &Node{ID: "a", Type: "Noop"})
	result := f.start(t)

	require.Equal(t, WorkflowStatusFinished, result.Status)
	require.NoError(t, result.Error)
	require.Empty(t, result.Bookmarks)
	require.Equal(t, []string{"a"}, f.trace.calls())
	require.Equal(t, []string{EventActivityStarted, EventActivityCompleted}, events(result.Context, "a"))

	state, ok := result.Context.Activity("a")
	require.True(t, ok)
	require.Equal(t, ActivityStatusCompleted, state.Status)

	snapshot, err := f.store.LoadInstance(context.Background(), result.InstanceID)
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	require.Equal(t, WorkflowStatusFinished, snapshot.Status)
}

func TestEngineSuspendAndResume(t *testing.T) {
	f := newEngineFixture(t, &Node{ID: "wait", Type: "Wait", Inputs: map[string]any{"payload": "approve"}})
	ctx := context.Background()

	started := f.start(t)
	require.Equal(t, WorkflowStatusSuspended, started.Status)
	require.Len(t, started.Bookmarks, 1)
	require.Equal(t, "approve", started.Bookmarks[0].Payload)
	require.Equal(t, "wait", started.Bookmarks[0].ActivityID)

	t.Run("unknown payload is rejected", func(t *testing.T) {
		_, err := f.engine.Resume(ctx, started.InstanceID, "reject", nil)
		require.Error(t, err)
		require.True(t, IsErrorType(err, ErrorTypeBookmarkInconsistency))

		wc, err := f.engine.Load(ctx, started.InstanceID)
		require.NoError(t, err)
		require.Equal(t, WorkflowStatusSuspended, wc.Status())
		require.Equal(t, 1, wc.Bookmarks().Len())
	})

	resumed, err := f.engine.Resume(ctx, started.InstanceID, "approve", map[string]any{"user": "sam"})
	require.NoError(t, err)
	require.Equal(t, WorkflowStatusFinished, resumed.Status)
	require.Empty(t, resumed.Bookmarks)
	require.Equal(t, []string{"wait", "wait:resumed"}, f.trace.calls())

	state, ok := resumed.Context.Activity("wait")
	require.True(t, ok)
	require.Equal(t, map[string]any{"user": "sam"}, state.Output)

	t.Run("finished instance cannot be resumed", func(t *testing.T) {
		_, err := f.engine.Resume(ctx, started.InstanceID, "approve", nil)
		require.True(t, IsErrorType(err, ErrorTypeBookmarkInconsistency))
	})
}

func TestEngineResumeUnknownInstance(t *testing.T) {
	f := newEngineFixture(t, &Node{ID: "a", Type: "Noop"})
	_, err := f.engine.Resume(context.Background(), "wf_missing", "go", nil)
	require.True(t, IsErrorType(err, ErrorTypeNotFound))
}

func TestEngineTrigger(t *testing.T) {
	f := newEngineFixture(t, &Node{ID: "wait", Type: "Wait", Inputs: map[string]any{"payload": "go"}})
	started := f.start(t)

	_, err := f.engine.Trigger(context.Background(), Trigger{Payload: "go"})
	require.Error(t, err)

	result, err := f.engine.Trigger(context.Background(), Trigger{InstanceID: started.InstanceID, Payload: "go"})
	require.NoError(t, err)
	require.Equal(t, WorkflowStatusFinished, result.Status)
}

func TestEngineResumeMatchesEveryBookmark(t *testing.T) {
	root := &Node{
		ID:     "fork",
		Type:   ForkActivityType,
		Inputs: map[string]any{"mode": "WaitAll"},
		Children: []*Node{
			{ID: "first", Type: "Wait", Inputs: map[string]any{"payload": "go"}},
			{ID: "second", Type: "Wait", Inputs: map[string]any{"payload": "go"}},
		},
	}
	f := newEngineFixture(t, root)
	started := f.start(t)
	require.Equal(t, WorkflowStatusSuspended, started.Status)
	require.Len(t, started.Bookmarks, 2)

	result, err := f.engine.Resume(context.Background(), started.InstanceID, "go", nil)
	require.NoError(t, err)
	require.Equal(t, WorkflowStatusFinished, result.Status)
	require.Equal(t, []string{"first", "second", "first:resumed", "second:resumed"}, f.trace.calls())
}

func TestEngineRestartFromStore(t *testing.T) {
	root := &Node{
		ID:        "fork",
		Type:      ForkActivityType,
		Inputs:    map[string]any{"mode": "WaitAll"},
		Variables: map[string]any{"attempts": 1},
		Children: []*Node{
			{ID: "a", Type: "Noop"},
			{ID: "wait", Type: "Wait", Inputs: map[string]any{"payload": "go"}},
		},
	}
	f := newEngineFixture(t, root)
	started := f.start(t)
	require.Equal(t, WorkflowStatusSuspended, started.Status)

	wf, err := New(Options{Name: "test", Root: root})
	require.NoError(t, err)
	trace := &tracer{}
	restarted, err := NewEngine(EngineOptions{
		Workflows:  []*Workflow{wf},
		Activities: testActivities(trace),
		Store:      f.store,
	})
	require.NoError(t, err)

	wc, err := restarted.Load(context.Background(), started.InstanceID)
	require.NoError(t, err)
	require.Equal(t, WorkflowStatusSuspended, wc.Status())
	require.Equal(t, started.Context.Log().Len(), wc.Log().Len())
	fork, ok := wc.Activity("fork")
	require.True(t, ok)
	require.Equal(t, []any{"a"}, fork.Properties[forkCompletedProperty])
	require.Equal(t, float64(1), fork.Variables["attempts"])

	result, err := restarted.Resume(context.Background(), started.InstanceID, "go", nil)
	require.NoError(t, err)
	require.Equal(t, WorkflowStatusFinished, result.Status)
	require.Equal(t, []string{"wait:resumed"}, trace.calls())
	require.Len(t, result.Context.Log().Filter(EventWorkflowStarted), 1)
	require.Len(t, result.Context.Log().Filter(EventWorkflowResumed), 1)
}

func TestEngineConcurrentResume(t *testing.T) {
	f := newEngineFixture(t, &Node{ID: "wait", Type: "Wait", Inputs: map[string]any{"payload": "go"}})
	started := f.start(t)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Resume(context.Background(), started.InstanceID, "go", nil)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if IsErrorType(err, ErrorTypeBookmarkInconsistency) {
				rejected++
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, succeeded)
	require.Equal(t, 7, rejected)
	require.Equal(t, 0, f.engine.locks.len())
}

func TestEngineListAndDelete(t *testing.T) {
	f := newEngineFixture(t, &Node{ID: "wait", Type: "Wait"})
	ctx := context.Background()
	first := f.start(t)
	second := f.start(t)

	summaries, err := f.engine.List(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	ids := []string{summaries[0].InstanceID, summaries[1].InstanceID}
	require.ElementsMatch(t, []string{first.InstanceID, second.InstanceID}, ids)
	for _, s := range summaries {
		require.Equal(t, WorkflowStatusSuspended, s.Status)
		require.Equal(t, "test", s.WorkflowName)
	}

	require.NoError(t, f.engine.Delete(ctx, first.InstanceID))
	_, err = f.engine.Load(ctx, first.InstanceID)
	require.True(t, IsErrorType(err, ErrorTypeNotFound))

	summaries, err = f.engine.List(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
}

func TestEngineFrozenClockLogOrdering(t *testing.T) {
	frozen := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	root := &Node{
		ID:   "fork",
		Type: ForkActivityType,
		Inputs: map[string]any{
			"mode": "WaitAll",
		},
		Children: []*Node{
			{ID: "a", Type: "Noop"},
			{ID: "b", Type: "Noop"},
		},
	}
	f := newEngineFixture(t, root, func(o *EngineOptions) {
		o.Clock = func() time.Time { return frozen }
	})
	result := f.start(t)
	require.Equal(t, WorkflowStatusFinished, result.Status)

	entries := result.Context.Log().Entries()
	require.NotEmpty(t, entries)
	require.Equal(t, frozen, entries[0].Timestamp)
	for i, e := range entries {
		require.Equal(t, i+1, e.Sequence)
		if i > 0 {
			require.True(t, e.Timestamp.After(entries[i-1].Timestamp))
		}
	}
	require.Equal(t, EventWorkflowStarted, entries[0].Event)
	require.Equal(t, EventWorkflowFinished, entries[len(entries)-1].Event)
}

func TestEngineLogSink(t *testing.T) {
	sink := NewFileExecutionLogSink(t.TempDir())
	f := newEngineFixture(t, &Node{ID: "wait", Type: "Wait", Inputs: map[string]any{"payload": "go"}}, func(o *EngineOptions) {
		o.LogSink = sink
	})
	ctx := context.Background()
	started := f.start(t)

	written, err := sink.ReadEntries(ctx, started.InstanceID)
	require.NoError(t, err)
	require.Len(t, written, started.Context.Log().Len())

	resumed, err := f.engine.Resume(ctx, started.InstanceID, "go", nil)
	require.NoError(t, err)

	written, err = sink.ReadEntries(ctx, started.InstanceID)
	require.NoError(t, err)
	require.Len(t, written, resumed.Context.Log().Len())
	for i, e := range written {
		require.Equal(t, i+1, e.Sequence)
	}
}

type recordingCallbacks struct {
	BaseExecutionCallbacks
	mu     sync.Mutex
	events []string
}

func (r *recordingCallbacks) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingCallbacks) BeforeWorkflowPass(ctx context.Context, event *WorkflowPassEvent) {
	r.add("before-pass")
}

func (r *recordingCallbacks) AfterWorkflowPass(ctx context.Context, event *WorkflowPassEvent) {
	r.add("after-pass:" + string(event.Status))
}

func (r *recordingCallbacks) BeforeActivityExecution(ctx context.Context, event *ActivityExecutionEvent) {
	r.add("before:" + event.ActivityID)
}

func (r *recordingCallbacks) AfterActivityExecution(ctx context.Context, event *ActivityExecutionEvent) {
	if event.Error != nil {
		r.add("error:" + event.ActivityID)
		return
	}
	r.add("after:" + event.ActivityID)
}

func (r *recordingCallbacks) BookmarkCreated(ctx context.Context, event *BookmarkEvent) {
	r.add("bookmark:" + event.Bookmark.Payload)
}

func (r *recordingCallbacks) BookmarkResumed(ctx context.Context, event *BookmarkEvent) {
	r.add("resumed:" + event.Bookmark.Payload)
}

func TestExecutionCallbacks(t *testing.T) {
	callbacks := &recordingCallbacks{}
	f := newEngineFixture(t, &Node{ID: "wait", Type: "Wait", Inputs: map[string]any{"payload": "go"}}, func(o *EngineOptions) {
		o.ExecutionCallbacks = callbacks
	})
	started := f.start(t)
	_, err := f.engine.Resume(context.Background(), started.InstanceID, "go", nil)
	require.NoError(t, err)

	require.Equal(t, []string{
		"before-pass",
		"before:wait",
		"bookmark:go",
		"after:wait",
		"after-pass:suspended",
		"before-pass",
		"resumed:go",
		"before:wait",
		"after:wait",
		"after-pass:finished",
	}, callbacks.events)
}

func TestCallbackChain(t *testing.T) {
	first := &recordingCallbacks{}
	second := &recordingCallbacks{}
	chain := NewCallbackChain(first)
	chain.Add(second)

	f := newEngineFixture(t, &Node{ID: "boom", Type: "Fail"}, func(o *EngineOptions) {
		o.ExecutionCallbacks = chain
	})
	result := f.start(t)
	require.Equal(t, WorkflowStatusFaulted, result.Status)

	expected := []string{"before-pass", "before:boom", "error:boom", "after-pass:faulted"}
	require.Equal(t, expected, first.events)
	require.Equal(t, expected, second.events)
}

func TestEngineRestartTransparency(t *testing.T) {
	root := func() *Node {
		return &Node{
			ID:        "group",
			Type:      "Group",
			Variables: map[string]any{"total": 0},
			Children: []*Node{
				{
					ID:     "fork",
					Type:   ForkActivityType,
					Inputs: map[string]any{"mode": "WaitAll"},
					Children: []*Node{
						{ID: "wait", Type: "Wait", Inputs: map[string]any{"payload": "go"}},
						{ID: "a", Type: "Noop"},
					},
				},
				{ID: "b", Type: "Noop", Inputs: map[string]any{"total": "${total + 1}"}},
			},
		}
	}
	input := map[string]any{"approved": true}
	ctx := context.Background()

	// Reference run keeps one engine for the whole instance
	f := newEngineFixture(t, root(), withActivities(groupActivity))
	started := f.start(t)
	require.Equal(t, WorkflowStatusSuspended, started.Status)
	reference, err := f.engine.Resume(ctx, started.InstanceID, "go", input)
	require.NoError(t, err)

	// Interrupted run persists to disk and resumes on a fresh engine
	dir := t.TempDir()
	newEngine := func() *Engine {
		wf, err := New(Options{Name: "test", Root: root()})
		require.NoError(t, err)
		store, err := NewFileStore(dir)
		require.NoError(t, err)
		engine, err := NewEngine(EngineOptions{
			Workflows:  []*Workflow{wf},
			Activities: append(testActivities(&tracer{}), groupActivity),
			Store:      store,
		})
		require.NoError(t, err)
		return engine
	}
	first, err := newEngine().Start(ctx, "test", StartOptions{})
	require.NoError(t, err)
	require.Equal(t, WorkflowStatusSuspended, first.Status)
	interrupted, err := newEngine().Resume(ctx, first.InstanceID, "go", input)
	require.NoError(t, err)

	require.Equal(t, reference.Status, interrupted.Status)
	require.Equal(t, WorkflowStatusFinished, interrupted.Status)
	require.Equal(t, reference.Context.Variables(), interrupted.Context.Variables())
	require.Equal(t, logShape(reference.Context), logShape(interrupted.Context))

	want, _ := reference.Context.Activity("group")
	got, ok := interrupted.Context.Activity("group")
	require.True(t, ok)
	require.Equal(t, want.Status, got.Status)
	require.Equal(t, want.Variables, got.Variables)
}

// logShape reduces a log to what is independent of ids and timestamps.
func logShape(wc *WorkflowContext) []string {
	var shape []string
	for _, e := range wc.Log().Entries() {
		shape = append(shape, e.Event+"/"+e.ActivityID)
	}
	return shape
}

func TestInstanceLocks(t *testing.T) {
	var locks instanceLocks
	release := locks.acquire("wf_1")
	require.Equal(t, 1, locks.len())

	acquired := make(chan func())
	go func() { acquired <- locks.acquire("wf_1") }()
	select {
	case <-acquired:
		t.Fatal("second pass entered while the first held the lock")
	case <-time.After(20 * time.Millisecond):
	}
	require.Equal(t, 1, locks.len())

	release()
	second := <-acquired
	require.Equal(t, 1, locks.len())
	second()
	require.Equal(t, 0, locks.len())
}
