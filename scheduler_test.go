package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// groupActivity schedules every child at once and relies on the default
// child completion handling.
var groupActivity = NewActivityFunction("Group", func(ctx *ActivityContext) error {
	return ctx.ScheduleActivities(ctx.Node().Children...)
})

// manualActivity never completes on its own.
type manualActivity struct{}

func (manualActivity) Name() string       { return "Manual" }
func (manualActivity) AutoComplete() bool { return false }

func (manualActivity) Execute(ctx *ActivityContext) error {
	return nil
}

func withActivities(activities ...Activity) func(*EngineOptions) {
	return func(o *EngineOptions) {
		o.Activities = append(o.Activities, activities...)
	}
}

func TestSchedulerDefaultChildHandling(t *testing.T) {
	root := &Node{
		ID:   "group",
		Type: "Group",
		Children: []*Node{
			{ID: "a", Type: "Noop"},
			{ID: "b", Type: "Noop"},
		},
	}
	f := newEngineFixture(t, root, withActivities(groupActivity))
	result := f.start(t)

	require.Equal(t, WorkflowStatusFinished, result.Status)
	require.Equal(t, []string{"a", "b"}, f.trace.calls())
	group, ok := result.Context.Activity("group")
	require.True(t, ok)
	require.Equal(t, ActivityStatusCompleted, group.Status)
	require.Equal(t, 0, group.PendingChildren)
}

func TestSchedulerDefaultChildFault(t *testing.T) {
	root := &Node{
		ID:   "group",
		Type: "Group",
		Children: []*Node{
			{ID: "boom", Type: "Fail"},
			{ID: "b", Type: "Noop"},
		},
	}
	f := newEngineFixture(t, root, withActivities(groupActivity))
	result := f.start(t)

	require.Equal(t, WorkflowStatusFaulted, result.Status)
	require.Equal(t, []string{"boom"}, f.trace.calls())
	require.Equal(t, []string{EventActivityAbandoned}, events(result.Context, "b"))
}

func TestSchedulerUndefinedVariable(t *testing.T) {
	root := &Node{
		ID:     "group",
		Type:   "Group",
		Inputs: map[string]any{"value": "${missing + 1}"},
		Children: []*Node{
			{ID: "a", Type: "Noop"},
		},
	}
	f := newEngineFixture(t, root, withActivities(groupActivity))
	result := f.start(t)

	require.Equal(t, WorkflowStatusFaulted, result.Status)
	require.True(t, IsErrorType(result.Error, ErrorTypeInputEvaluation))
	require.Empty(t, f.trace.calls())

	group, ok := result.Context.Activity("group")
	require.True(t, ok)
	require.Equal(t, ActivityStatusFaulted, group.Status)
	require.Equal(t, ErrorTypeInputEvaluation, group.Error.Type)
	require.Equal(t, []string{
		EventActivityStarted,
		EventInputEvaluationFailed,
		EventActivityFaulted,
	}, events(result.Context, "group"))
	_, ok = result.Context.Activity("a")
	require.False(t, ok)
}

func TestSchedulerInputFaultReachesParent(t *testing.T) {
	root := &Node{
		ID:   "fork",
		Type: ForkActivityType,
		Inputs: map[string]any{
			"mode": "WaitAll",
		},
		Children: []*Node{
			{ID: "bad", Type: "Noop", Inputs: map[string]any{"value": "${nope}"}},
			{ID: "good", Type: "Noop"},
		},
	}
	f := newEngineFixture(t, root)
	result := f.start(t)

	// Only the bad node faults; the fork then faults before good is dispatched
	require.Equal(t, WorkflowStatusFaulted, result.Status)
	require.Empty(t, f.trace.calls())
	bad, ok := result.Context.Activity("bad")
	require.True(t, ok)
	require.Equal(t, ErrorTypeInputEvaluation, bad.Error.Type)
}

func TestSchedulerPanic(t *testing.T) {
	f := newEngineFixture(t, &Node{ID: "oops", Type: "Panic"})
	result := f.start(t)

	require.Equal(t, WorkflowStatusFaulted, result.Status)
	require.True(t, IsErrorType(result.Error, ErrorTypeActivityFault))
	require.Contains(t, result.Error.Error(), "panic: unexpected state")
	state, ok := result.Context.Activity("oops")
	require.True(t, ok)
	require.Equal(t, ActivityStatusFaulted, state.Status)
}

func TestSchedulerMissingActivityType(t *testing.T) {
	root := &Node{
		ID:   "group",
		Type: "Group",
		Children: []*Node{
			{ID: "unknown", Type: "DoesNotExist"},
			{ID: "b", Type: "Noop"},
		},
	}
	f := newEngineFixture(t, root, withActivities(groupActivity))
	result := f.start(t)

	require.Equal(t, WorkflowStatusFaulted, result.Status)
	require.True(t, IsErrorType(result.Error, ErrorTypeMissingInput))
	// The pass stops, so the sibling never runs
	require.Empty(t, f.trace.calls())
	require.Empty(t, events(result.Context, "b"))
}

func TestSchedulerMissingRequiredInput(t *testing.T) {
	needs := NewActivityFunction("Needs", func(ctx *ActivityContext) error {
		_, err := ctx.RequireInput("target")
		return err
	})
	f := newEngineFixture(t, &Node{ID: "needs", Type: "Needs"}, withActivities(needs))
	result := f.start(t)

	require.Equal(t, WorkflowStatusFaulted, result.Status)
	require.True(t, IsErrorType(result.Error, ErrorTypeMissingInput))
}

func TestSchedulerStalled(t *testing.T) {
	f := newEngineFixture(t, &Node{ID: "manual", Type: "Manual"}, withActivities(manualActivity{}))
	result := f.start(t)

	require.Equal(t, WorkflowStatusFaulted, result.Status)
	require.True(t, IsErrorType(result.Error, ErrorTypeStalled))
	state, ok := result.Context.Activity("manual")
	require.True(t, ok)
	require.Equal(t, ActivityStatusRunning, state.Status)
}

func TestSchedulerRejectsForeignChildren(t *testing.T) {
	stray := NewActivityFunction("Stray", func(ctx *ActivityContext) error {
		node, _ := ctx.WorkflowContext().Workflow().Node("other")
		return ctx.ScheduleActivities(node)
	})
	root := &Node{
		ID:   "group",
		Type: "Group",
		Children: []*Node{
			{ID: "stray", Type: "Stray"},
			{ID: "other", Type: "Noop"},
		},
	}
	f := newEngineFixture(t, root, withActivities(groupActivity, stray))
	result := f.start(t)

	require.Equal(t, WorkflowStatusFaulted, result.Status)
	require.Contains(t, result.Error.Error(), `activity "other" is not a child of "stray"`)
}

func TestSchedulerVariableScopes(t *testing.T) {
	var captured map[string]any
	setter := NewActivityFunction("Set", func(ctx *ActivityContext) error {
		ctx.SetVariable("count", 2)
		ctx.SetVariable("fresh", true)
		return nil
	})
	capture := NewActivityFunction("Capture", func(ctx *ActivityContext) error {
		captured = ctx.Inputs()
		return nil
	})
	root := &Node{
		ID:        "group",
		Type:      "Group",
		Variables: map[string]any{"count": 1},
		Children: []*Node{
			{ID: "set", Type: "Set"},
			{
				ID:     "read",
				Type:   "Capture",
				Inputs: map[string]any{"value": "${count + 1}", "label": "n=${count}", "fresh": "${fresh}"},
			},
		},
	}
	f := newEngineFixture(t, root, withActivities(groupActivity, setter, capture))
	result := f.start(t)
	require.Equal(t, WorkflowStatusFinished, result.Status)

	require.Equal(t, float64(3), captured["value"])
	require.Equal(t, "n=2", captured["label"])
	require.Equal(t, true, captured["fresh"])

	// count was declared on the group scope, fresh fell through to the workflow
	group, ok := result.Context.Activity("group")
	require.True(t, ok)
	require.Equal(t, float64(2), group.Variables["count"])
	_, ok = result.Context.Variable("count")
	require.False(t, ok)
	fresh, ok := result.Context.Variable("fresh")
	require.True(t, ok)
	require.Equal(t, true, fresh)
}

func TestSchedulerStartVariables(t *testing.T) {
	var captured any
	capture := NewActivityFunction("Capture", func(ctx *ActivityContext) error {
		captured, _ = ctx.Input("greeting")
		return nil
	})
	wf, err := New(Options{
		Name:      "greet",
		Variables: map[string]any{"name": "world", "punctuation": "."},
		Root: &Node{
			ID:     "capture",
			Type:   "Capture",
			Inputs: map[string]any{"greeting": "hello ${name}${punctuation}"},
		},
	})
	require.NoError(t, err)
	engine, err := NewEngine(EngineOptions{Workflows: []*Workflow{wf}, Activities: []Activity{capture}})
	require.NoError(t, err)

	result, err := engine.Start(context.Background(), "greet", StartOptions{
		Variables: map[string]any{"punctuation": "!"},
	})
	require.NoError(t, err)
	require.Equal(t, WorkflowStatusFinished, result.Status)
	require.Equal(t, "hello world!", captured)
}

func TestSchedulerProperties(t *testing.T) {
	counter := &countingActivity{}
	root := &Node{
		ID:   "counter",
		Type: "Counter",
		Children: []*Node{
			{ID: "a", Type: "Noop"},
			{ID: "b", Type: "Noop"},
			{ID: "c", Type: "Noop"},
		},
	}
	f := newEngineFixture(t, root, withActivities(counter))
	result := f.start(t)
	require.Equal(t, WorkflowStatusFinished, result.Status)

	state, ok := result.Context.Activity("counter")
	require.True(t, ok)
	require.Equal(t, float64(3), state.Properties["seen"])
	require.Equal(t, float64(3), state.Output)
}

// countingActivity counts child completions in a property and completes
// once every child has reported.
type countingActivity struct{}

func (c *countingActivity) Name() string       { return "Counter" }
func (c *countingActivity) AutoComplete() bool { return false }

func (c *countingActivity) Execute(ctx *ActivityContext) error {
	return ctx.ScheduleActivities(ctx.Node().Children...)
}

func (c *countingActivity) ChildCompleted(ctx *ActivityContext, child *ActivityState) error {
	seen, err := UpdatePropertyAs(ctx, "seen", func(n int) int { return n + 1 })
	if err != nil {
		return err
	}
	if seen < len(ctx.Node().Children) {
		return nil
	}
	ctx.SetOutput(seen)
	return ctx.Complete()
}
