package activities

import (
	"fmt"

	"github.com/deepnoodle-ai/flow"
)

// CurrentIndexProperty holds the index of the child a Sequence is waiting on.
const CurrentIndexProperty = "CurrentIndex"

// SequenceActivity runs its children one after another. It is re-entered
// once per finished child and keeps its position in a context property, so
// a sequence suspended halfway continues from the right child after restart.
type SequenceActivity struct{}

func NewSequenceActivity() flow.Activity {
	return &SequenceActivity{}
}

func (a *SequenceActivity) Name() string {
	return "Sequence"
}

func (a *SequenceActivity) AutoComplete() bool {
	return false
}

func (a *SequenceActivity) Execute(ctx *flow.ActivityContext) error {
	children := ctx.Node().Children
	if len(children) == 0 {
		return ctx.Complete()
	}
	ctx.SetProperty(CurrentIndexProperty, 0)
	return ctx.ScheduleActivities(children[0])
}

func (a *SequenceActivity) ChildCompleted(ctx *flow.ActivityContext, child *flow.ActivityState) error {
	if child.Status == flow.ActivityStatusFaulted {
		return fmt.Errorf("step %q faulted: %w", child.NodeID, child.Err())
	}
	next, err := flow.UpdatePropertyAs(ctx, CurrentIndexProperty, func(current int) int {
		return current + 1
	})
	if err != nil {
		return err
	}
	children := ctx.Node().Children
	if next >= len(children) {
		return ctx.Complete()
	}
	return ctx.ScheduleActivities(children[next])
}
