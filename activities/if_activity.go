package activities

import (
	"github.com/deepnoodle-ai/flow"
	"github.com/deepnoodle-ai/flow/script"
)

// IfActivity evaluates its "condition" input and schedules the first child
// when it is truthy, or the second child (if any) otherwise.
type IfActivity struct{}

func NewIfActivity() flow.Activity {
	return &IfActivity{}
}

func (a *IfActivity) Name() string {
	return "If"
}

func (a *IfActivity) Execute(ctx *flow.ActivityContext) error {
	condition, err := ctx.RequireInput("condition")
	if err != nil {
		return err
	}
	result := script.Truthy(condition)
	ctx.SetOutput(result)

	children := ctx.Node().Children
	switch {
	case result && len(children) > 0:
		return ctx.ScheduleActivities(children[0])
	case !result && len(children) > 1:
		return ctx.ScheduleActivities(children[1])
	}
	return nil
}
