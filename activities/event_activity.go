package activities

import (
	"github.com/deepnoodle-ai/flow"
)

// EventActivity suspends until an event whose payload equals its "name"
// input is delivered. The event input becomes the node output and, when a
// "store" input is given, the value of that variable.
type EventActivity struct{}

func NewEventActivity() flow.Activity {
	return &EventActivity{}
}

func (a *EventActivity) Name() string {
	return "Event"
}

func (a *EventActivity) Execute(ctx *flow.ActivityContext) error {
	name, ok, err := flow.InputAs[string](ctx, "name")
	if err != nil {
		return err
	}
	if !ok || name == "" {
		return flow.NewMissingInputError(ctx.ID(), "name")
	}
	_, err = ctx.CreateBookmark(name, map[string]any{"activity_type": a.Name()})
	return err
}

func (a *EventActivity) Resume(ctx *flow.ActivityContext, bookmark *flow.Bookmark, input map[string]any) error {
	ctx.Logger().Info("event received", "payload", bookmark.Payload)
	var output any
	if len(input) > 0 {
		output = input
	}
	ctx.SetOutput(output)
	return storeResult(ctx, output)
}
