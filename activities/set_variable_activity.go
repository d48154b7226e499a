package activities

import (
	"fmt"

	"github.com/deepnoodle-ai/flow"
)

// SetVariableActivity assigns its "value" input to the variable named by
// its "name" input.
type SetVariableActivity struct{}

func NewSetVariableActivity() flow.Activity {
	return &SetVariableActivity{}
}

func (a *SetVariableActivity) Name() string {
	return "SetVariable"
}

func (a *SetVariableActivity) Execute(ctx *flow.ActivityContext) error {
	name, ok, err := flow.InputAs[string](ctx, "name")
	if err != nil {
		return err
	}
	if !ok {
		return flow.NewMissingInputError(ctx.ID(), "name")
	}
	if name == "" {
		return fmt.Errorf("variable name cannot be empty")
	}
	value, _ := ctx.Input("value")
	ctx.SetVariable(name, value)
	ctx.SetOutput(value)
	return nil
}
