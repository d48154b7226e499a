// Package activities provides the built-in activity types: control flow
// (Sequence, If), suspension (Event), variables, output and arithmetic.
package activities

import (
	"io"
	"os"

	"github.com/deepnoodle-ai/flow"
)

// All returns one instance of every built-in activity. WriteLine writes to
// w, or to stdout when w is nil. Fork is registered by the engine itself.
func All(w io.Writer) []flow.Activity {
	if w == nil {
		w = os.Stdout
	}
	return []flow.Activity{
		NewSequenceActivity(),
		NewIfActivity(),
		NewEventActivity(),
		NewSetVariableActivity(),
		NewWriteLineActivity(w),
		NewFailActivity(),
		NewScriptActivity(),
		NewTimeActivity(),
		NewAddActivity(),
		NewSubtractActivity(),
		NewMultiplyActivity(),
		NewDivideActivity(),
	}
}

// storeResult writes value to the variable named by the "store" input, if
// the node declares one.
func storeResult(ctx *flow.ActivityContext, value any) error {
	name, ok, err := flow.InputAs[string](ctx, "store")
	if err != nil {
		return err
	}
	if ok && name != "" {
		ctx.SetVariable(name, value)
	}
	return nil
}
