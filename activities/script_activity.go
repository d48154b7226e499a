package activities

import (
	"fmt"
	"sort"

	"github.com/deepnoodle-ai/flow"
)

// ScriptActivity evaluates its "code" input with the run's script compiler.
// Every variable visible from the node is available to the script by name.
// The result becomes the node output and is stored to "store" if given.
type ScriptActivity struct{}

func NewScriptActivity() flow.Activity {
	return &ScriptActivity{}
}

func (a *ScriptActivity) Name() string {
	return "Script"
}

func (a *ScriptActivity) Execute(ctx *flow.ActivityContext) error {
	code, ok, err := flow.InputAs[string](ctx, "code")
	if err != nil {
		return err
	}
	if !ok || code == "" {
		return flow.NewMissingInputError(ctx.ID(), "code")
	}

	globals := ctx.Variables()
	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	sort.Strings(names)

	compiled, err := ctx.Compiler().Compile(ctx, code, names)
	if err != nil {
		return fmt.Errorf("failed to compile script: %w", err)
	}
	result, err := compiled.Evaluate(ctx, globals)
	if err != nil {
		return fmt.Errorf("failed to execute script: %w", err)
	}
	value := result.Value()
	ctx.SetOutput(value)
	return storeResult(ctx, value)
}
