package flow

// Confirm the interfaces are implemented correctly.
var (
	_ Activity = (*ActivityFunction)(nil)
	_ Activity = (*typedActivityFunction[any, any])(nil)
)

// ExecuteActivityFunc is the signature of a function-backed activity.
type ExecuteActivityFunc func(ctx *ActivityContext) error

// ActivityFunction wraps a function for use as an Activity.
type ActivityFunction struct {
	name string
	fn   ExecuteActivityFunc
}

// NewActivityFunction returns an Activity for the given function.
func NewActivityFunction(name string, fn ExecuteActivityFunc) Activity {
	return &ActivityFunction{name: name, fn: fn}
}

// Name of the Activity.
func (a *ActivityFunction) Name() string {
	return a.name
}

// Execute the Activity.
func (a *ActivityFunction) Execute(ctx *ActivityContext) error {
	return a.fn(ctx)
}

// TypedActivityFunction wraps a function that takes its evaluated inputs
// decoded into TParams and returns a result stored as the node's output.
func TypedActivityFunction[TParams, TResult any](name string, fn func(ctx *ActivityContext, params TParams) (TResult, error)) Activity {
	return &typedActivityFunction[TParams, TResult]{name: name, fn: fn}
}

type typedActivityFunction[TParams, TResult any] struct {
	name string
	fn   func(ctx *ActivityContext, params TParams) (TResult, error)
}

func (t *typedActivityFunction[TParams, TResult]) Name() string {
	return t.name
}

func (t *typedActivityFunction[TParams, TResult]) Execute(ctx *ActivityContext) error {
	var params TParams
	if err := convertValue(ctx.Inputs(), &params); err != nil {
		return NewWorkflowError(ErrorTypeActivityFault, "failed to decode inputs for "+t.name+": "+err.Error())
	}
	result, err := t.fn(ctx, params)
	if err != nil {
		return err
	}
	ctx.SetOutput(result)
	return nil
}
