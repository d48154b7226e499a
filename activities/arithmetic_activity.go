package activities

import (
	"fmt"

	"github.com/deepnoodle-ai/flow"
)

// ArithmeticParams defines the inputs shared by the arithmetic activities
type ArithmeticParams struct {
	Values []float64 `json:"values"`
	Store  string    `json:"store"`
}

type operation func(left, right float64) (float64, error)

// NewAddActivity returns an activity that sums its "values"
func NewAddActivity() flow.Activity {
	return newArithmeticActivity("Add", func(l, r float64) (float64, error) { return l + r, nil })
}

// NewSubtractActivity returns an activity that subtracts each value from
// the running result, left to right
func NewSubtractActivity() flow.Activity {
	return newArithmeticActivity("Subtract", func(l, r float64) (float64, error) { return l - r, nil })
}

// NewMultiplyActivity returns an activity that multiplies its "values"
func NewMultiplyActivity() flow.Activity {
	return newArithmeticActivity("Multiply", func(l, r float64) (float64, error) { return l * r, nil })
}

// NewDivideActivity returns an activity that divides left to right. A zero
// divisor faults the node.
func NewDivideActivity() flow.Activity {
	return newArithmeticActivity("Divide", func(l, r float64) (float64, error) {
		if r == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return l / r, nil
	})
}

func newArithmeticActivity(name string, op operation) flow.Activity {
	return flow.TypedActivityFunction(name, func(ctx *flow.ActivityContext, params ArithmeticParams) (float64, error) {
		if len(params.Values) == 0 {
			return 0, fmt.Errorf("%s requires at least one value", name)
		}
		result := params.Values[0]
		for _, v := range params.Values[1:] {
			var err error
			if result, err = op(result, v); err != nil {
				return 0, err
			}
		}
		if params.Store != "" {
			ctx.SetVariable(params.Store, result)
		}
		return result, nil
	})
}
