package activities

import (
	"fmt"

	"github.com/deepnoodle-ai/flow"
)

// FailParams defines the parameters for the fail activity
type FailParams struct {
	Message string `json:"message"`
}

// NewFailActivity returns an activity that always faults. It is useful for
// exercising fault handling in workflows.
func NewFailActivity() flow.Activity {
	return flow.TypedActivityFunction("Fail", func(ctx *flow.ActivityContext, params FailParams) (any, error) {
		message := params.Message
		if message == "" {
			message = "intentional failure"
		}
		return nil, fmt.Errorf("fail activity: %s", message)
	})
}
