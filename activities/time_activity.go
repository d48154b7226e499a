package activities

import (
	"time"

	"github.com/deepnoodle-ai/flow"
)

// TimeParams defines the input parameters for the time activity
type TimeParams struct {
	Format string `json:"format"`
	Store  string `json:"store"`
}

// NewTimeActivity returns an activity that outputs the current time from
// the run's clock, formatted as RFC 3339 unless "format" says otherwise.
func NewTimeActivity() flow.Activity {
	return flow.TypedActivityFunction("Time", func(ctx *flow.ActivityContext, params TimeParams) (string, error) {
		format := params.Format
		if format == "" {
			format = time.RFC3339
		}
		now := ctx.Now().Format(format)
		if params.Store != "" {
			ctx.SetVariable(params.Store, now)
		}
		return now, nil
	})
}
