package activities

import (
	"fmt"
	"io"
	"sync"

	"github.com/deepnoodle-ai/flow"
)

// WriteLineActivity writes its "text" input followed by a newline
type WriteLineActivity struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriteLineActivity(w io.Writer) flow.Activity {
	return &WriteLineActivity{w: w}
}

func (a *WriteLineActivity) Name() string {
	return "WriteLine"
}

func (a *WriteLineActivity) Execute(ctx *flow.ActivityContext) error {
	text, err := ctx.RequireInput("text")
	if err != nil {
		return err
	}
	line := fmt.Sprint(text)

	a.mu.Lock()
	_, err = fmt.Fprintln(a.w, line)
	a.mu.Unlock()
	if err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	ctx.AddLogEntry("Output", line, a.Name(), nil)
	return nil
}
