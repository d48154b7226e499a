package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/deepnoodle-ai/flow/script"
)

// ActivityContext is the runtime view of one activity execution context
// handed to activity behaviors. It embeds the pass's context.Context. The
// view itself is transient; everything it writes lands on the persisted
// ActivityState in the workflow context.
type ActivityContext struct {
	context.Context
	scheduler *Scheduler
	state     *ActivityState
	node      *Node
	logger    *slog.Logger
}

// ID returns the node ID
func (c *ActivityContext) ID() string {
	return c.state.NodeID
}

// Type returns the activity type name
func (c *ActivityContext) Type() string {
	return c.state.Type
}

// ParentID returns the parent node ID, or "" for the root
func (c *ActivityContext) ParentID() string {
	return c.state.ParentID
}

// Node returns the static node description
func (c *ActivityContext) Node() *Node {
	return c.node
}

// Status returns the current status of this context
func (c *ActivityContext) Status() ActivityStatus {
	c.workflowContext().mu.RLock()
	defer c.workflowContext().mu.RUnlock()
	return c.state.Status
}

// WorkflowContext returns the owning workflow context
func (c *ActivityContext) WorkflowContext() *WorkflowContext {
	return c.workflowContext()
}

func (c *ActivityContext) workflowContext() *WorkflowContext {
	return c.scheduler.wc
}

// Logger returns a logger scoped to this activity
func (c *ActivityContext) Logger() *slog.Logger {
	return c.logger
}

// Compiler returns the script compiler for the current pass
func (c *ActivityContext) Compiler() script.Compiler {
	if compiler, ok := CompilerFromContext(c); ok {
		return compiler
	}
	return c.scheduler.compiler
}

// Now returns the current time from the run's clock
func (c *ActivityContext) Now() time.Time {
	return c.workflowContext().clock()
}

// Input returns one evaluated input value
func (c *ActivityContext) Input(name string) (any, bool) {
	c.workflowContext().mu.RLock()
	defer c.workflowContext().mu.RUnlock()
	v, ok := c.state.Inputs[name]
	return v, ok
}

// Inputs returns a copy of all evaluated inputs
func (c *ActivityContext) Inputs() map[string]any {
	c.workflowContext().mu.RLock()
	defer c.workflowContext().mu.RUnlock()
	return copyMap(c.state.Inputs)
}

// RequireInput returns an evaluated input or a MissingInputError, which is
// fatal to the run when returned from a behavior.
func (c *ActivityContext) RequireInput(name string) (any, error) {
	v, ok := c.Input(name)
	if !ok {
		return nil, NewMissingInputError(c.ID(), name)
	}
	return v, nil
}

// InputAs decodes an evaluated input into T. The second return is false
// when the input is not declared.
func InputAs[T any](c *ActivityContext, name string) (T, bool, error) {
	var out T
	v, ok := c.Input(name)
	if !ok {
		return out, false, nil
	}
	if typed, ok := v.(T); ok {
		return typed, true, nil
	}
	if err := convertValue(v, &out); err != nil {
		return out, true, fmt.Errorf("input %q: %w", name, err)
	}
	return out, true, nil
}

// SetProperty stores a scratch property on this context. Properties survive
// suspension and restart.
func (c *ActivityContext) SetProperty(key string, value any) {
	value = normalizeValue(value)
	c.workflowContext().mutate(func() {
		c.state.Properties[key] = value
	})
}

// GetProperty returns a scratch property
func (c *ActivityContext) GetProperty(key string) (any, bool) {
	c.workflowContext().mu.RLock()
	defer c.workflowContext().mu.RUnlock()
	v, ok := c.state.Properties[key]
	return v, ok
}

// UpdateProperty applies a read-modify-write to a scratch property as one
// step. The updater receives nil when the property is unset and must not
// call back into the context.
func (c *ActivityContext) UpdateProperty(key string, updater func(current any) any) any {
	var updated any
	c.workflowContext().mutate(func() {
		updated = normalizeValue(updater(c.state.Properties[key]))
		c.state.Properties[key] = updated
	})
	return updated
}

// PropertyAs decodes a scratch property into T.
func PropertyAs[T any](c *ActivityContext, key string) (T, bool, error) {
	var out T
	v, ok := c.GetProperty(key)
	if !ok {
		return out, false, nil
	}
	if typed, ok := v.(T); ok {
		return typed, true, nil
	}
	if err := convertValue(v, &out); err != nil {
		return out, true, fmt.Errorf("property %q: %w", key, err)
	}
	return out, true, nil
}

// UpdatePropertyAs is the typed form of UpdateProperty. The property is
// decoded into T, passed to fn, and the result stored, all as one step.
func UpdatePropertyAs[T any](c *ActivityContext, key string, fn func(current T) T) (T, error) {
	var (
		result T
		err    error
	)
	c.workflowContext().mutate(func() {
		var current T
		if raw, ok := c.state.Properties[key]; ok && raw != nil {
			if typed, ok := raw.(T); ok {
				current = typed
			} else if err = convertValue(raw, &current); err != nil {
				return
			}
		}
		result = fn(current)
		c.state.Properties[key] = normalizeValue(result)
	})
	return result, err
}

// Output returns the value set by SetOutput
func (c *ActivityContext) Output() any {
	c.workflowContext().mu.RLock()
	defer c.workflowContext().mu.RUnlock()
	return c.state.Output
}

// SetOutput records the activity's output
func (c *ActivityContext) SetOutput(value any) {
	value = normalizeValue(value)
	c.workflowContext().mutate(func() {
		c.state.Output = value
	})
}

// ScheduleActivities schedules child nodes of this activity. They are
// dispatched in the order given, each to completion or suspension before
// the next starts. Every child reaching Completed or Faulted re-enters this
// activity through ChildCompletedHandler, or through the default handler
// which faults on a faulted child and completes once none remain pending.
func (c *ActivityContext) ScheduleActivities(nodes ...*Node) error {
	wc := c.workflowContext()
	if c.Status() != ActivityStatusRunning {
		return newTransitionError("activity "+c.ID(), c.Status(), "scheduling children")
	}
	for _, n := range nodes {
		if n == nil || wc.workflow.ParentID(n.ID) != c.ID() {
			id := "<nil>"
			if n != nil {
				id = n.ID
			}
			return fmt.Errorf("activity %q is not a child of %q", id, c.ID())
		}
	}
	wc.mutate(func() {
		c.state.PendingChildren += len(nodes)
	})
	// Reverse so the first node given is the first popped off the stack
	for i := len(nodes) - 1; i >= 0; i-- {
		if err := c.scheduler.Schedule(nodes[i], c.ID()); err != nil {
			return err
		}
	}
	return nil
}

// Complete marks this context Completed, removes its bookmarks and notifies
// the parent. It fails if a descendant still holds a bookmark.
func (c *ActivityContext) Complete() error {
	return c.scheduler.complete(c.state)
}

// Fault marks this context Faulted and notifies the parent.
func (c *ActivityContext) Fault(err error) error {
	if c.Status().IsTerminal() {
		return newTransitionError("activity "+c.ID(), c.Status(), ActivityStatusFaulted)
	}
	if err == nil {
		err = fmt.Errorf("activity faulted")
	}
	c.scheduler.fault(c.state, err)
	return nil
}

// CreateBookmark suspends this activity until an event with the given
// payload key arrives. The context becomes Suspended once the behavior
// returns.
func (c *ActivityContext) CreateBookmark(payload string, metadata map[string]any) (*Bookmark, error) {
	if c.Status() != ActivityStatusRunning {
		return nil, newTransitionError("activity "+c.ID(), c.Status(), ActivityStatusSuspended)
	}
	wc := c.workflowContext()
	b := &Bookmark{
		ID:         NewBookmarkID(),
		ActivityID: c.ID(),
		Payload:    payload,
		CreatedAt:  wc.clock(),
	}
	if len(metadata) > 0 {
		b.Metadata = normalizeMap(metadata)
	}
	if err := wc.bookmarks.Register(b); err != nil {
		return nil, err
	}
	wc.record(c.state, EventBookmarkCreated, "", "", map[string]any{"bookmark_id": b.ID, "payload": b.Payload})
	c.scheduler.callbacks.BookmarkCreated(c, &BookmarkEvent{
		InstanceID:   wc.ID(),
		WorkflowName: wc.workflow.Name(),
		ActivityType: c.Type(),
		Bookmark:     b,
	})
	return b, nil
}

// Bookmarks returns the bookmarks this activity currently owns
func (c *ActivityContext) Bookmarks() []*Bookmark {
	return c.workflowContext().bookmarks.FindByActivity(c.ID())
}

// RemoveBookmarks removes every bookmark owned by the given activities and
// returns the removed ones. Work already queued for those activities still
// runs; only future external resumes are prevented.
func (c *ActivityContext) RemoveBookmarks(activityIDs ...string) []*Bookmark {
	wc := c.workflowContext()
	return wc.removeBookmarks(wc.bookmarks.FindByActivity(activityIDs...), "removed by "+c.ID())
}

// GetVariable resolves a variable through this activity's scope chain
func (c *ActivityContext) GetVariable(name string) (any, bool) {
	return c.workflowContext().lookupVariable(c.ID(), name)
}

// SetVariable writes to the nearest scope declaring name, or to the
// workflow scope when none does
func (c *ActivityContext) SetVariable(name string, value any) {
	c.workflowContext().setVariable(c.ID(), name, value)
}

// DeclareVariable creates or replaces a variable on this activity's own
// scope, visible to its descendants
func (c *ActivityContext) DeclareVariable(name string, value any) error {
	return c.workflowContext().declareVariable(c.ID(), name, value)
}

// Variables returns every variable visible from this activity
func (c *ActivityContext) Variables() map[string]any {
	return c.workflowContext().scopeVariables(c.ID())
}

// AddLogEntry appends an entry attributed to this activity to the
// execution log
func (c *ActivityContext) AddLogEntry(event, message, source string, payload any) *LogEntry {
	return c.workflowContext().record(c.state, event, message, source, payload)
}
