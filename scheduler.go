package flow

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/deepnoodle-ai/flow/script"
)

type workKind int

const (
	workExecute workKind = iota
	workResume
	workChildDone
)

type workItem struct {
	kind     workKind
	node     *Node
	parentID string
	bookmark *Bookmark
	input    map[string]any
	child    *ActivityState
}

// SchedulerOptions configure a Scheduler.
type SchedulerOptions struct {
	Activities ActivityRegistry
	Compiler   script.Compiler
	Callbacks  ExecutionCallbacks
	Logger     *slog.Logger
}

// Scheduler is the cooperative execution loop for one workflow run. Work is
// kept on a stack and dispatched last-in first-out, which gives depth-first
// traversal of nested composite activities. A Scheduler is not safe for
// concurrent use; callers serialize passes per run.
type Scheduler struct {
	wc         *WorkflowContext
	activities ActivityRegistry
	compiler   script.Compiler
	callbacks  ExecutionCallbacks
	logger     *slog.Logger
	stack      []*workItem
	fatal      *WorkflowError
}

// NewScheduler returns a scheduler bound to a workflow context.
func NewScheduler(wc *WorkflowContext, opts SchedulerOptions) *Scheduler {
	if opts.Activities == nil {
		opts.Activities = ActivityRegistry{}
	}
	if _, ok := opts.Activities.Get(ForkActivityType); !ok {
		opts.Activities = withFork(opts.Activities)
	}
	if opts.Compiler == nil {
		opts.Compiler = script.NewRisorCompiler(nil)
	}
	if opts.Callbacks == nil {
		opts.Callbacks = NewBaseExecutionCallbacks()
	}
	if opts.Logger == nil {
		opts.Logger = NewDiscardLogger()
	}
	return &Scheduler{
		wc:         wc,
		activities: opts.Activities,
		compiler:   opts.Compiler,
		callbacks:  opts.Callbacks,
		logger:     opts.Logger.With("instance_id", wc.ID()),
	}
}

func withFork(activities ActivityRegistry) ActivityRegistry {
	out := make(ActivityRegistry, len(activities)+1)
	for name, a := range activities {
		out[name] = a
	}
	out[ForkActivityType] = &Fork{}
	return out
}

// Schedule enqueues node for execution under the context of parentID. The
// root is scheduled with an empty parentID. The node must be a direct child
// of parentID in the workflow tree.
func (s *Scheduler) Schedule(node *Node, parentID string) error {
	if node == nil {
		return fmt.Errorf("cannot schedule a nil activity")
	}
	if known, ok := s.wc.workflow.Node(node.ID); !ok || known != node {
		return fmt.Errorf("activity %q is not part of workflow %q", node.ID, s.wc.workflow.Name())
	}
	if s.wc.workflow.ParentID(node.ID) != parentID {
		return fmt.Errorf("activity %q is not a child of %q", node.ID, parentID)
	}
	s.push(&workItem{kind: workExecute, node: node, parentID: parentID})
	return nil
}

// ScheduleResume enqueues a resume of the activity owning bookmark.
func (s *Scheduler) ScheduleResume(bookmark *Bookmark, input map[string]any) {
	s.push(&workItem{kind: workResume, bookmark: bookmark, input: input})
}

// Pending returns the number of queued work items.
func (s *Scheduler) Pending() int {
	return len(s.stack)
}

// Err returns the fatal error that stopped the last pass, if any.
func (s *Scheduler) Err() error {
	if s.fatal == nil {
		return nil
	}
	return s.fatal
}

func (s *Scheduler) push(item *workItem) {
	s.stack = append(s.stack, item)
}

func (s *Scheduler) pop() *workItem {
	n := len(s.stack)
	item := s.stack[n-1]
	s.stack[n-1] = nil
	s.stack = s.stack[:n-1]
	return item
}

// Run drains the work stack to quiescence and then settles the overall
// workflow status. It returns the fatal error, if one stopped the pass.
// Cancellation of ctx is passed to activities but does not interrupt the
// pass, since the stack itself is never persisted.
func (s *Scheduler) Run(ctx context.Context) error {
	for len(s.stack) > 0 && s.fatal == nil {
		item := s.pop()
		switch item.kind {
		case workExecute:
			s.dispatch(ctx, item)
		case workResume:
			s.resume(ctx, item)
		case workChildDone:
			s.childDone(ctx, item)
		}
	}
	s.stack = nil
	s.settleWorkflow()
	return s.Err()
}

// dispatch starts a queued node. Work whose parent has already completed or
// faulted, or was released, is dropped and logged as ActivityAbandoned, so a
// WaitAny winner stops siblings that were queued in the same pass.
func (s *Scheduler) dispatch(ctx context.Context, item *workItem) {
	node := item.node
	if item.parentID != "" {
		parent := s.wc.state(item.parentID)
		if parent == nil || parent.Status.IsTerminal() {
			s.wc.log.Append(LogEntry{
				ActivityID:   node.ID,
				ActivityType: node.Type,
				Event:        EventActivityAbandoned,
				Message:      "parent " + item.parentID + " is no longer running",
			})
			s.logger.Debug("dropped work for abandoned activity", "activity_id", node.ID, "parent_id", item.parentID)
			return
		}
	}
	if existing := s.wc.state(node.ID); existing != nil {
		if !existing.Status.IsTerminal() {
			err := newTransitionError("activity "+node.ID, existing.Status, ActivityStatusRunning)
			s.handleError(s.wc.state(item.parentID), err)
			return
		}
		s.wc.releaseDescendants(node.ID, false)
	}

	state := &ActivityState{
		NodeID:     node.ID,
		ParentID:   item.parentID,
		Type:       node.Type,
		Status:     ActivityStatusPending,
		Properties: map[string]any{},
		Variables:  normalizeMap(node.Variables),
	}
	s.wc.putState(state)
	if err := s.wc.transition(state, ActivityStatusRunning); err != nil {
		s.fail(state, err)
		return
	}
	s.wc.record(state, EventActivityStarted, "", "", nil)

	activity, ok := s.activities.Get(node.Type)
	if !ok {
		s.fail(state, NewMissingInputError(node.ID, node.Type))
		return
	}

	inputs, err := EvaluateInputs(ctx, s.compiler, node, s.wc.scopeVariables(node.ID))
	if err != nil {
		s.wc.record(state, EventInputEvaluationFailed, err.Error(), "", ClassifyError(err).ToErrorOutput())
		s.fault(state, err)
		return
	}
	s.wc.mutate(func() { state.Inputs = inputs })

	actx := s.newActivityContext(ctx, state, node)
	err = s.invoke(actx, activity, false, func() error { return activity.Execute(actx) })
	if err != nil {
		s.handleError(state, err)
		return
	}
	s.settle(state, activity, false)
}

func (s *Scheduler) resume(ctx context.Context, item *workItem) {
	b := item.bookmark
	if !s.wc.bookmarks.Contains(b.ID) {
		s.wc.log.Append(LogEntry{
			ActivityID:   b.ActivityID,
			ActivityType: s.wc.typeOf(b.ActivityID),
			Event:        EventBookmarkSkipped,
			Message:      "bookmark was removed before it could be resumed",
			Payload:      map[string]any{"bookmark_id": b.ID, "payload": b.Payload},
		})
		return
	}
	state := s.wc.state(b.ActivityID)
	node, ok := s.wc.workflow.Node(b.ActivityID)
	if state == nil || !ok || state.Status.IsTerminal() {
		s.wc.removeBookmarks([]*Bookmark{b}, "owner is not suspended")
		return
	}
	s.wc.bookmarks.Unregister(b)
	if state.Status == ActivityStatusSuspended {
		if err := s.wc.transition(state, ActivityStatusRunning); err != nil {
			s.fail(state, err)
			return
		}
	}
	s.wc.record(state, EventActivityResumed, "", "", map[string]any{"bookmark_id": b.ID, "payload": b.Payload})

	activity, ok := s.activities.Get(node.Type)
	if !ok {
		s.fail(state, NewMissingInputError(node.ID, node.Type))
		return
	}
	actx := s.newActivityContext(ctx, state, node)
	s.callbacks.BookmarkResumed(ctx, &BookmarkEvent{
		InstanceID:   s.wc.ID(),
		WorkflowName: s.wc.workflow.Name(),
		ActivityType: node.Type,
		Bookmark:     b,
	})

	resumer, ok := activity.(Resumer)
	if !ok {
		s.settle(state, activity, true)
		return
	}
	input := normalizeMap(item.input)
	err := s.invoke(actx, activity, true, func() error { return resumer.Resume(actx, b, input) })
	if err != nil {
		s.handleError(state, err)
		return
	}
	s.settle(state, activity, false)
}

func (s *Scheduler) childDone(ctx context.Context, item *workItem) {
	parent := s.wc.state(item.parentID)
	if parent == nil || parent.Status.IsTerminal() {
		s.logger.Debug("ignored completion for finished parent", "activity_id", item.child.NodeID, "parent_id", item.parentID)
		return
	}
	s.wc.mutate(func() {
		if parent.PendingChildren > 0 {
			parent.PendingChildren--
		}
	})
	if parent.Status == ActivityStatusSuspended {
		if err := s.wc.transition(parent, ActivityStatusRunning); err != nil {
			s.fail(parent, err)
			return
		}
	}
	node, _ := s.wc.workflow.Node(parent.NodeID)
	activity, ok := s.activities.Get(parent.Type)
	if !ok {
		s.fail(parent, NewMissingInputError(parent.NodeID, parent.Type))
		return
	}

	var err error
	if handler, ok := activity.(ChildCompletedHandler); ok {
		actx := s.newActivityContext(ctx, parent, node)
		child := item.child.Copy()
		err = s.protect(func() error { return handler.ChildCompleted(actx, child) })
	} else if item.child.Status == ActivityStatusFaulted {
		err = fmt.Errorf("child %q faulted: %w", item.child.NodeID, item.child.Err())
	}
	if err != nil {
		s.handleError(parent, err)
		return
	}
	s.settle(parent, activity, false)
}

// invoke runs an activity behavior between the execution callbacks.
func (s *Scheduler) invoke(actx *ActivityContext, activity Activity, resumed bool, fn func() error) error {
	state := actx.state
	start := time.Now()
	s.callbacks.BeforeActivityExecution(actx, &ActivityExecutionEvent{
		InstanceID:   s.wc.ID(),
		WorkflowName: s.wc.workflow.Name(),
		ActivityID:   state.NodeID,
		ActivityType: state.Type,
		Resumed:      resumed,
		Inputs:       copyMap(state.Inputs),
		Status:       state.Status,
		StartTime:    start,
	})
	err := s.protect(fn)
	end := time.Now()
	s.callbacks.AfterActivityExecution(actx, &ActivityExecutionEvent{
		InstanceID:   s.wc.ID(),
		WorkflowName: s.wc.workflow.Name(),
		ActivityID:   state.NodeID,
		ActivityType: state.Type,
		Resumed:      resumed,
		Inputs:       copyMap(state.Inputs),
		Status:       state.Status,
		StartTime:    start,
		EndTime:      end,
		Duration:     end.Sub(start),
		Error:        err,
	})
	return err
}

// protect converts a panic inside activity code into an activity fault.
func (s *Scheduler) protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &WorkflowError{
				Type:    ErrorTypeActivityFault,
				Cause:   fmt.Sprintf("panic: %v", r),
				Details: map[string]any{"stack": string(debug.Stack())},
			}
		}
	}()
	return fn()
}

func (s *Scheduler) handleError(state *ActivityState, err error) {
	if IsErrorType(err, ErrorTypeMissingInput) {
		s.fail(state, err)
		return
	}
	if state == nil {
		s.fail(nil, err)
		return
	}
	s.fault(state, err)
}

// settle applies the implicit outcome once a behavior has returned: a
// running context with bookmarks becomes Suspended, and one with nothing
// outstanding completes unless it manages its own completion.
func (s *Scheduler) settle(state *ActivityState, activity Activity, forceComplete bool) {
	if state.Status != ActivityStatusRunning {
		return
	}
	if s.wc.bookmarks.HasBookmarks(state.NodeID) {
		if err := s.wc.transition(state, ActivityStatusSuspended); err != nil {
			s.fail(state, err)
			return
		}
		s.wc.record(state, EventActivitySuspended, "", "", nil)
		return
	}
	if state.PendingChildren > 0 {
		return
	}
	if forceComplete || autoCompletes(activity) {
		if err := s.complete(state); err != nil {
			s.fail(state, err)
		}
	}
}

func (s *Scheduler) complete(state *ActivityState) error {
	if state.Status != ActivityStatusRunning {
		return newTransitionError("activity "+state.NodeID, state.Status, ActivityStatusCompleted)
	}
	if s.wc.hasSuspendedDescendants(state.NodeID) {
		return &WorkflowError{
			Type:  ErrorTypeInvalidTransition,
			Cause: fmt.Sprintf("activity %q cannot complete while descendants are suspended", state.NodeID),
		}
	}
	if err := s.wc.transition(state, ActivityStatusCompleted); err != nil {
		return err
	}
	s.wc.removeBookmarks(s.wc.bookmarks.FindByActivity(state.NodeID), "activity completed")
	s.wc.record(state, EventActivityCompleted, "", "", state.Output)
	s.wc.releaseDescendants(state.NodeID, false)
	if state.ParentID != "" {
		s.push(&workItem{kind: workChildDone, parentID: state.ParentID, child: state})
	}
	return nil
}

func (s *Scheduler) fault(state *ActivityState, err error) {
	if state.Status.IsTerminal() {
		s.logger.Warn("error after activity finished", "activity_id", state.NodeID, "status", state.Status, "error", err)
		return
	}
	if state.Status == ActivityStatusSuspended {
		_ = s.wc.transition(state, ActivityStatusRunning)
	}
	wErr := ClassifyError(err)
	if wErr.Type != ErrorTypeInputEvaluation && wErr.Type != ErrorTypeMissingInput && wErr.Type != ErrorTypeInvalidTransition {
		wErr = NewActivityFault(state.NodeID, err)
	}
	if tErr := s.wc.transition(state, ActivityStatusFaulted); tErr != nil {
		s.fail(nil, tErr)
		return
	}
	output := wErr.ToErrorOutput()
	s.wc.mutate(func() { state.Error = output })
	s.wc.removeBookmarks(s.wc.bookmarks.FindByActivity(state.NodeID), "activity faulted")
	s.wc.record(state, EventActivityFaulted, wErr.Cause, "", output)
	s.wc.releaseDescendants(state.NodeID, true)
	s.logger.Warn("activity faulted", "activity_id", state.NodeID, "activity_type", state.Type, "error", wErr)
	if state.ParentID != "" {
		s.push(&workItem{kind: workChildDone, parentID: state.ParentID, child: state})
	}
}

// fail stops the pass. The context, if any, is faulted and the remaining
// work is discarded.
func (s *Scheduler) fail(state *ActivityState, err error) {
	wErr := ClassifyError(err)
	if state != nil && !state.Status.IsTerminal() {
		s.fault(state, wErr)
	}
	s.fatal = wErr
	s.stack = nil
	s.logger.Error("workflow pass failed", "error", wErr)
}

// settleWorkflow derives the overall run status once the stack is empty.
func (s *Scheduler) settleWorkflow() {
	wc := s.wc
	root := wc.state(wc.workflow.Root().ID)
	var (
		status WorkflowStatus
		errOut *ErrorOutput
		event  string
	)
	switch {
	case s.fatal != nil:
		status, errOut, event = WorkflowStatusFaulted, s.fatal.ToErrorOutput(), EventWorkflowFaulted
	case root != nil && root.Status == ActivityStatusCompleted:
		status, event = WorkflowStatusFinished, EventWorkflowFinished
	case root != nil && root.Status == ActivityStatusFaulted:
		status, errOut, event = WorkflowStatusFaulted, root.Error, EventWorkflowFaulted
	case wc.bookmarks.Len() > 0:
		status, event = WorkflowStatusSuspended, EventWorkflowSuspended
	default:
		stalled := NewWorkflowError(ErrorTypeStalled, "no work remains and no bookmark can resume the run")
		status, errOut, event = WorkflowStatusFaulted, stalled.ToErrorOutput(), EventWorkflowFaulted
	}
	if err := wc.setStatus(status, errOut); err != nil {
		s.logger.Error("failed to settle workflow status", "error", err)
		return
	}
	var message string
	if errOut != nil {
		message = errOut.Cause
	}
	wc.record(nil, event, message, "", map[string]any{"bookmarks": wc.bookmarks.Len()})
}

func (s *Scheduler) newActivityContext(ctx context.Context, state *ActivityState, node *Node) *ActivityContext {
	logger := LoggerFromContext(ctx, s.logger).With("activity_id", state.NodeID, "activity_type", state.Type)
	return &ActivityContext{
		Context:   WithLogger(ctx, logger),
		scheduler: s,
		state:     state,
		node:      node,
		logger:    logger,
	}
}
