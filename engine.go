package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/deepnoodle-ai/flow/retry"
	"github.com/deepnoodle-ai/flow/script"
)

// EngineOptions are used to configure an Engine.
type EngineOptions struct {
	Workflows          []*Workflow
	Registry           WorkflowRegistry
	Activities         []Activity
	Store              Store
	LogSink            ExecutionLogSink
	Clock              Clock
	Logger             *slog.Logger
	ScriptCompiler     script.Compiler
	ExecutionCallbacks ExecutionCallbacks
}

// StartOptions configure a single workflow run.
type StartOptions struct {
	InstanceID    string
	CorrelationID string
	Variables     map[string]any
}

// Trigger is an external event addressed to one workflow instance.
type Trigger struct {
	InstanceID string         `json:"instance_id"`
	Payload    string         `json:"payload"`
	Input      map[string]any `json:"input,omitempty"`
}

// RunResult describes the state of an instance after a pass.
type RunResult struct {
	InstanceID string
	Status     WorkflowStatus
	Bookmarks  []*Bookmark
	Error      error
	Context    *WorkflowContext
}

// Engine starts and resumes workflow instances. Each pass loads the full
// instance, drains its scheduler and saves it again; passes for the same
// instance are serialized, passes for different instances run in parallel.
type Engine struct {
	registry   WorkflowRegistry
	activities ActivityRegistry
	store      Store
	logSink    ExecutionLogSink
	clock      Clock
	logger     *slog.Logger
	compiler   script.Compiler
	callbacks  ExecutionCallbacks
	locks      instanceLocks
}

// NewEngine creates a new engine
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Registry == nil {
		registry, err := NewMemoryWorkflowRegistry()
		if err != nil {
			return nil, err
		}
		opts.Registry = registry
	}
	for _, wf := range opts.Workflows {
		if err := opts.Registry.Register(wf); err != nil {
			return nil, err
		}
	}
	activities, err := NewActivityRegistry(append([]Activity{&Fork{}}, opts.Activities...)...)
	if err != nil {
		return nil, err
	}
	if opts.Store == nil {
		opts.Store = NewNullStore()
	}
	if opts.LogSink == nil {
		opts.LogSink = NewNullExecutionLogSink()
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Logger == nil {
		opts.Logger = NewDiscardLogger()
	}
	if opts.ScriptCompiler == nil {
		opts.ScriptCompiler = script.NewRisorCompiler(nil)
	}
	if opts.ExecutionCallbacks == nil {
		opts.ExecutionCallbacks = &BaseExecutionCallbacks{}
	}
	return &Engine{
		registry:   opts.Registry,
		activities: activities,
		store:      opts.Store,
		logSink:    opts.LogSink,
		clock:      opts.Clock,
		logger:     opts.Logger,
		compiler:   opts.ScriptCompiler,
		callbacks:  opts.ExecutionCallbacks,
	}, nil
}

// RegisterWorkflow makes a workflow definition available to Start and Resume
func (e *Engine) RegisterWorkflow(wf *Workflow) error {
	return e.registry.Register(wf)
}

// Activities returns the activity catalog used by the engine
func (e *Engine) Activities() ActivityRegistry {
	return e.activities
}

// Start creates a new instance of the named workflow and runs it until it
// finishes, faults or suspends.
func (e *Engine) Start(ctx context.Context, workflowName string, opts StartOptions) (*RunResult, error) {
	wf, ok := e.registry.Get(workflowName)
	if !ok {
		return nil, NewWorkflowError(ErrorTypeNotFound, fmt.Sprintf("workflow %q is not registered", workflowName))
	}
	if opts.InstanceID == "" {
		opts.InstanceID = NewInstanceID()
	}

	unlock := e.lock(opts.InstanceID)
	defer unlock()

	existing, err := e.loadSnapshot(ctx, opts.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load instance %s: %w", opts.InstanceID, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("instance %s already exists", opts.InstanceID)
	}

	wc, err := NewWorkflowContext(WorkflowContextOptions{
		Workflow:      wf,
		ID:            opts.InstanceID,
		CorrelationID: opts.CorrelationID,
		Variables:     opts.Variables,
		Clock:         e.clock,
	})
	if err != nil {
		return nil, err
	}
	wc.record(nil, EventWorkflowStarted, "", "", map[string]any{"workflow": wf.Name(), "correlation_id": wc.CorrelationID()})

	scheduler := e.newScheduler(wc)
	if err := scheduler.Schedule(wf.Root(), ""); err != nil {
		return nil, err
	}
	return e.runPass(ctx, wc, scheduler, 0, false)
}

// Resume delivers an external event to a suspended instance. Every bookmark
// whose payload matches is resumed in registration order within a single
// pass. A payload that matches nothing returns a bookmark inconsistency
// error and leaves the instance untouched.
func (e *Engine) Resume(ctx context.Context, instanceID, payload string, input map[string]any) (*RunResult, error) {
	unlock := e.lock(instanceID)
	defer unlock()

	wc, err := e.load(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if wc.Status() != WorkflowStatusSuspended {
		e.logger.Warn("resume for instance that is not suspended", "instance_id", instanceID, "status", wc.Status())
		return nil, NewBookmarkInconsistencyError(instanceID, payload)
	}
	bookmarks := wc.bookmarks.FindByPayload(payload)
	if len(bookmarks) == 0 {
		e.logger.Warn("resume matched no bookmark", "instance_id", instanceID, "payload", payload)
		return nil, NewBookmarkInconsistencyError(instanceID, payload)
	}

	logged := wc.log.Len()
	if err := wc.setStatus(WorkflowStatusRunning, nil); err != nil {
		return nil, err
	}
	wc.record(nil, EventWorkflowResumed, "", "", map[string]any{"payload": payload, "bookmarks": len(bookmarks)})

	scheduler := e.newScheduler(wc)
	for i := len(bookmarks) - 1; i >= 0; i-- {
		scheduler.ScheduleResume(bookmarks[i], input)
	}
	return e.runPass(ctx, wc, scheduler, logged, true)
}

// Trigger resumes the instance named by the trigger
func (e *Engine) Trigger(ctx context.Context, t Trigger) (*RunResult, error) {
	if t.InstanceID == "" {
		return nil, fmt.Errorf("trigger requires an instance id")
	}
	return e.Resume(ctx, t.InstanceID, t.Payload, t.Input)
}

// Load rehydrates a persisted instance without running it
func (e *Engine) Load(ctx context.Context, instanceID string) (*WorkflowContext, error) {
	return e.load(ctx, instanceID)
}

// Delete removes a persisted instance
func (e *Engine) Delete(ctx context.Context, instanceID string) error {
	unlock := e.lock(instanceID)
	defer unlock()
	if err := e.store.DeleteInstance(ctx, instanceID); err != nil {
		return fmt.Errorf("failed to delete instance %s: %w", instanceID, err)
	}
	return nil
}

// List summarizes every persisted instance
func (e *Engine) List(ctx context.Context) ([]*InstanceSummary, error) {
	return e.store.ListInstances(ctx)
}

func (e *Engine) load(ctx context.Context, instanceID string) (*WorkflowContext, error) {
	snapshot, err := e.loadSnapshot(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load instance %s: %w", instanceID, err)
	}
	if snapshot == nil {
		return nil, NewWorkflowError(ErrorTypeNotFound, fmt.Sprintf("instance %q not found", instanceID))
	}
	wf, ok := e.registry.Get(snapshot.WorkflowName)
	if !ok {
		return nil, NewWorkflowError(ErrorTypeNotFound, fmt.Sprintf("workflow %q is not registered", snapshot.WorkflowName))
	}
	return RestoreWorkflowContext(wf, snapshot, e.clock)
}

// loadSnapshot reads an instance, retrying transient store failures.
func (e *Engine) loadSnapshot(ctx context.Context, instanceID string) (*Snapshot, error) {
	var snapshot *Snapshot
	err := retry.Do(ctx, func() error {
		var err error
		snapshot, err = e.store.LoadInstance(ctx, instanceID)
		return err
	})
	return snapshot, err
}

func (e *Engine) newScheduler(wc *WorkflowContext) *Scheduler {
	return NewScheduler(wc, SchedulerOptions{
		Activities: e.activities,
		Compiler:   e.compiler,
		Callbacks:  e.callbacks,
		Logger:     e.logger,
	})
}

func (e *Engine) runPass(ctx context.Context, wc *WorkflowContext, scheduler *Scheduler, logged int, resumed bool) (*RunResult, error) {
	logger := e.logger.With("instance_id", wc.ID(), "workflow", wc.Workflow().Name())
	ctx = WithInstanceID(WithCompiler(WithLogger(ctx, logger), e.compiler), wc.ID())

	start := time.Now()
	event := &WorkflowPassEvent{
		InstanceID:    wc.ID(),
		WorkflowName:  wc.Workflow().Name(),
		CorrelationID: wc.CorrelationID(),
		Resumed:       resumed,
		Status:        wc.Status(),
		StartTime:     start,
	}
	e.callbacks.BeforeWorkflowPass(ctx, event)

	runErr := scheduler.Run(ctx)

	end := time.Now()
	after := *event
	after.Status = wc.Status()
	after.EndTime = end
	after.Duration = end.Sub(start)
	after.Bookmarks = wc.bookmarks.Len()
	after.Error = wc.Err()
	e.callbacks.AfterWorkflowPass(ctx, &after)

	if runErr != nil {
		logger.Error("workflow pass stopped", "error", runErr)
	}
	logger.Info("workflow pass finished",
		"status", wc.Status(),
		"bookmarks", wc.bookmarks.Len(),
		"duration", after.Duration)

	snapshot := wc.Snapshot()
	err := retry.Do(ctx, func() error { return e.store.SaveInstance(ctx, snapshot) })
	if err != nil {
		return nil, fmt.Errorf("failed to save instance %s: %w", wc.ID(), err)
	}
	if err := e.logSink.WriteEntries(ctx, wc.ID(), wc.log.Since(logged)); err != nil {
		logger.Error("failed to export execution log", "error", err)
	}
	return &RunResult{
		InstanceID: wc.ID(),
		Status:     wc.Status(),
		Bookmarks:  wc.bookmarks.All(),
		Error:      wc.Err(),
		Context:    wc,
	}, nil
}

func (e *Engine) lock(instanceID string) func() {
	return e.locks.acquire(instanceID)
}

// instanceLocks serializes passes per instance. Entries are dropped once no
// pass holds or waits for them.
type instanceLocks struct {
	mu    sync.Mutex
	locks map[string]*instanceLock
}

type instanceLock struct {
	sync.Mutex
	refs int
}

func (l *instanceLocks) acquire(id string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = map[string]*instanceLock{}
	}
	lock, ok := l.locks[id]
	if !ok {
		lock = &instanceLock{}
		l.locks[id] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.Lock()
	return func() {
		lock.Unlock()
		l.mu.Lock()
		if lock.refs--; lock.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *instanceLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
