package flow

import (
	"context"
	"time"
)

// ExecutionCallbacks defines the callback interface for workflow execution events
type ExecutionCallbacks interface {
	// Workflow-level callbacks, once per scheduler pass (start or resume)
	BeforeWorkflowPass(ctx context.Context, event *WorkflowPassEvent)
	AfterWorkflowPass(ctx context.Context, event *WorkflowPassEvent)

	// Activity-level callbacks around Execute and Resume
	BeforeActivityExecution(ctx context.Context, event *ActivityExecutionEvent)
	AfterActivityExecution(ctx context.Context, event *ActivityExecutionEvent)

	// Bookmark callbacks
	BookmarkCreated(ctx context.Context, event *BookmarkEvent)
	BookmarkResumed(ctx context.Context, event *BookmarkEvent)
}

// WorkflowPassEvent provides context for workflow-level events
type WorkflowPassEvent struct {
	InstanceID    string
	WorkflowName  string
	CorrelationID string
	Resumed       bool
	Status        WorkflowStatus
	StartTime     time.Time
	EndTime       time.Time
	Duration      time.Duration
	Bookmarks     int
	Error         error
}

// ActivityExecutionEvent provides context for activity execution events
type ActivityExecutionEvent struct {
	InstanceID   string
	WorkflowName string
	ActivityID   string
	ActivityType string
	Resumed      bool
	Inputs       map[string]any
	Status       ActivityStatus
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
	Error        error
}

// BookmarkEvent provides context for bookmark events
type BookmarkEvent struct {
	InstanceID   string
	WorkflowName string
	ActivityType string
	Bookmark     *Bookmark
}

// BaseExecutionCallbacks provides a default implementation that does nothing
type BaseExecutionCallbacks struct{}

func (n *BaseExecutionCallbacks) BeforeWorkflowPass(ctx context.Context, event *WorkflowPassEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) AfterWorkflowPass(ctx context.Context, event *WorkflowPassEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) BeforeActivityExecution(ctx context.Context, event *ActivityExecutionEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) AfterActivityExecution(ctx context.Context, event *ActivityExecutionEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) BookmarkCreated(ctx context.Context, event *BookmarkEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) BookmarkResumed(ctx context.Context, event *BookmarkEvent) {
	// noop
}

// NewBaseExecutionCallbacks creates a new no-op callbacks implementation.
// Embed this in your own callbacks to get a default implementation that does nothing.
func NewBaseExecutionCallbacks() ExecutionCallbacks {
	return &BaseExecutionCallbacks{}
}

// CallbackChain allows chaining multiple callback implementations
type CallbackChain struct {
	callbacks []ExecutionCallbacks
}

// NewCallbackChain creates a new callback chain
func NewCallbackChain(callbacks ...ExecutionCallbacks) *CallbackChain {
	return &CallbackChain{callbacks: callbacks}
}

// Add adds a callback to the chain
func (c *CallbackChain) Add(callback ExecutionCallbacks) {
	c.callbacks = append(c.callbacks, callback)
}

func (c *CallbackChain) BeforeWorkflowPass(ctx context.Context, event *WorkflowPassEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeWorkflowPass(ctx, event)
	}
}

func (c *CallbackChain) AfterWorkflowPass(ctx context.Context, event *WorkflowPassEvent) {
	for _, callback := range c.callbacks {
		callback.AfterWorkflowPass(ctx, event)
	}
}

func (c *CallbackChain) BeforeActivityExecution(ctx context.Context, event *ActivityExecutionEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeActivityExecution(ctx, event)
	}
}

func (c *CallbackChain) AfterActivityExecution(ctx context.Context, event *ActivityExecutionEvent) {
	for _, callback := range c.callbacks {
		callback.AfterActivityExecution(ctx, event)
	}
}

func (c *CallbackChain) BookmarkCreated(ctx context.Context, event *BookmarkEvent) {
	for _, callback := range c.callbacks {
		callback.BookmarkCreated(ctx, event)
	}
}

func (c *CallbackChain) BookmarkResumed(ctx context.Context, event *BookmarkEvent) {
	for _, callback := range c.callbacks {
		callback.BookmarkResumed(ctx, event)
	}
}
