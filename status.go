package flow

import "fmt"

// ActivityStatus represents the execution status of one activity context
type ActivityStatus string

const (
	ActivityStatusPending   ActivityStatus = "pending"
	ActivityStatusRunning   ActivityStatus = "running"
	ActivityStatusSuspended ActivityStatus = "suspended"
	ActivityStatusCompleted ActivityStatus = "completed"
	ActivityStatusFaulted   ActivityStatus = "faulted"
)

// ValidActivityTransitions defines the allowed status transitions for
// activity contexts. No transition skips Running.
var ValidActivityTransitions = map[ActivityStatus][]ActivityStatus{
	ActivityStatusPending:   {ActivityStatusRunning},
	ActivityStatusRunning:   {ActivityStatusSuspended, ActivityStatusCompleted, ActivityStatusFaulted},
	ActivityStatusSuspended: {ActivityStatusRunning},
	ActivityStatusCompleted: {},
	ActivityStatusFaulted:   {},
}

// IsTerminal returns true for Completed and Faulted.
func (s ActivityStatus) IsTerminal() bool {
	return s == ActivityStatusCompleted || s == ActivityStatusFaulted
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s ActivityStatus) CanTransitionTo(next ActivityStatus) bool {
	for _, allowed := range ValidActivityTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// WorkflowStatus represents the overall status of a workflow run
type WorkflowStatus string

const (
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusSuspended WorkflowStatus = "suspended"
	WorkflowStatusFinished  WorkflowStatus = "finished"
	WorkflowStatusFaulted   WorkflowStatus = "faulted"
)

// ValidWorkflowTransitions defines the allowed status transitions for runs.
var ValidWorkflowTransitions = map[WorkflowStatus][]WorkflowStatus{
	WorkflowStatusRunning:   {WorkflowStatusSuspended, WorkflowStatusFinished, WorkflowStatusFaulted},
	WorkflowStatusSuspended: {WorkflowStatusRunning},
	WorkflowStatusFinished:  {},
	WorkflowStatusFaulted:   {},
}

// IsTerminal returns true for Finished and Faulted.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowStatusFinished || s == WorkflowStatusFaulted
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s WorkflowStatus) CanTransitionTo(next WorkflowStatus) bool {
	for _, allowed := range ValidWorkflowTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func newTransitionError(subject string, from, to any) *WorkflowError {
	return &WorkflowError{
		Type:  ErrorTypeInvalidTransition,
		Cause: fmt.Sprintf("%s: cannot transition from %v to %v", subject, from, to),
	}
}
