package flow

import (
	"errors"
	"fmt"
)

// Error type constants for classification and matching
const (
	// ErrorTypeInputEvaluation indicates a declared input expression failed to
	// compile or evaluate. It faults the single node being dispatched.
	ErrorTypeInputEvaluation = "input_evaluation"

	// ErrorTypeMissingInput indicates a referenced input binding or activity
	// type could not be found. It is fatal to the run and never retried.
	ErrorTypeMissingInput = "missing_input"

	// ErrorTypeBookmarkInconsistency indicates a resume event matched no
	// registered bookmark. It is reported to the caller as a no-op.
	ErrorTypeBookmarkInconsistency = "bookmark_inconsistency"

	// ErrorTypeActivityFault indicates an activity behavior returned an error
	// or panicked.
	ErrorTypeActivityFault = "activity_fault"

	// ErrorTypeInvalidTransition indicates an illegal status change.
	ErrorTypeInvalidTransition = "invalid_transition"

	// ErrorTypeStalled indicates a run went quiet without completing and
	// without any bookmark to resume it.
	ErrorTypeStalled = "stalled"

	// ErrorTypeNotFound indicates an unknown workflow or instance.
	ErrorTypeNotFound = "not_found"
)

// WorkflowError represents a structured error with classification.
// It supports Go's error wrapping patterns with Unwrap() method.
type WorkflowError struct {
	Type    string `json:"type"`
	Cause   string `json:"cause"`
	Details any    `json:"details,omitempty"`
	Wrapped error  `json:"-"`
}

// Error implements the error interface
func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Cause)
}

// Unwrap implements the error unwrapping interface for Go's errors.Is and errors.As
func (e *WorkflowError) Unwrap() error {
	return e.Wrapped
}

// NewWorkflowError creates a new WorkflowError with the specified type and cause.
func NewWorkflowError(errorType, cause string) *WorkflowError {
	return &WorkflowError{
		Type:  errorType,
		Cause: cause,
	}
}

// NewInputEvaluationError reports a failed input expression on a node.
func NewInputEvaluationError(nodeID, input string, err error) *WorkflowError {
	return &WorkflowError{
		Type:    ErrorTypeInputEvaluation,
		Cause:   fmt.Sprintf("activity %q input %q: %v", nodeID, input, err),
		Details: map[string]any{"activity_id": nodeID, "input": input},
		Wrapped: err,
	}
}

// NewMissingInputError reports a missing input binding or activity type.
func NewMissingInputError(nodeID, name string) *WorkflowError {
	return &WorkflowError{
		Type:    ErrorTypeMissingInput,
		Cause:   fmt.Sprintf("activity %q: %q not found", nodeID, name),
		Details: map[string]any{"activity_id": nodeID, "name": name},
	}
}

// NewBookmarkInconsistencyError reports a resume event without a matching
// bookmark.
func NewBookmarkInconsistencyError(instanceID, payload string) *WorkflowError {
	return &WorkflowError{
		Type:    ErrorTypeBookmarkInconsistency,
		Cause:   fmt.Sprintf("instance %q has no bookmark for payload %q", instanceID, payload),
		Details: map[string]any{"instance_id": instanceID, "payload": payload},
	}
}

// NewActivityFault wraps an error raised by an activity behavior.
func NewActivityFault(nodeID string, err error) *WorkflowError {
	var wErr *WorkflowError
	if errors.As(err, &wErr) && wErr.Type == ErrorTypeActivityFault {
		return wErr
	}
	return &WorkflowError{
		Type:    ErrorTypeActivityFault,
		Cause:   fmt.Sprintf("activity %q: %v", nodeID, err),
		Details: map[string]any{"activity_id": nodeID},
		Wrapped: err,
	}
}

// ClassifyError converts any error into a WorkflowError. Errors that are not
// already classified are treated as activity faults.
func ClassifyError(err error) *WorkflowError {
	if err == nil {
		return nil
	}
	var wErr *WorkflowError
	if errors.As(err, &wErr) {
		return wErr
	}
	return &WorkflowError{
		Type:    ErrorTypeActivityFault,
		Cause:   err.Error(),
		Wrapped: err,
	}
}

// IsErrorType reports whether any WorkflowError in err's chain has the given
// type.
func IsErrorType(err error, errorType string) bool {
	for err != nil {
		var wErr *WorkflowError
		if !errors.As(err, &wErr) {
			return false
		}
		if wErr.Type == errorType {
			return true
		}
		err = wErr.Wrapped
	}
	return false
}

// ErrorOutput is the serializable form of a WorkflowError kept on activity
// state and snapshots.
type ErrorOutput struct {
	Type    string `json:"type"`
	Cause   string `json:"cause"`
	Details any    `json:"details,omitempty"`
}

// ToErrorOutput converts a WorkflowError to ErrorOutput
func (e *WorkflowError) ToErrorOutput() *ErrorOutput {
	return &ErrorOutput{
		Type:    e.Type,
		Cause:   e.Cause,
		Details: e.Details,
	}
}

// Err converts the output back into an error value.
func (o *ErrorOutput) Err() error {
	if o == nil {
		return nil
	}
	return &WorkflowError{Type: o.Type, Cause: o.Cause, Details: o.Details}
}
