package flow

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWorkflowErrorWrapping(t *testing.T) {
	t.Run("basic error creation", func(t *testing.T) {
		err := NewWorkflowError(ErrorTypeStalled, "nothing left to do")
		require.Equal(t, ErrorTypeStalled, err.Type)
		require.Equal(t, "nothing left to do", err.Cause)
		require.Equal(t, "stalled: nothing left to do", err.Error())
		require.Nil(t, err.Unwrap())
	})

	t.Run("activity fault wraps cause", func(t *testing.T) {
		cause := errors.New("disk full")
		err := NewActivityFault("write", cause)
		require.Equal(t, ErrorTypeActivityFault, err.Type)
		require.ErrorIs(t, err, cause)
		require.Contains(t, err.Error(), `activity "write": disk full`)
	})

	t.Run("activity fault is not wrapped twice", func(t *testing.T) {
		inner := NewActivityFault("write", errors.New("disk full"))
		outer := NewActivityFault("sequence", fmt.Errorf("child: %w", inner))
		require.Same(t, inner, outer)
	})

	t.Run("input evaluation keeps details", func(t *testing.T) {
		cause := errors.New("undefined variable")
		err := NewInputEvaluationError("if", "condition", cause)
		require.Equal(t, ErrorTypeInputEvaluation, err.Type)
		require.ErrorIs(t, err, cause)
		require.Equal(t, map[string]any{"activity_id": "if", "input": "condition"}, err.Details)
	})
}

func TestErrorClassification(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		require.Nil(t, ClassifyError(nil))
	})

	t.Run("plain errors become activity faults", func(t *testing.T) {
		err := ClassifyError(errors.New("boom"))
		require.Equal(t, ErrorTypeActivityFault, err.Type)
		require.Equal(t, "boom", err.Cause)
	})

	t.Run("wrapped workflow errors are found", func(t *testing.T) {
		missing := NewMissingInputError("event", "name")
		err := ClassifyError(fmt.Errorf("execute: %w", missing))
		require.Same(t, missing, err)
	})
}

func TestErrorMatching(t *testing.T) {
	missing := NewMissingInputError("event", "name")
	wrapped := fmt.Errorf("dispatch: %w", missing)

	require.True(t, IsErrorType(missing, ErrorTypeMissingInput))
	require.True(t, IsErrorType(wrapped, ErrorTypeMissingInput))
	require.False(t, IsErrorType(wrapped, ErrorTypeActivityFault))
	require.False(t, IsErrorType(errors.New("plain"), ErrorTypeActivityFault))
	require.False(t, IsErrorType(nil, ErrorTypeMissingInput))

	// A fault that wraps a classified error matches both types
	fault := NewActivityFault("sequence", NewBookmarkInconsistencyError("wf_1", "go"))
	require.True(t, IsErrorType(fault, ErrorTypeActivityFault))
	require.True(t, IsErrorType(fault, ErrorTypeBookmarkInconsistency))
}

func TestErrorOutput(t *testing.T) {
	err := NewBookmarkInconsistencyError("wf_1", "approve")
	output := err.ToErrorOutput()

	data, jsonErr := json.Marshal(output)
	require.NoError(t, jsonErr)

	var decoded ErrorOutput
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, ErrorTypeBookmarkInconsistency, decoded.Type)
	require.Equal(t, err.Cause, decoded.Cause)

	restored := decoded.Err()
	require.True(t, IsErrorType(restored, ErrorTypeBookmarkInconsistency))
	require.Equal(t, err.Error(), restored.Error())

	var nilOutput *ErrorOutput
	require.NoError(t, nilOutput.Err())
}
