package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebugError_ErrorIncludesHint(t *testing.T) {
	err := SessionNotFound("abc")
	assert.Equal(t, CodeSessionNotFound, err.Code)
	assert.Contains(t, err.Error(), "session 'abc' not found")
	assert.Contains(t, err.Error(), "| Hint: ")
	assert.Equal(t, "abc", err.Details["sessionId"])

	bare := &DebugError{Message: "plain"}
	assert.Equal(t, "plain", bare.Error())
}

func TestDebugError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := VMConnectFailed("127.0.0.1:5858", cause)

	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, "127.0.0.1:5858", err.Details["address"])
}

func TestDebugError_WithDetails(t *testing.T) {
	err := (&DebugError{Code: CodeStepFailed}).
		WithDetails("isolateId", 2).
		WithCause(fmt.Errorf("boom"))

	assert.Equal(t, 2, err.Details["isolateId"])
	assert.EqualError(t, err.Cause, "boom")
}

func TestPermissionDeniedHints(t *testing.T) {
	tests := []struct {
		operation string
		hintPart  string
	}{
		{"spawn", "allow_spawn"},
		{"evaluate", "evaluation is disabled"},
		{"step", "'readonly' mode"},
	}

	for _, tt := range tests {
		t.Run(tt.operation, func(t *testing.T) {
			err := PermissionDenied(tt.operation, "readonly")
			assert.Equal(t, CodePermissionDenied, err.Code)
			assert.Contains(t, err.Hint, tt.hintPart)
		})
	}
}

func TestStepFailedHints(t *testing.T) {
	for _, step := range []string{"over", "into", "out", "resume"} {
		err := StepFailed(step, fmt.Errorf("isolate gone"))
		assert.NotEmpty(t, err.Hint)
		assert.Equal(t, step, err.Details["stepType"])
	}
}

func TestFromError(t *testing.T) {
	original := IsolateNotPaused(3, "setBreakpoint")
	wrapped := fmt.Errorf("handler: %w", original)

	got := FromError(wrapped, func(error) *DebugError { return StepFailed("over", nil) })
	require.NotNil(t, got)
	assert.Same(t, original, got)

	cause := fmt.Errorf("eof")
	fallback := FromError(cause, func(err error) *DebugError { return VMProtocolError("getStackTrace", err) })
	assert.Equal(t, CodeVMProtocolError, fallback.Code)
	assert.True(t, stderrors.Is(fallback, cause))

	plain := FromError(fmt.Errorf("something odd"), nil)
	assert.Equal(t, ErrorCode("UNKNOWN_ERROR"), plain.Code)
	assert.Equal(t, "something odd", plain.Message)
}
