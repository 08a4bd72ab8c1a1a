// Package errors provides structured error types for the vmdebug-mcp server.
// These errors include helpful hints and suggestions that guide the LLM
// to correct course when something goes wrong.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a category of error for programmatic handling
type ErrorCode string

const (
	// Session errors
	CodeSessionNotFound     ErrorCode = "SESSION_NOT_FOUND"
	CodeSessionLimitReached ErrorCode = "SESSION_LIMIT_REACHED"
	CodeSessionNoConnection ErrorCode = "SESSION_NO_CONNECTION"

	// VM errors
	CodeVMConnectFailed        ErrorCode = "VM_CONNECT_FAILED"
	CodeVMSpawnFailed          ErrorCode = "VM_SPAWN_FAILED"
	CodeVMConnectionTerminated ErrorCode = "VM_CONNECTION_TERMINATED"
	CodeVMProtocolError        ErrorCode = "VM_PROTOCOL_ERROR"

	// Isolate errors
	CodeIsolateNotFound  ErrorCode = "ISOLATE_NOT_FOUND"
	CodeIsolateNotPaused ErrorCode = "ISOLATE_NOT_PAUSED"

	// Parameter errors
	CodeMissingParameter ErrorCode = "MISSING_PARAMETER"
	CodeInvalidParameter ErrorCode = "INVALID_PARAMETER"

	// Permission errors
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// Runtime errors
	CodeBreakpointFailed ErrorCode = "BREAKPOINT_FAILED"
	CodeEvaluationFailed ErrorCode = "EVALUATION_FAILED"
	CodeStepFailed       ErrorCode = "STEP_FAILED"
)

// DebugError is a structured error type that includes helpful information
// for the LLM to understand what went wrong and how to fix it.
type DebugError struct {
	// Code is a machine-readable error category
	Code ErrorCode `json:"code"`

	// Message is a human/LLM-readable description of what went wrong
	Message string `json:"message"`

	// Hint provides actionable guidance on how to fix the error
	Hint string `json:"hint,omitempty"`

	// Details contains additional context (e.g., the invalid value, expected format)
	Details map[string]interface{} `json:"details,omitempty"`

	// Cause is the underlying error, if any
	Cause error `json:"-"`
}

// Error implements the error interface
func (e *DebugError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if e.Hint != "" {
		sb.WriteString(" | Hint: ")
		sb.WriteString(e.Hint)
	}

	return sb.String()
}

// Unwrap returns the underlying error for error chaining
func (e *DebugError) Unwrap() error {
	return e.Cause
}

// WithDetails adds details to the error
func (e *DebugError) WithDetails(key string, value interface{}) *DebugError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *DebugError) WithCause(err error) *DebugError {
	e.Cause = err
	return e
}

// --- Session Errors ---

// SessionNotFound creates an error for when a session ID doesn't exist
func SessionNotFound(sessionID string) *DebugError {
	return &DebugError{
		Code:    CodeSessionNotFound,
		Message: fmt.Sprintf("session '%s' not found", sessionID),
		Hint:    "Use vm_list_sessions to see active sessions, or use vm_connect / vm_launch to create a new session.",
		Details: map[string]interface{}{
			"sessionId": sessionID,
		},
	}
}

// SessionLimitReached creates an error when max sessions is reached
func SessionLimitReached(maxSessions int) *DebugError {
	return &DebugError{
		Code:    CodeSessionLimitReached,
		Message: fmt.Sprintf("maximum number of sessions (%d) reached", maxSessions),
		Hint:    "Use vm_disconnect to terminate an existing session before creating a new one.",
		Details: map[string]interface{}{
			"maxSessions": maxSessions,
		},
	}
}

// SessionNoConnection creates an error when the VM connection of a session is gone
func SessionNoConnection(sessionID string) *DebugError {
	return &DebugError{
		Code:    CodeSessionNoConnection,
		Message: fmt.Sprintf("session '%s' is no longer connected to the VM", sessionID),
		Hint:    "The VM may have exited. Use vm_disconnect to clean up and vm_connect to attach again.",
		Details: map[string]interface{}{
			"sessionId": sessionID,
		},
	}
}

// --- VM Errors ---

// VMConnectFailed creates an error when the debug server cannot be reached
func VMConnectFailed(address string, err error) *DebugError {
	return &DebugError{
		Code:    CodeVMConnectFailed,
		Message: fmt.Sprintf("failed to connect to VM debug server at %s: %v", address, err),
		Hint:    "Check that the VM was started with --debug:<port> and that host and port are correct.",
		Cause:   err,
		Details: map[string]interface{}{
			"address": address,
		},
	}
}

// VMSpawnFailed creates an error when the VM process cannot be started
func VMSpawnFailed(script string, err error) *DebugError {
	return &DebugError{
		Code:    CodeVMSpawnFailed,
		Message: fmt.Sprintf("failed to start VM for %s: %v", script, err),
		Hint:    "Ensure the VM executable is installed and configured (vm.executable), and that the script path exists.",
		Cause:   err,
		Details: map[string]interface{}{
			"script": script,
		},
	}
}

// VMConnectionTerminated creates an error for requests cut short by a closed connection
func VMConnectionTerminated(err error) *DebugError {
	return &DebugError{
		Code:    CodeVMConnectionTerminated,
		Message: "the VM connection terminated before the request completed",
		Hint:    "The VM probably exited. Use vm_list_sessions to check the session and vm_connect to attach again.",
		Cause:   err,
	}
}

// VMProtocolError creates an error for replies that could not be understood
func VMProtocolError(command string, err error) *DebugError {
	return &DebugError{
		Code:    CodeVMProtocolError,
		Message: fmt.Sprintf("unexpected reply to %s: %v", command, err),
		Hint:    "The VM debug server may be incompatible with this client.",
		Cause:   err,
		Details: map[string]interface{}{
			"command": command,
		},
	}
}

// --- Isolate Errors ---

// IsolateNotFound creates an error for an unknown isolate id
func IsolateNotFound(isolateID int) *DebugError {
	return &DebugError{
		Code:    CodeIsolateNotFound,
		Message: fmt.Sprintf("isolate %d not found", isolateID),
		Hint:    "Use vm_isolates to list the isolates of the session.",
		Details: map[string]interface{}{
			"isolateId": isolateID,
		},
	}
}

// IsolateNotPaused creates an error for operations that need a stopped isolate
func IsolateNotPaused(isolateID int, operation string) *DebugError {
	return &DebugError{
		Code:    CodeIsolateNotPaused,
		Message: fmt.Sprintf("%s requires isolate %d to be paused", operation, isolateID),
		Hint:    "Use vm_pause to interrupt the isolate first, or wait for it to hit a breakpoint.",
		Details: map[string]interface{}{
			"isolateId": isolateID,
			"operation": operation,
		},
	}
}

// --- Parameter Errors ---

// MissingParameter creates an error for missing required parameters
func MissingParameter(paramName, description string) *DebugError {
	return &DebugError{
		Code:    CodeMissingParameter,
		Message: fmt.Sprintf("required parameter '%s' is missing", paramName),
		Hint:    description,
		Details: map[string]interface{}{
			"parameter": paramName,
		},
	}
}

// InvalidParameter creates an error for invalid parameter values
func InvalidParameter(paramName string, value interface{}, expected string) *DebugError {
	return &DebugError{
		Code:    CodeInvalidParameter,
		Message: fmt.Sprintf("invalid value for parameter '%s': %v", paramName, value),
		Hint:    fmt.Sprintf("Expected: %s", expected),
		Details: map[string]interface{}{
			"parameter": paramName,
			"value":     value,
			"expected":  expected,
		},
	}
}

// --- Permission Errors ---

// PermissionDenied creates an error for permission denied
func PermissionDenied(operation, mode string) *DebugError {
	var hint string
	switch operation {
	case "spawn":
		hint = "The server is configured to disallow starting VMs. Ask the administrator to enable 'allow_spawn' in the configuration."
	case "evaluate":
		hint = "Expression evaluation is disabled in the current server mode. This may be intentional for security reasons."
	default:
		hint = fmt.Sprintf("This operation is not allowed in '%s' mode.", mode)
	}

	return &DebugError{
		Code:    CodePermissionDenied,
		Message: fmt.Sprintf("%s is not allowed in current server mode", operation),
		Hint:    hint,
		Details: map[string]interface{}{
			"operation": operation,
			"mode":      mode,
		},
	}
}

// --- Runtime Errors ---

// BreakpointFailed creates an error for breakpoint failures
func BreakpointFailed(url string, line int, reason string) *DebugError {
	return &DebugError{
		Code:    CodeBreakpointFailed,
		Message: fmt.Sprintf("could not set breakpoint at %s:%d", url, line),
		Hint:    fmt.Sprintf("Reason: %s. Use file:/ URLs as listed by vm_libraries and a line that contains code.", reason),
		Details: map[string]interface{}{
			"url":    url,
			"line":   line,
			"reason": reason,
		},
	}
}

// EvaluationFailed creates an error for expression evaluation failures
func EvaluationFailed(expression string, err error) *DebugError {
	return &DebugError{
		Code:    CodeEvaluationFailed,
		Message: fmt.Sprintf("failed to evaluate expression '%s': %v", expression, err),
		Hint:    "Check the expression syntax and that referenced names are in scope of the chosen frame, object, class or library.",
		Cause:   err,
		Details: map[string]interface{}{
			"expression": expression,
		},
	}
}

// StepFailed creates an error for step failures
func StepFailed(stepType string, err error) *DebugError {
	var hint string
	switch stepType {
	case "over":
		hint = "Step over failed. The isolate may have exited. Use vm_snapshot to check the current state."
	case "into":
		hint = "Step into failed. The isolate may have exited or is not paused."
	case "out":
		hint = "Step out failed. You may already be in the outermost frame, or the isolate has exited."
	default:
		hint = "The step operation failed. Use vm_snapshot to check the current state."
	}

	return &DebugError{
		Code:    CodeStepFailed,
		Message: fmt.Sprintf("step %s failed: %v", stepType, err),
		Hint:    hint,
		Cause:   err,
		Details: map[string]interface{}{
			"stepType": stepType,
		},
	}
}

// --- Helper for wrapping generic errors ---

// FromError returns the DebugError already carried by err. Otherwise it
// builds one with fallback, or an UNKNOWN_ERROR when fallback is nil.
func FromError(err error, fallback func(error) *DebugError) *DebugError {
	var de *DebugError
	if stderrors.As(err, &de) {
		return de
	}
	if fallback != nil {
		return fallback(err)
	}
	return &DebugError{
		Code:    "UNKNOWN_ERROR",
		Message: err.Error(),
		Hint:    "An unexpected error occurred. Please check the error message for details.",
		Cause:   err,
	}
}
