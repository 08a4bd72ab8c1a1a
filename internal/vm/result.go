package vm

import "errors"

// terminationMessage is delivered to every callback still pending when the
// connection goes away, and to requests attempted after it is gone.
const terminationMessage = "connection termination"

var (
	// ErrNotConnected is returned by operations that need a live connection.
	ErrNotConnected = errors.New("not connected to VM")

	// ErrConnectionTerminated is the Go error form of a termination result.
	ErrConnectionTerminated = errors.New(terminationMessage)

	// ErrIsolateNotPaused is returned, before anything is sent, by operations
	// that need a stopped isolate.
	ErrIsolateNotPaused = errors.New("isolate is not paused")
)

// Result carries the outcome of one request: either an application level
// error string reported by the VM, or a decoded value.
type Result[T any] struct {
	Value  T
	Error  string
	failed bool
}

// Success wraps a decoded value.
func Success[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Failure wraps an error reported by the VM.
func Failure[T any](msg string) Result[T] {
	return Result[T]{Error: msg, failed: true}
}

// IsError reports whether the VM answered with an error.
func (r Result[T]) IsError() bool {
	return r.failed
}

// Terminated reports whether the result was synthesized because the
// connection died before an answer arrived.
func (r Result[T]) Terminated() bool {
	return r.failed && r.Error == terminationMessage
}

// Err returns nil for successful results and a *RemoteError otherwise.
func (r Result[T]) Err() error {
	if !r.failed {
		return nil
	}
	if r.Terminated() {
		return ErrConnectionTerminated
	}
	return &RemoteError{Message: r.Error}
}

// RemoteError is an error string returned by the VM for a request.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "vm: " + e.Message
}
