package vm

// PausedReason is why an isolate stopped.
type PausedReason int

const (
	PausedUnknown PausedReason = iota
	PausedBreakpoint
	PausedException
	PausedInterrupted
)

// ParsePausedReason maps the wire reason to a PausedReason.
func ParsePausedReason(reason string) PausedReason {
	switch reason {
	case "breakpoint":
		return PausedBreakpoint
	case "exception":
		return PausedException
	case "interrupted":
		return PausedInterrupted
	default:
		return PausedUnknown
	}
}

func (r PausedReason) String() string {
	switch r {
	case PausedBreakpoint:
		return "breakpoint"
	case PausedException:
		return "exception"
	case PausedInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Listener observes debugger events of a Connection. Listeners are called
// in registration order from a dispatch goroutine, never from the reader.
type Listener interface {
	ConnectionOpened(conn *Connection)
	ConnectionClosed(conn *Connection)
	DebuggerPaused(reason PausedReason, isolate *Isolate, frames []*CallFrame, exception *Value, wasStepping bool)
	DebuggerResumed(isolate *Isolate)
	BreakpointResolved(isolate *Isolate, breakpoint *Breakpoint)
	IsolateCreated(isolate *Isolate)
	IsolateShutdown(isolate *Isolate)
}

// BaseListener implements Listener with no-ops, for embedding.
type BaseListener struct{}

func (BaseListener) ConnectionOpened(*Connection)                                       {}
func (BaseListener) ConnectionClosed(*Connection)                                       {}
func (BaseListener) DebuggerPaused(PausedReason, *Isolate, []*CallFrame, *Value, bool) {}
func (BaseListener) DebuggerResumed(*Isolate)                                           {}
func (BaseListener) BreakpointResolved(*Isolate, *Breakpoint)                           {}
func (BaseListener) IsolateCreated(*Isolate)                                            {}
func (BaseListener) IsolateShutdown(*Isolate)                                           {}
