// Package types defines shared data types used across the vmdebug-mcp server.
//
// This package provides type definitions for:
//   - SessionStatus: VM session states (connecting, running, paused, terminated)
//   - Info types: SessionInfo, IsolateInfo, StackFrame, Variable, Breakpoint
//   - DebugSnapshot: paused state of every isolate of a session
//
// They are the JSON form handed to MCP clients and used by the DAP bridge.
package types

import "time"

// SessionStatus represents the status of a VM session
type SessionStatus string

const (
	SessionStatusConnecting SessionStatus = "connecting"
	SessionStatusRunning    SessionStatus = "running"
	SessionStatusPaused     SessionStatus = "paused"
	SessionStatusTerminated SessionStatus = "terminated"
)

// SessionInfo represents information about a VM session
type SessionInfo struct {
	SessionID string        `json:"sessionId"`
	Address   string        `json:"address"`
	Status    SessionStatus `json:"status"`
	PID       int           `json:"pid,omitempty"`
	Program   string        `json:"program,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// IsolateInfo represents an isolate known to a session
type IsolateInfo struct {
	ID         int    `json:"id"`
	Paused     bool   `json:"paused"`
	Stepping   bool   `json:"stepping,omitempty"`
	FirstBreak bool   `json:"firstBreak,omitempty"`
	Reason     string `json:"pausedReason,omitempty"`
}

// Location represents a source position
type Location struct {
	URL         string `json:"url"`
	LibraryID   int    `json:"libraryId"`
	TokenOffset int    `json:"tokenOffset"`
	Line        int    `json:"line,omitempty"`
}

// StackFrame represents a call frame
type StackFrame struct {
	ID        int        `json:"id"`
	Function  string     `json:"function"`
	ClassID   int        `json:"classId,omitempty"`
	LibraryID int        `json:"libraryId"`
	Location  *Location  `json:"location,omitempty"`
	Locals    []Variable `json:"locals,omitempty"`
}

// Variable represents a named value
type Variable struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Value    string `json:"value"`
	ObjectID int    `json:"objectId,omitempty"`
	ClassID  int    `json:"classId,omitempty"`
	Length   int    `json:"length,omitempty"`
}

// Breakpoint represents a tracked breakpoint
type Breakpoint struct {
	ID        int       `json:"id"`
	IsolateID int       `json:"isolateId"`
	Verified  bool      `json:"verified"`
	Location  *Location `json:"location,omitempty"`
}

// Library represents a loaded library
type Library struct {
	ID  int    `json:"id"`
	URL string `json:"url"`
}

// EvaluateResult represents the result of evaluating an expression
type EvaluateResult struct {
	Kind        string     `json:"kind"`
	Result      string     `json:"result"`
	ObjectID    int        `json:"objectId,omitempty"`
	ClassID     int        `json:"classId,omitempty"`
	Length      int        `json:"length,omitempty"`
	Description string     `json:"description,omitempty"` // toString() of objects
	Elements    []Variable `json:"elements,omitempty"`    // leading list elements
}

// Event is one entry of a session's debugger event log
type Event struct {
	Time      time.Time `json:"time"`
	Kind      string    `json:"kind"`
	IsolateID int       `json:"isolateId,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// DebugSnapshot represents the state of every isolate of a session
type DebugSnapshot struct {
	SessionID string               `json:"sessionId"`
	Status    SessionStatus        `json:"status"`
	Isolates  []IsolateInfo        `json:"isolates"`
	Stacks    map[int][]StackFrame `json:"stacks"` // isolateId -> frames
	Exception *Variable            `json:"exception,omitempty"`
}
