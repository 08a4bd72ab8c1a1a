package vm

import (
	"encoding/json"
)

// Notification names sent by the VM.
const (
	eventIsolate            = "isolate"
	eventPaused             = "paused"
	eventBreakpointResolved = "breakpointResolved"
)

type pausedParams struct {
	Reason    string        `json:"reason"`
	IsolateID *int          `json:"isolateId"`
	Location  *wireLocation `json:"location"`
	Exception *wireValue    `json:"exception"`
}

type breakpointResolvedParams struct {
	BreakpointID int           `json:"breakpointId"`
	IsolateID    int           `json:"isolateId"`
	Location     *wireLocation `json:"location"`
}

type isolateParams struct {
	Reason string `json:"reason"`
	ID     *int   `json:"id"`
}

// processNotification runs on the event goroutine, one notification at a time.
func (c *Connection) processNotification(event string, params json.RawMessage) {
	switch event {
	case eventPaused:
		var p pausedParams
		if !decodeParams(event, params, &p) {
			return
		}
		c.handlePausedEvent(p)

	case eventBreakpointResolved:
		var p breakpointResolvedParams
		if !decodeParams(event, params, &p) {
			return
		}
		isolate := c.getCreateIsolate(p.IsolateID)
		if isolate == nil {
			vmLog().Infof("breakpointResolved without isolate: %s", params)
			return
		}
		c.handleBreakpointResolved(isolate, p.BreakpointID, decodeLocation(isolate, p.Location))

	case eventIsolate:
		var p isolateParams
		if !decodeParams(event, params, &p) {
			return
		}
		c.handleIsolateEvent(p)

	default:
		vmLog().Infof("no handler for notification: %s", event)
	}
}

func decodeParams(event string, params json.RawMessage, v any) bool {
	if len(params) == 0 {
		vmLog().Infof("%s notification without params", event)
		return false
	}
	if err := json.Unmarshal(params, v); err != nil {
		vmLog().Infof("%s notification not understood: %v", event, err)
		return false
	}
	return true
}

func (c *Connection) handlePausedEvent(p pausedParams) {
	id := noIsolate
	if p.IsolateID != nil {
		id = *p.IsolateID
	}
	isolate := c.getCreateIsolate(id)
	if isolate == nil {
		vmLog().Infof("paused notification without isolate")
		return
	}

	reason := ParsePausedReason(p.Reason)
	exception := decodeValue(isolate, p.Exception)
	location := decodeLocation(isolate, p.Location)

	isolate.setPaused(true)

	// An interrupt issued by InterruptConditionally is private to its caller.
	if reason == PausedInterrupted && isolate.IsTemporarilyInterrupted() {
		return
	}
	c.handlePaused(reason, isolate, location, exception)
}

func (c *Connection) handleIsolateEvent(p isolateParams) {
	id := noIsolate
	if p.ID != nil {
		id = *p.ID
	}
	isolate := c.getCreateIsolate(id)
	if isolate == nil {
		vmLog().Infof("isolate notification without id")
		return
	}

	switch p.Reason {
	case "created":
		c.fireNow(func(l Listener) { l.IsolateCreated(isolate) })
	case "shutdown":
		c.fireNow(func(l Listener) { l.IsolateShutdown(isolate) })
		isolate.setPaused(false)
		c.removeIsolate(isolate.id)
	default:
		vmLog().Infof("unknown isolate reason %q for %s", p.Reason, isolate)
	}
}
