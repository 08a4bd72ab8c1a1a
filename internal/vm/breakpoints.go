package vm

import (
	"encoding/json"
	"fmt"
)

// SetBreakpoint asks the VM for a breakpoint at line of url (client form).
// The isolate must be paused; otherwise ErrIsolateNotPaused is returned and
// no request is sent. cb may be nil.
func (c *Connection) SetBreakpoint(isolate *Isolate, url string, line int, cb func(Result[*Breakpoint])) error {
	if !isolate.IsPaused() {
		return fmt.Errorf("set breakpoint at %s:%d in %s: %w", url, line, isolate, ErrIsolateNotPaused)
	}

	params := map[string]any{
		"url":  ClientURLToVM(url),
		"line": line,
	}
	return c.SendRequest("setBreakpoint", params, isolate.id, func(resp Response) {
		r := convertResponse(resp, "setBreakpoint", func(raw json.RawMessage) (*Breakpoint, error) {
			w, err := unmarshalResult[struct {
				BreakpointID int `json:"breakpointId"`
			}](raw, "setBreakpoint")
			if err != nil {
				return nil, err
			}
			bp, _ := c.trackBreakpoint(isolate, w.BreakpointID, nil)
			return bp, nil
		})
		if cb != nil {
			cb(r)
		}
	})
}

// RemoveBreakpoint asks the VM to delete bp. It stops being tracked at once.
func (c *Connection) RemoveBreakpoint(isolate *Isolate, bp *Breakpoint) error {
	params := map[string]any{"breakpointId": bp.id}
	err := c.SendRequest("removeBreakpoint", params, isolate.id, func(resp Response) {
		if !resp.IsError() {
			c.untrackBreakpoint(bp)
		}
	})
	c.untrackBreakpoint(bp)
	return err
}

// Breakpoints returns the tracked breakpoints.
func (c *Connection) Breakpoints() []*Breakpoint {
	c.breakpointsMu.Lock()
	defer c.breakpointsMu.Unlock()
	return append([]*Breakpoint(nil), c.breakpoints...)
}

// Breakpoint returns the tracked breakpoint with id.
func (c *Connection) Breakpoint(id int) (*Breakpoint, bool) {
	c.breakpointsMu.Lock()
	defer c.breakpointsMu.Unlock()
	for _, bp := range c.breakpoints {
		if bp.id == id {
			return bp, true
		}
	}
	return nil, false
}

// trackBreakpoint returns the breakpoint with id, creating it if needed.
// A non-nil location replaces the location of an existing breakpoint.
func (c *Connection) trackBreakpoint(isolate *Isolate, id int, location *Location) (*Breakpoint, bool) {
	c.breakpointsMu.Lock()
	defer c.breakpointsMu.Unlock()
	for _, bp := range c.breakpoints {
		if bp.id == id {
			if location != nil {
				bp.updateLocation(location)
			}
			return bp, false
		}
	}
	bp := newBreakpoint(isolate, location, id)
	c.breakpoints = append(c.breakpoints, bp)
	return bp, true
}

func (c *Connection) untrackBreakpoint(bp *Breakpoint) {
	c.breakpointsMu.Lock()
	defer c.breakpointsMu.Unlock()
	for i, existing := range c.breakpoints {
		if existing == bp {
			c.breakpoints = append(c.breakpoints[:i], c.breakpoints[i+1:]...)
			return
		}
	}
}

func (c *Connection) handleBreakpointResolved(isolate *Isolate, id int, location *Location) {
	bp, created := c.trackBreakpoint(isolate, id, location)
	if created {
		vmLog().Debugf("breakpoint %d resolved before setBreakpoint returned", id)
	}
	c.fireNow(func(l Listener) { l.BreakpointResolved(isolate, bp) })
}
