package vm

import (
	"context"
)

// Step commands understood by the VM.
const (
	cmdResume   = "resume"
	cmdStepInto = "stepInto"
	cmdStepOver = "stepOver"
	cmdStepOut  = "stepOut"
)

// beginStep arms the same-line refinement for command.
func (i *Isolate) beginStep(command string) {
	i.mu.Lock()
	i.stepping = true
	i.stepCommand = command
	i.mu.Unlock()
}

func (i *Isolate) stepState() (stepping bool, command string, last *Location) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stepping, i.stepCommand, i.lastLocation
}

// endStep records the location of a surfaced pause and disarms stepping.
func (i *Isolate) endStep(location *Location) {
	i.mu.Lock()
	i.lastLocation = location
	i.stepping = false
	i.mu.Unlock()
}

// IsStepping reports whether a stepInto or stepOver is in flight.
func (i *Isolate) IsStepping() bool {
	stepping, _, _ := i.stepState()
	return stepping
}

// Resume continues execution of a paused isolate.
func (c *Connection) Resume(isolate *Isolate) error {
	return c.sendOrdered(cmdResume, isolate.id, c.resumeOnSuccess(isolate))
}

// StepInto steps to the next source line, entering calls.
func (c *Connection) StepInto(isolate *Isolate) error {
	isolate.beginStep(cmdStepInto)
	return c.sendOrdered(cmdStepInto, isolate.id, c.resumeOnSuccess(isolate))
}

// StepOver steps to the next source line in the current frame.
func (c *Connection) StepOver(isolate *Isolate) error {
	isolate.beginStep(cmdStepOver)
	return c.sendOrdered(cmdStepOver, isolate.id, c.resumeOnSuccess(isolate))
}

// StepOut runs until the current frame returns.
func (c *Connection) StepOut(isolate *Isolate) error {
	return c.sendOrdered(cmdStepOut, isolate.id, c.resumeOnSuccess(isolate))
}

// resumeOnSuccess moves the isolate to running when the VM accepts the
// command. It runs on the event queue, so listeners are called directly.
func (c *Connection) resumeOnSuccess(isolate *Isolate) Callback {
	return func(resp Response) {
		isolate.setTemporarilyInterrupted(false)
		if resp.IsError() {
			if resp.Error != terminationMessage {
				vmLog().Infof("%s could not resume: %s", isolate, resp.Error)
			}
			return
		}
		isolate.setPaused(false)
		isolate.clearCaches()
		c.fireNow(func(l Listener) { l.DebuggerResumed(isolate) })
	}
}

// handlePaused surfaces a pause to listeners, or silently repeats the step
// in flight when the pause is still on the line the step started from.
func (c *Connection) handlePaused(reason PausedReason, isolate *Isolate, location *Location, exception *Value) {
	stepping, command, last := isolate.stepState()

	if reason == PausedBreakpoint && stepping && c.sameSourceLine(last, location) {
		err := c.sendOrdered(command, isolate.id, func(resp Response) {
			if !resp.IsError() {
				isolate.setPaused(false)
				isolate.clearCaches()
			}
		})
		if err != nil {
			vmLog().Infof("could not continue %s in %s: %v", command, isolate, err)
		}
		return
	}

	// Disarm before listeners run, since they may start the next step.
	isolate.endStep(location)

	frames, err := Await(context.Background(), func(cb func(Result[[]*CallFrame])) error {
		return c.GetStackTrace(isolate, cb)
	})
	if err == nil {
		err = frames.Err()
	}
	if err != nil {
		vmLog().Infof("stack trace for %s: %v", isolate, err)
		return
	}

	c.fireNow(func(l Listener) {
		l.DebuggerPaused(reason, isolate, frames.Value, exception, stepping)
	})
	isolate.clearFirstBreak()
}

// sameSourceLine reports whether both locations map to the same known line.
func (c *Connection) sameSourceLine(a, b *Location) bool {
	if a == nil || b == nil {
		return false
	}
	ctx := context.Background()
	lineA := c.LineNumber(ctx, a)
	lineB := c.LineNumber(ctx, b)
	if lineA <= 0 || lineB <= 0 {
		return false
	}
	return lineA == lineB
}
