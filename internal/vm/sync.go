package vm

import (
	"context"
	"fmt"
	"strconv"
)

// Await starts an asynchronous request and blocks until its callback runs or
// ctx is done. Giving up on ctx does not cancel the request on the wire.
func Await[T any](ctx context.Context, start func(cb func(Result[T])) error) (Result[T], error) {
	done := make(chan Result[T], 1)
	if err := start(func(r Result[T]) { done <- r }); err != nil {
		return Result[T]{}, err
	}
	select {
	case r := <-done:
		return r, nil
	case <-ctx.Done():
		return Result[T]{}, ctx.Err()
	}
}

// awaitValue is Await with VM errors folded into the returned error.
func awaitValue[T any](ctx context.Context, start func(cb func(Result[T])) error) (T, error) {
	r, err := Await(ctx, start)
	if err == nil {
		err = r.Err()
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return r.Value, nil
}

// SyncIsolates asks the VM for its isolates and registers the ones the
// connection has not seen yet, such as isolates started before it connected.
func (c *Connection) SyncIsolates(ctx context.Context) ([]*Isolate, error) {
	ids, err := awaitValue(ctx, c.GetIsolateIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		c.getCreateIsolate(id)
	}
	return c.Isolates(), nil
}

// InterruptResult undoes an InterruptConditionally.
type InterruptResult struct {
	conn    *Connection
	isolate *Isolate
}

// Resumed reports whether Resume will send a resume command.
func (r *InterruptResult) Resumed() bool {
	return r.isolate != nil
}

// Resume resumes the isolate if, and only if, the interrupt paused it.
func (r *InterruptResult) Resume() error {
	if r.isolate == nil {
		return nil
	}
	return r.conn.Resume(r.isolate)
}

// shared runs fetch once for all concurrent callers of key. The fetch does
// not inherit ctx cancellation, so one caller giving up does not fail the
// others; each caller stops waiting when its own ctx is done.
func (c *Connection) shared(ctx context.Context, key string, fetch func(ctx context.Context) (any, error)) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(key, func() (any, error) {
		return fetch(detached)
	})
	select {
	case r := <-ch:
		return r.Val, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InterruptConditionally makes sure isolate is paused. The returned
// InterruptResult resumes it only if this call was the one that paused it.
func (c *Connection) InterruptConditionally(isolate *Isolate) (*InterruptResult, error) {
	if isolate.IsPaused() {
		return &InterruptResult{conn: c}, nil
	}
	// Marked before sending so the interrupted pause is never surfaced.
	isolate.setTemporarilyInterrupted(true)
	isolate.setPaused(true)
	if err := c.Interrupt(isolate); err != nil {
		isolate.setTemporarilyInterrupted(false)
		isolate.setPaused(false)
		return nil, err
	}
	return &InterruptResult{conn: c, isolate: isolate}, nil
}

// ClassInfo returns class metadata from the isolate cache, fetching it on a
// miss. Concurrent misses for the same class share one request.
func (c *Connection) ClassInfo(ctx context.Context, isolate *Isolate, classID int) (*Class, error) {
	if class, ok := isolate.ClassInfo(classID); ok {
		return class, nil
	}
	key := fmt.Sprintf("class:%d:%d", isolate.id, classID)
	v, err := c.shared(ctx, key, func(ctx context.Context) (any, error) {
		class, err := awaitValue(ctx, func(cb func(Result[*Class])) error {
			return c.GetClassProperties(isolate, classID, cb)
		})
		if err != nil {
			return nil, err
		}
		isolate.setClassInfo(classID, class)
		return class, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Class), nil
}

// LibraryInfo returns library metadata from the isolate cache, fetching it
// on a miss. Concurrent misses for the same library share one request.
func (c *Connection) LibraryInfo(ctx context.Context, isolate *Isolate, libraryID int) (*Library, error) {
	if library, ok := isolate.LibraryInfo(libraryID); ok {
		return library, nil
	}
	key := fmt.Sprintf("library:%d:%d", isolate.id, libraryID)
	v, err := c.shared(ctx, key, func(ctx context.Context) (any, error) {
		library, err := awaitValue(ctx, func(cb func(Result[*Library])) error {
			return c.GetLibraryProperties(isolate, libraryID, cb)
		})
		if err != nil {
			return nil, err
		}
		isolate.setLibraryInfo(libraryID, library)
		return library, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Library), nil
}

// ClassName returns the class name of obj, or "" if it has no known class.
func (c *Connection) ClassName(ctx context.Context, obj *Object) string {
	if obj.ClassID == -1 {
		return ""
	}
	class, err := c.ClassInfo(ctx, obj.isolate, obj.ClassID)
	if err != nil {
		return ""
	}
	return class.Name
}

// LibraryOf returns the library declaring the class of obj.
func (c *Connection) LibraryOf(ctx context.Context, obj *Object) (*Library, error) {
	if obj.ClassID == -1 {
		return nil, fmt.Errorf("object %d has no class", obj.ObjectID)
	}
	class, err := c.ClassInfo(ctx, obj.isolate, obj.ClassID)
	if err != nil {
		return nil, err
	}
	return c.LibraryInfo(ctx, obj.isolate, class.LibraryID)
}

// LineNumber returns the 1-based line of location, or 0 if it is unknown.
// Line number tables are fetched once per script.
func (c *Connection) LineNumber(ctx context.Context, location *Location) int {
	key := strconv.Itoa(location.LibraryID) + ":" + location.URL

	c.lineTablesMu.Lock()
	table, ok := c.lineTables[key]
	c.lineTablesMu.Unlock()

	if !ok {
		v, err := c.shared(ctx, "lines:"+key, func(ctx context.Context) (any, error) {
			r, err := Await(ctx, func(cb func(Result[*LineNumberTable])) error {
				return c.GetLineNumberTable(location.isolate, location.LibraryID, location.URL, cb)
			})
			if err != nil || r.Terminated() {
				return nil, fmt.Errorf("line number table for %s: %w", location.URL, firstErr(err, r.Err()))
			}
			// A VM error is remembered so the script is not asked for again.
			c.lineTablesMu.Lock()
			c.lineTables[key] = r.Value
			c.lineTablesMu.Unlock()
			return r.Value, nil
		})
		if err != nil {
			vmLog().Infof("%v", err)
			return 0
		}
		table = v.(*LineNumberTable)
	}

	if table == nil {
		return 0
	}
	return table.LineForLocation(location)
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// ScriptSource returns the text of a script from a bounded cache, fetching
// it on a miss. A script the VM cannot provide is cached as "".
func (c *Connection) ScriptSource(ctx context.Context, isolate *Isolate, libraryID int, url string) (string, error) {
	key := strconv.Itoa(libraryID) + ":" + url
	if v, ok := c.sources.Get(key); ok {
		return v.(string), nil
	}
	v, err := c.shared(ctx, "source:"+key, func(ctx context.Context) (any, error) {
		r, err := Await(ctx, func(cb func(Result[string])) error {
			return c.GetScriptSource(isolate, libraryID, url, cb)
		})
		if err != nil {
			return "", err
		}
		if r.Terminated() {
			return "", ErrConnectionTerminated
		}
		if r.IsError() {
			vmLog().Infof("no source for %s: %s", url, r.Error)
		}
		c.sources.Add(key, r.Value)
		return r.Value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// EnableAllStepping allows stepping into every library except the private
// core libraries and dart:async.
func (c *Connection) EnableAllStepping(ctx context.Context, isolate *Isolate) error {
	refs, err := awaitValue(ctx, func(cb func(Result[[]LibraryRef])) error {
		return c.GetLibraries(isolate, cb)
	})
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if ref.IsInternal() || ref.IsAsync() {
			continue
		}
		if err := c.SetLibraryProperties(isolate, ref.ID, true); err != nil {
			return err
		}
	}
	return nil
}

// SetPauseOnExceptionSync is SetPauseOnException waiting for the reply.
func (c *Connection) SetPauseOnExceptionSync(ctx context.Context, isolate *Isolate, mode ExceptionPauseMode) error {
	_, err := awaitValue(ctx, func(cb func(Result[bool])) error {
		return c.SetPauseOnException(isolate, mode, cb)
	})
	return err
}

// ListElementSync fetches one list element, waiting for the reply.
func (c *Connection) ListElementSync(ctx context.Context, isolate *Isolate, listID, index int) (*Value, error) {
	return awaitValue(ctx, func(cb func(Result[*Value])) error {
		return c.GetListElements(isolate, listID, index, cb)
	})
}

// ListElements returns one unevaluated variable per element of list, named
// [0], [1], ... Each element is fetched on first access.
func (c *Connection) ListElements(list *Value) []*Variable {
	if !list.IsList() {
		return nil
	}
	vars := make([]*Variable, list.Length)
	for i := range vars {
		vars[i] = &Variable{
			Name: "[" + strconv.Itoa(i) + "]",
			pending: &elementRef{
				conn:    c,
				isolate: list.isolate,
				listID:  list.ObjectID,
				index:   i,
			},
		}
	}
	return vars
}

// StackTraceSync fetches the call stack of a paused isolate, waiting for the reply.
func (c *Connection) StackTraceSync(ctx context.Context, isolate *Isolate) ([]*CallFrame, error) {
	return awaitValue(ctx, func(cb func(Result[[]*CallFrame])) error {
		return c.GetStackTrace(isolate, cb)
	})
}

// EvaluateSync runs one of the Evaluate* methods and waits for the reply.
func EvaluateSync(ctx context.Context, start func(cb func(Result[*Value])) error) (*Value, error) {
	return awaitValue(ctx, start)
}
