package vm

import (
	"encoding/json"
	"fmt"
)

// ExceptionPauseMode selects which exceptions stop an isolate.
type ExceptionPauseMode string

const (
	PauseOnAllExceptions       ExceptionPauseMode = "all"
	PauseOnNoExceptions        ExceptionPauseMode = "none"
	PauseOnUnhandledExceptions ExceptionPauseMode = "unhandled"
)

// ParseExceptionPauseMode validates a mode name.
func ParseExceptionPauseMode(s string) (ExceptionPauseMode, bool) {
	switch m := ExceptionPauseMode(s); m {
	case PauseOnAllExceptions, PauseOnNoExceptions, PauseOnUnhandledExceptions:
		return m, true
	}
	return "", false
}

// convertResponse decodes a response into a Result. A result payload that
// does not decode becomes an error result.
func convertResponse[T any](resp Response, command string, decode func(json.RawMessage) (T, error)) Result[T] {
	if resp.IsError() {
		return Failure[T](resp.Error)
	}
	v, err := decode(resp.Result)
	if err != nil {
		vmLog().Infof("%v", err)
		return Failure[T](err.Error())
	}
	return Success(v)
}

// call sends command and hands the decoded response to cb, which may be nil.
func call[T any](c *Connection, command string, params map[string]any, isolateID int,
	decode func(json.RawMessage) (T, error), cb func(Result[T])) error {
	var wrapped Callback
	if cb != nil {
		wrapped = func(resp Response) {
			cb(convertResponse(resp, command, decode))
		}
	}
	return c.SendRequest(command, params, isolateID, wrapped)
}

// GetIsolateIDs lists the ids of the running isolates.
func (c *Connection) GetIsolateIDs(cb func(Result[[]int])) error {
	return call(c, "getIsolateIds", nil, noIsolate, func(raw json.RawMessage) ([]int, error) {
		w, err := unmarshalResult[struct {
			IsolateIDs []int `json:"isolateIds"`
		}](raw, "getIsolateIds")
		if w.IsolateIDs == nil {
			w.IsolateIDs = []int{}
		}
		return w.IsolateIDs, err
	}, cb)
}

// GetLibraries lists the libraries loaded in isolate. A running isolate
// yields an empty list without a round trip.
func (c *Connection) GetLibraries(isolate *Isolate, cb func(Result[[]LibraryRef])) error {
	if !isolate.IsPaused() {
		if cb != nil {
			cb(Success([]LibraryRef{}))
		}
		return nil
	}
	return call(c, "getLibraries", nil, isolate.id, func(raw json.RawMessage) ([]LibraryRef, error) {
		w, err := unmarshalResult[wireLibraries](raw, "getLibraries")
		return decodeLibraryRefs(w), err
	}, cb)
}

// GetLibraryProperties fetches the metadata of one library.
func (c *Connection) GetLibraryProperties(isolate *Isolate, libraryID int, cb func(Result[*Library])) error {
	params := map[string]any{"libraryId": libraryID}
	return call(c, "getLibraryProperties", params, isolate.id, func(raw json.RawMessage) (*Library, error) {
		w, err := unmarshalResult[wireLibrary](raw, "getLibraryProperties")
		if err != nil {
			return nil, err
		}
		return decodeLibrary(isolate, libraryID, w), nil
	}, cb)
}

// SetLibraryProperties toggles whether stepping may enter the library.
func (c *Connection) SetLibraryProperties(isolate *Isolate, libraryID int, debuggingEnabled bool) error {
	enabled := "false"
	if debuggingEnabled {
		enabled = "true"
	}
	params := map[string]any{"libraryId": libraryID, "debuggingEnabled": enabled}
	return c.SendRequest("setLibraryProperties", params, isolate.id, nil)
}

// GetClassProperties fetches the metadata of one class.
func (c *Connection) GetClassProperties(isolate *Isolate, classID int, cb func(Result[*Class])) error {
	params := map[string]any{"classId": classID}
	return call(c, "getClassProperties", params, isolate.id, func(raw json.RawMessage) (*Class, error) {
		w, err := unmarshalResult[wireClass](raw, "getClassProperties")
		if err != nil {
			return nil, err
		}
		return decodeClass(isolate, classID, w), nil
	}, cb)
}

// GetGlobalVariables lists the top level variables of a library, by name.
func (c *Connection) GetGlobalVariables(isolate *Isolate, libraryID int, cb func(Result[[]*Variable])) error {
	params := map[string]any{"libraryId": libraryID}
	return call(c, "getGlobalVariables", params, isolate.id, func(raw json.RawMessage) ([]*Variable, error) {
		w, err := unmarshalResult[struct {
			Globals []wireVariable `json:"globals"`
		}](raw, "getGlobalVariables")
		if err != nil {
			return nil, err
		}
		vars := decodeVariables(isolate, w.Globals, false)
		sortVariables(vars)
		return vars, nil
	}, cb)
}

// GetLineNumberTable fetches the token offset to line mapping of a script.
func (c *Connection) GetLineNumberTable(isolate *Isolate, libraryID int, url string, cb func(Result[*LineNumberTable])) error {
	params := map[string]any{"libraryId": libraryID, "url": ClientURLToVM(url)}
	return call(c, "getLineNumberTable", params, isolate.id, func(raw json.RawMessage) (*LineNumberTable, error) {
		w, err := unmarshalResult[wireLineNumberTable](raw, "getLineNumberTable")
		if err != nil {
			return nil, err
		}
		return decodeLineNumberTable(libraryID, url, w), nil
	}, cb)
}

// GetScriptSource fetches the text of a script.
func (c *Connection) GetScriptSource(isolate *Isolate, libraryID int, url string, cb func(Result[string])) error {
	params := map[string]any{"libraryId": libraryID, "url": ClientURLToVM(url)}
	return call(c, "getScriptSource", params, isolate.id, func(raw json.RawMessage) (string, error) {
		w, err := unmarshalResult[struct {
			Text string `json:"text"`
		}](raw, "getScriptSource")
		return w.Text, err
	}, cb)
}

// GetScriptURLs lists the scripts of a library in client form.
func (c *Connection) GetScriptURLs(isolate *Isolate, libraryID int, cb func(Result[[]string])) error {
	params := map[string]any{"libraryId": libraryID}
	return call(c, "getScriptURLs", params, isolate.id, func(raw json.RawMessage) ([]string, error) {
		w, err := unmarshalResult[struct {
			URLs []string `json:"urls"`
		}](raw, "getScriptURLs")
		if err != nil {
			return nil, err
		}
		urls := make([]string, 0, len(w.URLs))
		for _, u := range w.URLs {
			urls = append(urls, VMURLToClient(u))
		}
		return urls, nil
	}, cb)
}

// GetObjectProperties fetches the fields of an object.
func (c *Connection) GetObjectProperties(isolate *Isolate, objectID int, cb func(Result[*Object])) error {
	params := map[string]any{"objectId": objectID}
	return call(c, "getObjectProperties", params, isolate.id, func(raw json.RawMessage) (*Object, error) {
		w, err := unmarshalResult[wireObject](raw, "getObjectProperties")
		if err != nil {
			return nil, err
		}
		return decodeObject(isolate, objectID, w), nil
	}, cb)
}

// GetListElements fetches the element at index of a list.
func (c *Connection) GetListElements(isolate *Isolate, listID, index int, cb func(Result[*Value])) error {
	params := map[string]any{"objectId": listID, "index": index}
	return call(c, "getListElements", params, isolate.id, valueDecoder(isolate, "getListElements"), cb)
}

// GetStackTrace fetches the call stack of a paused isolate.
func (c *Connection) GetStackTrace(isolate *Isolate, cb func(Result[[]*CallFrame])) error {
	return call(c, "getStackTrace", nil, isolate.id, func(raw json.RawMessage) ([]*CallFrame, error) {
		w, err := unmarshalResult[wireStackTrace](raw, "getStackTrace")
		if err != nil {
			return nil, err
		}
		return decodeCallFrames(isolate, w.CallFrames), nil
	}, cb)
}

// Interrupt pauses a running isolate. The pause arrives as a notification.
// Nothing answers the request, so a closed connection is reported as
// ErrNotConnected.
func (c *Connection) Interrupt(isolate *Isolate) error {
	if !c.IsConnected() {
		return fmt.Errorf("interrupt %s: %w", isolate, ErrNotConnected)
	}
	return c.SendRequest("interrupt", nil, isolate.id, nil)
}

// SetPauseOnException selects which exceptions stop the isolate. cb may be nil.
func (c *Connection) SetPauseOnException(isolate *Isolate, mode ExceptionPauseMode, cb func(Result[bool])) error {
	params := map[string]any{"exceptions": string(mode)}
	return call(c, "setPauseOnException", params, isolate.id, func(json.RawMessage) (bool, error) {
		return true, nil
	}, cb)
}

func valueDecoder(isolate *Isolate, command string) func(json.RawMessage) (*Value, error) {
	return func(raw json.RawMessage) (*Value, error) {
		w, err := unmarshalResult[wireValue](raw, command)
		if err != nil {
			return nil, err
		}
		return decodeValue(isolate, &w), nil
	}
}

func (c *Connection) evaluate(isolate *Isolate, key string, id int, expression string, cb func(Result[*Value])) error {
	params := map[string]any{key: id, "expression": expression}
	return call(c, "evaluateExpr", params, isolate.id, valueDecoder(isolate, "evaluateExpr"), cb)
}

// EvaluateObject evaluates expression with value as the receiver.
func (c *Connection) EvaluateObject(isolate *Isolate, value *Value, expression string, cb func(Result[*Value])) error {
	return c.evaluate(isolate, "objectId", value.ObjectID, expression, cb)
}

// EvaluateClass evaluates expression in the static scope of class.
func (c *Connection) EvaluateClass(isolate *Isolate, class *Class, expression string, cb func(Result[*Value])) error {
	return c.evaluate(isolate, "classId", class.ClassID, expression, cb)
}

// EvaluateLibrary evaluates expression in the top level scope of library.
func (c *Connection) EvaluateLibrary(isolate *Isolate, library *Library, expression string, cb func(Result[*Value])) error {
	return c.evaluate(isolate, "libraryId", library.LibraryID, expression, cb)
}

// EvaluateOnCallFrame evaluates expression in the scope of frame.
func (c *Connection) EvaluateOnCallFrame(isolate *Isolate, frame *CallFrame, expression string, cb func(Result[*Value])) error {
	return c.evaluate(isolate, "frameId", frame.FrameID, expression, cb)
}

// CallToString evaluates toString() on value.
func (c *Connection) CallToString(value *Value, cb func(Result[*Value])) error {
	return c.EvaluateObject(value.isolate, value, "toString()", cb)
}
