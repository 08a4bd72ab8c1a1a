package vm

import (
	"encoding/json"
	"fmt"
)

// Wire shapes of command results and event params.

type wireLocation struct {
	LibraryID   int    `json:"libraryId"`
	URL         string `json:"url"`
	TokenOffset int    `json:"tokenOffset"`
}

type wireValue struct {
	ObjectID  int     `json:"objectId"`
	Kind      string  `json:"kind"`
	Text      *string `json:"text"`
	ClassID   *int    `json:"classId"`
	Length    int     `json:"length"`
	Name      string  `json:"name"`
	Signature string  `json:"signature"`
}

type wireVariable struct {
	Name  string     `json:"name"`
	Value *wireValue `json:"value"`
}

type wireCallFrame struct {
	FunctionName string         `json:"functionName"`
	ClassID      *int           `json:"classId"`
	LibraryID    int            `json:"libraryId"`
	Location     *wireLocation  `json:"location"`
	Locals       []wireVariable `json:"locals"`
}

type wireStackTrace struct {
	CallFrames []wireCallFrame `json:"callFrames"`
}

type wireClass struct {
	Name         string         `json:"name"`
	SuperclassID int            `json:"superclassId"`
	LibraryID    int            `json:"libraryId"`
	Fields       []wireVariable `json:"fields"`
}

type wireLibrary struct {
	URL     string `json:"url"`
	Imports []struct {
		LibraryID int    `json:"libraryId"`
		Prefix    string `json:"prefix"`
	} `json:"imports"`
	Globals []wireVariable `json:"globals"`
}

type wireObject struct {
	ClassID int            `json:"classId"`
	Fields  []wireVariable `json:"fields"`
}

type wireLibraries struct {
	Libraries []struct {
		ID  int    `json:"id"`
		URL string `json:"url"`
	} `json:"libraries"`
}

type wireLineNumberTable struct {
	Lines [][]int `json:"lines"`
}

// Names of the frames the VM inserts to dispatch a dynamic call; they sit on
// top of the frame the user actually stopped in.
var dispatchShimNames = map[string]bool{
	"noSuchMethodDispatcher": true,
	"invokeFieldDispatcher":  true,
	"_noSuchMethod":          true,
}

func unmarshalResult[T any](raw json.RawMessage, command string) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, fmt.Errorf("%s: empty result", command)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%s: decode result: %w", command, err)
	}
	return v, nil
}

func decodeLocation(isolate *Isolate, w *wireLocation) *Location {
	if w == nil {
		return nil
	}
	return &Location{
		LibraryID:   w.LibraryID,
		URL:         VMURLToClient(w.URL),
		TokenOffset: w.TokenOffset,
		isolate:     isolate,
	}
}

func decodeValue(isolate *Isolate, w *wireValue) *Value {
	if w == nil {
		return nil
	}
	v := &Value{
		Kind:     parseValueKind(w.Kind),
		ObjectID: w.ObjectID,
		ClassID:  -1,
		Length:   w.Length,
		isolate:  isolate,
	}
	if w.ClassID != nil {
		v.ClassID = *w.ClassID
	}
	if w.Text != nil {
		v.Text = *w.Text
		v.HasText = true
	}
	if v.Kind == KindFunction {
		v.Text = w.Name + w.Signature
		v.HasText = true
	}
	return v
}

func decodeVariables(isolate *Isolate, ws []wireVariable, isLocal bool) []*Variable {
	vars := make([]*Variable, 0, len(ws))
	for i := range ws {
		vars = append(vars, NewVariable(ws[i].Name, decodeValue(isolate, ws[i].Value), isLocal))
	}
	return vars
}

func decodeCallFrames(isolate *Isolate, ws []wireCallFrame) []*CallFrame {
	if len(ws) > 2 && dispatchShimNames[ws[0].FunctionName] {
		ws = ws[1:]
	}
	if len(ws) > MaxStackDepth {
		ws = ws[:MaxStackDepth]
	}

	frames := make([]*CallFrame, 0, len(ws))
	for i, w := range ws {
		f := &CallFrame{
			FrameID:      i,
			FunctionName: w.FunctionName,
			ClassID:      -1,
			LibraryID:    w.LibraryID,
			Location:     decodeLocation(isolate, w.Location),
			Locals:       decodeVariables(isolate, w.Locals, true),
			isolate:      isolate,
		}
		if w.ClassID != nil {
			f.ClassID = *w.ClassID
		}
		frames = append(frames, f)
	}
	return frames
}

func decodeClass(isolate *Isolate, classID int, w wireClass) *Class {
	return &Class{
		ClassID:      classID,
		Name:         w.Name,
		SuperclassID: w.SuperclassID,
		LibraryID:    w.LibraryID,
		Fields:       decodeVariables(isolate, w.Fields, false),
	}
}

func decodeLibrary(isolate *Isolate, libraryID int, w wireLibrary) *Library {
	lib := &Library{
		LibraryID: libraryID,
		URL:       VMURLToClient(w.URL),
		Globals:   decodeVariables(isolate, w.Globals, false),
	}
	for _, imp := range w.Imports {
		lib.ImportedLibraryIDs = append(lib.ImportedLibraryIDs, imp.LibraryID)
	}
	sortVariables(lib.Globals)
	return lib
}

func decodeObject(isolate *Isolate, objectID int, w wireObject) *Object {
	return &Object{
		ObjectID: objectID,
		ClassID:  w.ClassID,
		Fields:   decodeVariables(isolate, w.Fields, false),
		isolate:  isolate,
	}
}

// decodeLineNumberTable reads rows of the form
// [line, tokenOffset, column, tokenOffset, column, ...].
func decodeLineNumberTable(libraryID int, url string, w wireLineNumberTable) *LineNumberTable {
	t := &LineNumberTable{LibraryID: libraryID, URL: url, lines: make(map[int]int)}
	for _, row := range w.Lines {
		if len(row) == 0 {
			continue
		}
		line := row[0]
		for i := 1; i < len(row); i += 2 {
			t.lines[row[i]] = line
		}
	}
	return t
}

func decodeLibraryRefs(w wireLibraries) []LibraryRef {
	refs := make([]LibraryRef, 0, len(w.Libraries))
	for _, l := range w.Libraries {
		refs = append(refs, LibraryRef{ID: l.ID, URL: VMURLToClient(l.URL)})
	}
	return refs
}
