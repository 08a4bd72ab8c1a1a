package vm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MaxStackDepth caps the number of call frames decoded from a stack trace.
const MaxStackDepth = 2000

// noIsolate is the isolate id used for commands not addressed to an isolate.
const noIsolate = -1

// Isolate is an independent execution context in the VM. Isolates are
// unique per id within a Connection, so pointer equality is id equality.
type Isolate struct {
	id int

	mu                     sync.Mutex
	paused                 bool
	temporarilyInterrupted bool
	firstBreak             bool
	classInfo              map[int]*Class
	libraryInfo            map[int]*Library

	// stepping state, see stepping.go
	stepping     bool
	stepCommand  string
	lastLocation *Location
}

func newIsolate(id int) *Isolate {
	return &Isolate{
		id:          id,
		firstBreak:  true,
		classInfo:   make(map[int]*Class),
		libraryInfo: make(map[int]*Library),
	}
}

// ID returns the VM assigned isolate id.
func (i *Isolate) ID() int {
	return i.id
}

// Equal reports whether both isolates have the same id.
func (i *Isolate) Equal(other *Isolate) bool {
	if i == nil || other == nil {
		return i == other
	}
	return i.id == other.id
}

// IsPaused reports whether the isolate is currently stopped.
func (i *Isolate) IsPaused() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.paused
}

func (i *Isolate) setPaused(paused bool) {
	i.mu.Lock()
	i.paused = paused
	i.mu.Unlock()
}

// IsTemporarilyInterrupted reports whether the isolate was paused by
// Connection.InterruptConditionally and has not been resumed since.
func (i *Isolate) IsTemporarilyInterrupted() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.temporarilyInterrupted
}

func (i *Isolate) setTemporarilyInterrupted(v bool) {
	i.mu.Lock()
	i.temporarilyInterrupted = v
	i.mu.Unlock()
}

// IsFirstBreak reports whether no pause has been surfaced for this isolate yet.
func (i *Isolate) IsFirstBreak() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.firstBreak
}

func (i *Isolate) clearFirstBreak() {
	i.mu.Lock()
	i.firstBreak = false
	i.mu.Unlock()
}

// ClassInfo returns cached class metadata.
func (i *Isolate) ClassInfo(classID int) (*Class, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	c, ok := i.classInfo[classID]
	return c, ok
}

func (i *Isolate) setClassInfo(classID int, c *Class) {
	i.mu.Lock()
	i.classInfo[classID] = c
	i.mu.Unlock()
}

// ClassName returns the cached name of a class, or "" if unknown.
func (i *Isolate) ClassName(classID int) string {
	if c, ok := i.ClassInfo(classID); ok {
		return c.Name
	}
	return ""
}

// LibraryInfo returns cached library metadata.
func (i *Isolate) LibraryInfo(libraryID int) (*Library, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	l, ok := i.libraryInfo[libraryID]
	return l, ok
}

func (i *Isolate) setLibraryInfo(libraryID int, l *Library) {
	i.mu.Lock()
	i.libraryInfo[libraryID] = l
	i.mu.Unlock()
}

// clearCaches drops all metadata; it cannot be trusted once the isolate runs.
func (i *Isolate) clearCaches() {
	i.mu.Lock()
	i.classInfo = make(map[int]*Class)
	i.libraryInfo = make(map[int]*Library)
	i.mu.Unlock()
}

func (i *Isolate) String() string {
	return fmt.Sprintf("isolate %d", i.id)
}

// Location is a position in VM code. URL is in the client form (file:/...).
type Location struct {
	LibraryID   int
	URL         string
	TokenOffset int

	isolate *Isolate
}

// Isolate returns the isolate the location was reported for.
func (l *Location) Isolate() *Isolate {
	return l.isolate
}

func (l *Location) String() string {
	return fmt.Sprintf("%s@%d", l.URL, l.TokenOffset)
}

// Breakpoint is a breakpoint tracked by the connection. The location is
// filled in or updated when the VM resolves it.
type Breakpoint struct {
	id      int
	isolate *Isolate

	mu       sync.Mutex
	location *Location
}

func newBreakpoint(isolate *Isolate, location *Location, id int) *Breakpoint {
	return &Breakpoint{id: id, isolate: isolate, location: location}
}

// ID returns the VM assigned breakpoint id.
func (b *Breakpoint) ID() int {
	return b.id
}

// Isolate returns the isolate the breakpoint was set in.
func (b *Breakpoint) Isolate() *Isolate {
	return b.isolate
}

// Location returns the resolved location, or nil if not yet resolved.
func (b *Breakpoint) Location() *Location {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.location
}

func (b *Breakpoint) updateLocation(location *Location) {
	b.mu.Lock()
	b.location = location
	b.mu.Unlock()
}

// LineNumberTable maps token offsets in one script to 1-based line numbers.
type LineNumberTable struct {
	LibraryID int
	URL       string

	lines map[int]int
}

// LineForLocation returns the line of location, or 0 if the offset is unknown.
func (t *LineNumberTable) LineForLocation(location *Location) int {
	if line, ok := t.lines[location.TokenOffset]; ok {
		return line
	}
	vmLog().Warnf("no line number for token offset %d in %s", location.TokenOffset, t.URL)
	return 0
}

// Len returns the number of token offsets in the table.
func (t *LineNumberTable) Len() int {
	return len(t.lines)
}

// CallFrame is one activation record of a paused isolate.
type CallFrame struct {
	FrameID      int
	FunctionName string
	ClassID      int
	LibraryID    int
	Location     *Location
	Locals       []*Variable

	isolate *Isolate
}

// Isolate returns the isolate the frame belongs to.
func (f *CallFrame) Isolate() *Isolate {
	return f.isolate
}

// HasClass reports whether the frame runs inside a class member.
func (f *CallFrame) HasClass() bool {
	return f.ClassID != -1
}

// Class is VM class metadata. ClassID is assigned by the requester.
type Class struct {
	ClassID      int
	Name         string
	SuperclassID int
	LibraryID    int
	Fields       []*Variable
}

// Library is VM library metadata. Globals are sorted by name.
type Library struct {
	LibraryID          int
	URL                string
	ImportedLibraryIDs []int
	Globals            []*Variable
}

// LibraryRef is an entry of the getLibraries reply.
type LibraryRef struct {
	ID  int
	URL string
}

// IsInternal reports whether the library is a private core library.
func (r LibraryRef) IsInternal() bool {
	return strings.HasPrefix(r.URL, "dart:_")
}

// IsAsync reports whether the library is the async core library.
func (r LibraryRef) IsAsync() bool {
	return r.URL == "dart:async"
}

// Object is the property set of a VM object.
type Object struct {
	ObjectID int
	ClassID  int
	Fields   []*Variable

	isolate *Isolate
}

// Isolate returns the isolate owning the object.
func (o *Object) Isolate() *Isolate {
	return o.isolate
}

// ValueKind discriminates the variants of Value.
type ValueKind int

const (
	KindUnknown ValueKind = iota
	KindString
	KindNumber
	KindBoolean
	KindObject
	KindList
	KindFunction
)

var valueKindNames = map[string]ValueKind{
	"string":   KindString,
	"number":   KindNumber,
	"boolean":  KindBoolean,
	"object":   KindObject,
	"list":     KindList,
	"function": KindFunction,
}

func parseValueKind(s string) ValueKind {
	return valueKindNames[s]
}

func (k ValueKind) String() string {
	for name, kind := range valueKindNames {
		if kind == k {
			return name
		}
	}
	return "unknown"
}

// Value is a VM value. ObjectID and ClassID are meaningful for objects and
// lists, Length for lists. For functions Text holds name and signature.
type Value struct {
	Kind     ValueKind
	ObjectID int
	ClassID  int
	Text     string
	HasText  bool
	Length   int

	isolate *Isolate
}

// Isolate returns the isolate owning the value.
func (v *Value) Isolate() *Isolate {
	return v.isolate
}

// IsNull reports whether the value is the null object.
func (v *Value) IsNull() bool {
	if v.ObjectID == 0 && !v.HasText {
		return true
	}
	return v.Kind == KindObject && (!v.HasText || v.Text == "null")
}

// IsPrimitive reports whether the value has no inspectable structure.
func (v *Value) IsPrimitive() bool {
	switch v.Kind {
	case KindString, KindNumber, KindBoolean:
		return true
	}
	return false
}

// IsList reports whether the value is a list.
func (v *Value) IsList() bool {
	return v.Kind == KindList
}

// IsObject reports whether the value is a non-list object.
func (v *Value) IsObject() bool {
	return v.Kind == KindObject
}

func (v *Value) String() string {
	if v.IsNull() {
		return "null"
	}
	return v.Text
}

// Variable is a named value. A variable built for a list element starts
// unevaluated; its value is fetched on first access and then kept.
type Variable struct {
	Name        string
	IsLocal     bool
	IsException bool

	mu      sync.Mutex
	value   *Value
	pending *elementRef
}

// elementRef is an unevaluated list element.
type elementRef struct {
	conn    *Connection
	isolate *Isolate
	listID  int
	index   int
}

// NewVariable returns an evaluated variable.
func NewVariable(name string, value *Value, isLocal bool) *Variable {
	return &Variable{Name: name, value: value, IsLocal: isLocal}
}

// Evaluated reports whether the value is available without a round trip.
func (v *Variable) Evaluated() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pending == nil
}

// Peek returns the value if it is already evaluated, or nil.
func (v *Variable) Peek() *Value {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value
}

// Value returns the variable's value. An unevaluated list element is
// fetched from the VM, blocking until it arrives or ctx is done.
func (v *Variable) Value(ctx context.Context) (*Value, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.pending == nil {
		return v.value, nil
	}
	ref := v.pending
	value, err := ref.conn.ListElementSync(ctx, ref.isolate, ref.listID, ref.index)
	if err != nil {
		return nil, err
	}
	v.value = value
	v.pending = nil
	return value, nil
}

func sortVariables(vars []*Variable) {
	sort.SliceStable(vars, func(a, b int) bool {
		return vars[a].Name < vars[b].Name
	})
}
