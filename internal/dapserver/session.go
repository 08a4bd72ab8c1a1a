package dapserver

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"

	"github.com/ctagard/vmdebug-mcp/internal/errors"
	"github.com/ctagard/vmdebug-mcp/internal/vm"
)

const requestTimeout = 30 * time.Second

// Exception breakpoint filters offered to the client.
const (
	filterAll       = "all"
	filterUnhandled = "unhandled"
)

type attachArgs struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// scope is the target of a variables reference.
type scope struct {
	isolate   *vm.Isolate
	variables []*vm.Variable
	object    *vm.Value
}

type sourceRef struct {
	isolate   *vm.Isolate
	libraryID int
	url       string
}

// clientSession serves one DAP client. It is also a vm.Listener on the
// connection it attached to, translating debugger events into DAP events.
type clientSession struct {
	vm.BaseListener

	server *Server
	conn   net.Conn
	reader *bufio.Reader
	log    *logrus.Entry

	sendMu sync.Mutex
	writer *bufio.Writer

	mu          sync.Mutex
	session     *vm.Session
	breakpoints map[string][]*vm.Breakpoint // client url -> breakpoints set by the client

	frameHandles    *handlesMap[*vm.CallFrame]
	variableHandles *handlesMap[*scope]
	sourceHandles   *handlesMap[sourceRef]
}

func newClientSession(s *Server, conn net.Conn) *clientSession {
	return &clientSession{
		server:          s,
		conn:            conn,
		reader:          bufio.NewReader(conn),
		writer:          bufio.NewWriter(conn),
		log:             s.log.WithField("client", conn.RemoteAddr().String()),
		breakpoints:     make(map[string][]*vm.Breakpoint),
		frameHandles:    newHandlesMap[*vm.CallFrame](),
		variableHandles: newHandlesMap[*scope](),
		sourceHandles:   newHandlesMap[sourceRef](),
	}
}

// serve reads requests until the client goes away or ctx is done.
// Requests are handled in arrival order.
func (cs *clientSession) serve(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() { cs.conn.Close() })
	defer stop()
	defer cs.close()

	for {
		request, err := dap.ReadProtocolMessage(cs.reader)
		if err != nil {
			var fieldErr *dap.DecodeProtocolMessageFieldError
			if stderrors.As(err, &fieldErr) {
				cs.log.Infof("unsupported DAP message: %v", err)
				cs.send(newErrorResponse(fieldErr.Seq, fieldErr.FieldValue, err.Error()))
				continue
			}
			if err != io.EOF && ctx.Err() == nil {
				cs.log.Infof("DAP read error: %v", err)
			}
			return
		}
		cs.log.Debugf("<- %#v", request)
		if done := cs.handleRequest(ctx, request); done {
			return
		}
	}
}

func (cs *clientSession) close() {
	cs.detach()
	cs.conn.Close()
}

// detach ends the VM session the client attached to, if any.
func (cs *clientSession) detach() {
	cs.mu.Lock()
	session := cs.session
	cs.session = nil
	cs.mu.Unlock()
	if session != nil {
		session.Conn.RemoveListener(cs)
		_ = cs.server.sessions.TerminateSession(session.ID)
	}
}

func (cs *clientSession) send(message dap.Message) {
	cs.sendMu.Lock()
	defer cs.sendMu.Unlock()
	cs.log.Debugf("-> %#v", message)
	if err := dap.WriteProtocolMessage(cs.writer, message); err != nil {
		cs.log.Infof("DAP write error: %v", err)
		return
	}
	if err := cs.writer.Flush(); err != nil {
		cs.log.Infof("DAP write error: %v", err)
	}
}

// handleRequest dispatches one request. It returns true after disconnect.
func (cs *clientSession) handleRequest(ctx context.Context, request dap.Message) bool {
	defer func() {
		if ierr := recover(); ierr != nil {
			seq, command := requestOf(request)
			cs.log.Errorf("panic handling %s: %v", command, ierr)
			cs.send(newErrorResponse(seq, command, fmt.Sprintf("internal error: %v", ierr)))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	switch request := request.(type) {
	case *dap.InitializeRequest:
		cs.onInitializeRequest(request)
	case *dap.AttachRequest:
		cs.onAttachRequest(ctx, request)
	case *dap.ConfigurationDoneRequest:
		response := &dap.ConfigurationDoneResponse{}
		response.Response = *newResponse(request.Seq, request.Command)
		cs.send(response)
	case *dap.DisconnectRequest:
		cs.onDisconnectRequest(request)
		return true
	default:
		session, ok := cs.attached()
		if !ok {
			seq, command := requestOf(request)
			cs.send(newErrorResponse(seq, command, "not attached to a VM; send an attach request first"))
			return false
		}
		cs.dispatchAttached(ctx, session, request)
	}
	return false
}

func (cs *clientSession) dispatchAttached(ctx context.Context, session *vm.Session, request dap.Message) {
	switch request := request.(type) {
	case *dap.SetBreakpointsRequest:
		cs.onSetBreakpointsRequest(ctx, session, request)
	case *dap.SetExceptionBreakpointsRequest:
		cs.onSetExceptionBreakpointsRequest(ctx, session, request)
	case *dap.ThreadsRequest:
		cs.onThreadsRequest(session, request)
	case *dap.StackTraceRequest:
		cs.onStackTraceRequest(ctx, session, request)
	case *dap.ScopesRequest:
		cs.onScopesRequest(ctx, session, request)
	case *dap.VariablesRequest:
		cs.onVariablesRequest(ctx, session, request)
	case *dap.EvaluateRequest:
		cs.onEvaluateRequest(ctx, session, request)
	case *dap.ContinueRequest:
		cs.onContinueRequest(session, request)
	case *dap.NextRequest:
		cs.onStepRequest(session, request.Seq, request.Command, request.Arguments.ThreadId, session.Conn.StepOver, &dap.NextResponse{})
	case *dap.StepInRequest:
		cs.onStepRequest(session, request.Seq, request.Command, request.Arguments.ThreadId, session.Conn.StepInto, &dap.StepInResponse{})
	case *dap.StepOutRequest:
		cs.onStepRequest(session, request.Seq, request.Command, request.Arguments.ThreadId, session.Conn.StepOut, &dap.StepOutResponse{})
	case *dap.PauseRequest:
		cs.onPauseRequest(session, request)
	case *dap.SourceRequest:
		cs.onSourceRequest(ctx, session, request)
	default:
		seq, command := requestOf(request)
		cs.send(newErrorResponse(seq, command, fmt.Sprintf("%s is not supported", command)))
	}
}

func (cs *clientSession) attached() (*vm.Session, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.session, cs.session != nil
}

func (cs *clientSession) onInitializeRequest(request *dap.InitializeRequest) {
	response := &dap.InitializeResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.SupportsConfigurationDoneRequest = true
	response.Body.SupportsEvaluateForHovers = true
	response.Body.ExceptionBreakpointFilters = []dap.ExceptionBreakpointsFilter{
		{Filter: filterAll, Label: "All Exceptions"},
		{Filter: filterUnhandled, Label: "Uncaught Exceptions", Default: true},
	}
	cs.send(response)
}

func (cs *clientSession) onAttachRequest(ctx context.Context, request *dap.AttachRequest) {
	if _, ok := cs.attached(); ok {
		cs.send(newErrorResponse(request.Seq, request.Command, "already attached"))
		return
	}

	cfg := cs.server.config
	args := attachArgs{Host: cfg.VM.Host, Port: cfg.VM.Port}
	if len(request.Arguments) > 0 {
		if err := json.Unmarshal(request.Arguments, &args); err != nil {
			cs.send(newErrorResponse(request.Seq, request.Command, fmt.Sprintf("invalid attach arguments: %v", err)))
			return
		}
	}
	if args.Port <= 0 || args.Port > 65535 {
		cs.send(newErrorResponse(request.Seq, request.Command,
			errors.InvalidParameter("port", args.Port, "a TCP port between 1 and 65535").Error()))
		return
	}
	address := net.JoinHostPort(args.Host, strconv.Itoa(args.Port))

	session, err := cs.server.sessions.Connect(ctx, address)
	if err != nil {
		cs.send(newErrorResponse(request.Seq, request.Command, errors.VMConnectFailed(address, err).Error()))
		return
	}
	cs.mu.Lock()
	cs.session = session
	cs.mu.Unlock()
	session.Conn.AddListener(cs)
	cs.log.Infof("attached to %s as session %s", address, session.ID)

	response := &dap.AttachResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	cs.send(response)
	cs.send(&dap.InitializedEvent{Event: *newEvent("initialized")})

	isolates, err := session.Conn.SyncIsolates(ctx)
	if err != nil {
		cs.log.Infof("could not list isolates of %s: %v", address, err)
		return
	}
	for _, isolate := range isolates {
		cs.IsolateCreated(isolate)
	}
}

func (cs *clientSession) onDisconnectRequest(request *dap.DisconnectRequest) {
	cs.detach()
	response := &dap.DisconnectResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	cs.send(response)
}

func (cs *clientSession) onSetBreakpointsRequest(ctx context.Context, session *vm.Session, request *dap.SetBreakpointsRequest) {
	conn := session.Conn
	url := clientURL(request.Arguments.Source.Path)
	if url == "" {
		cs.send(newErrorResponse(request.Seq, request.Command, "source path is required"))
		return
	}

	isolate, ok := defaultIsolate(conn)
	if !ok {
		cs.send(newErrorResponse(request.Seq, request.Command, "the VM has no isolate yet"))
		return
	}

	interrupt, err := conn.InterruptConditionally(isolate)
	if err != nil {
		cs.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	defer func() {
		if err := interrupt.Resume(); err != nil {
			cs.log.Infof("could not resume %s after setting breakpoints: %v", isolate, err)
		}
	}()

	cs.mu.Lock()
	previous := cs.breakpoints[url]
	delete(cs.breakpoints, url)
	cs.mu.Unlock()
	for _, bp := range previous {
		if err := conn.RemoveBreakpoint(bp.Isolate(), bp); err != nil {
			cs.log.Infof("could not remove breakpoint %d: %v", bp.ID(), err)
		}
	}

	response := &dap.SetBreakpointsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Breakpoints = make([]dap.Breakpoint, len(request.Arguments.Breakpoints))
	var set []*vm.Breakpoint
	for i, want := range request.Arguments.Breakpoints {
		result, err := vm.Await(ctx, func(cb func(vm.Result[*vm.Breakpoint])) error {
			return conn.SetBreakpoint(isolate, url, want.Line, cb)
		})
		if err == nil {
			err = result.Err()
		}
		if err != nil {
			response.Body.Breakpoints[i] = dap.Breakpoint{Line: want.Line, Message: err.Error()}
			continue
		}
		set = append(set, result.Value)
		response.Body.Breakpoints[i] = cs.toBreakpoint(ctx, result.Value, want.Line)
	}

	cs.mu.Lock()
	cs.breakpoints[url] = set
	cs.mu.Unlock()
	cs.send(response)
}

func (cs *clientSession) onSetExceptionBreakpointsRequest(ctx context.Context, session *vm.Session, request *dap.SetExceptionBreakpointsRequest) {
	mode := vm.PauseOnNoExceptions
	for _, filter := range request.Arguments.Filters {
		switch filter {
		case filterAll:
			mode = vm.PauseOnAllExceptions
		case filterUnhandled:
			if mode != vm.PauseOnAllExceptions {
				mode = vm.PauseOnUnhandledExceptions
			}
		}
	}

	for _, isolate := range session.Conn.Isolates() {
		if err := session.Conn.SetPauseOnExceptionSync(ctx, isolate, mode); err != nil {
			cs.send(newErrorResponse(request.Seq, request.Command, err.Error()))
			return
		}
	}

	response := &dap.SetExceptionBreakpointsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	cs.send(response)
}

func (cs *clientSession) onThreadsRequest(session *vm.Session, request *dap.ThreadsRequest) {
	isolates := session.Conn.Isolates()
	threads := make([]dap.Thread, len(isolates))
	for i, isolate := range isolates {
		threads[i] = dap.Thread{Id: isolate.ID(), Name: threadName(isolate)}
	}
	response := &dap.ThreadsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Threads = threads
	cs.send(response)
}

func (cs *clientSession) onStackTraceRequest(ctx context.Context, session *vm.Session, request *dap.StackTraceRequest) {
	isolate, err := pausedIsolate(session, request.Arguments.ThreadId)
	if err != nil {
		cs.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}

	var frames []*vm.CallFrame
	if ps, ok := session.PauseState(isolate.ID()); ok && ps.Frames != nil {
		frames = ps.Frames
	} else if frames, err = session.Conn.StackTraceSync(ctx, isolate); err != nil {
		cs.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}

	total := len(frames)
	start := min(max(request.Arguments.StartFrame, 0), total)
	end := total
	if levels := request.Arguments.Levels; levels > 0 && start+levels < total {
		end = start + levels
	}

	stackFrames := make([]dap.StackFrame, 0, end-start)
	for _, frame := range frames[start:end] {
		sf := dap.StackFrame{
			Id:   cs.frameHandles.create(frame),
			Name: frame.FunctionName,
		}
		if loc := frame.Location; loc != nil {
			sf.Line = session.Conn.LineNumber(ctx, loc)
			sf.Source = cs.source(isolate, loc.LibraryID, loc.URL)
		}
		stackFrames = append(stackFrames, sf)
	}

	response := &dap.StackTraceResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.StackFrames = stackFrames
	response.Body.TotalFrames = total
	cs.send(response)
}

func (cs *clientSession) onScopesRequest(ctx context.Context, session *vm.Session, request *dap.ScopesRequest) {
	frame, ok := cs.frameHandles.get(request.Arguments.FrameId)
	if !ok {
		cs.send(newErrorResponse(request.Seq, request.Command, fmt.Sprintf("unknown frame id %d", request.Arguments.FrameId)))
		return
	}
	isolate := frame.Isolate()

	scopes := []dap.Scope{{
		Name:               "Locals",
		PresentationHint:   "locals",
		VariablesReference: cs.variableHandles.create(&scope{isolate: isolate, variables: frame.Locals}),
	}}
	if library, err := session.Conn.LibraryInfo(ctx, isolate, frame.LibraryID); err == nil && len(library.Globals) > 0 {
		scopes = append(scopes, dap.Scope{
			Name:               "Globals",
			VariablesReference: cs.variableHandles.create(&scope{isolate: isolate, variables: library.Globals}),
			Expensive:          true,
		})
	}

	response := &dap.ScopesResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Scopes = scopes
	cs.send(response)
}

func (cs *clientSession) onVariablesRequest(ctx context.Context, session *vm.Session, request *dap.VariablesRequest) {
	ref, ok := cs.variableHandles.get(request.Arguments.VariablesReference)
	if !ok {
		cs.send(newErrorResponse(request.Seq, request.Command,
			fmt.Sprintf("unknown variables reference %d", request.Arguments.VariablesReference)))
		return
	}
	conn := session.Conn

	variables := ref.variables
	if value := ref.object; value != nil {
		if value.IsList() {
			variables = conn.ListElements(value)
		} else {
			obj, err := vm.Await(ctx, func(cb func(vm.Result[*vm.Object])) error {
				return conn.GetObjectProperties(ref.isolate, value.ObjectID, cb)
			})
			if err == nil {
				err = obj.Err()
			}
			if err != nil {
				cs.send(newErrorResponse(request.Seq, request.Command, err.Error()))
				return
			}
			variables = obj.Value.Fields
		}
	}

	out := make([]dap.Variable, 0, len(variables))
	for _, v := range variables {
		value, err := v.Value(ctx)
		if err != nil {
			out = append(out, dap.Variable{Name: v.Name, Value: fmt.Sprintf("<error: %v>", err)})
			continue
		}
		out = append(out, cs.toVariable(ref.isolate, v.Name, value))
	}

	response := &dap.VariablesResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Variables = out
	cs.send(response)
}

func (cs *clientSession) onEvaluateRequest(ctx context.Context, session *vm.Session, request *dap.EvaluateRequest) {
	conn := session.Conn
	expression := request.Arguments.Expression

	frame, ok := cs.frameHandles.get(request.Arguments.FrameId)
	if !ok {
		isolate, found := firstPaused(conn)
		if !found {
			cs.send(newErrorResponse(request.Seq, request.Command, "no isolate is paused"))
			return
		}
		frames, err := conn.StackTraceSync(ctx, isolate)
		if err != nil || len(frames) == 0 {
			cs.send(newErrorResponse(request.Seq, request.Command, fmt.Sprintf("no frame to evaluate in: %v", err)))
			return
		}
		frame = frames[0]
	}
	isolate := frame.Isolate()

	value, err := vm.EvaluateSync(ctx, func(cb func(vm.Result[*vm.Value])) error {
		return conn.EvaluateOnCallFrame(isolate, frame, expression, cb)
	})
	if err != nil {
		cs.send(newErrorResponse(request.Seq, request.Command, errors.EvaluationFailed(expression, err).Error()))
		return
	}

	v := cs.toVariable(isolate, expression, value)
	response := &dap.EvaluateResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Result = v.Value
	response.Body.Type = v.Type
	response.Body.VariablesReference = v.VariablesReference
	response.Body.IndexedVariables = v.IndexedVariables
	cs.send(response)
}

func (cs *clientSession) onContinueRequest(session *vm.Session, request *dap.ContinueRequest) {
	isolate, err := pausedIsolate(session, request.Arguments.ThreadId)
	if err != nil {
		cs.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	if err := session.Conn.Resume(isolate); err != nil {
		cs.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.ContinueResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	cs.send(response)
}

func (cs *clientSession) onStepRequest(session *vm.Session, seq int, command string, threadID int,
	step func(*vm.Isolate) error, response dap.ResponseMessage) {
	isolate, err := pausedIsolate(session, threadID)
	if err != nil {
		cs.send(newErrorResponse(seq, command, err.Error()))
		return
	}
	if err := step(isolate); err != nil {
		cs.send(newErrorResponse(seq, command, errors.StepFailed(command, err).Error()))
		return
	}
	*response.GetResponse() = *newResponse(seq, command)
	cs.send(response)
}

func (cs *clientSession) onPauseRequest(session *vm.Session, request *dap.PauseRequest) {
	isolate, ok := session.Conn.Isolate(request.Arguments.ThreadId)
	if !ok {
		cs.send(newErrorResponse(request.Seq, request.Command, errors.IsolateNotFound(request.Arguments.ThreadId).Error()))
		return
	}
	if !isolate.IsPaused() {
		if err := session.Conn.Interrupt(isolate); err != nil {
			cs.send(newErrorResponse(request.Seq, request.Command, err.Error()))
			return
		}
	}
	response := &dap.PauseResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	cs.send(response)
}

func (cs *clientSession) onSourceRequest(ctx context.Context, session *vm.Session, request *dap.SourceRequest) {
	handle := request.Arguments.SourceReference
	if handle == 0 && request.Arguments.Source != nil {
		handle = request.Arguments.Source.SourceReference
	}
	ref, ok := cs.sourceHandles.get(handle)
	if !ok {
		cs.send(newErrorResponse(request.Seq, request.Command, fmt.Sprintf("unknown source reference %d", handle)))
		return
	}

	text, err := session.Conn.ScriptSource(ctx, ref.isolate, ref.libraryID, ref.url)
	if err != nil {
		cs.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.SourceResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Content = text
	cs.send(response)
}

// Listener events

func (cs *clientSession) ConnectionClosed(*vm.Connection) {
	cs.send(&dap.TerminatedEvent{Event: *newEvent("terminated")})
}

func (cs *clientSession) DebuggerPaused(reason vm.PausedReason, isolate *vm.Isolate, _ []*vm.CallFrame, exception *vm.Value, wasStepping bool) {
	e := &dap.StoppedEvent{Event: *newEvent("stopped")}
	e.Body.ThreadId = isolate.ID()
	switch {
	case reason == vm.PausedException:
		e.Body.Reason = "exception"
		if exception != nil {
			e.Body.Text = exception.String()
		}
	case reason == vm.PausedInterrupted:
		e.Body.Reason = "pause"
	case wasStepping:
		e.Body.Reason = "step"
	default:
		e.Body.Reason = "breakpoint"
	}
	cs.send(e)
}

func (cs *clientSession) DebuggerResumed(isolate *vm.Isolate) {
	cs.frameHandles.reset()
	cs.variableHandles.reset()
	e := &dap.ContinuedEvent{Event: *newEvent("continued")}
	e.Body.ThreadId = isolate.ID()
	cs.send(e)
}

func (cs *clientSession) BreakpointResolved(isolate *vm.Isolate, bp *vm.Breakpoint) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	e := &dap.BreakpointEvent{Event: *newEvent("breakpoint")}
	e.Body.Reason = "changed"
	e.Body.Breakpoint = cs.toBreakpoint(ctx, bp, 0)
	cs.send(e)
}

func (cs *clientSession) IsolateCreated(isolate *vm.Isolate) {
	e := &dap.ThreadEvent{Event: *newEvent("thread")}
	e.Body.Reason = "started"
	e.Body.ThreadId = isolate.ID()
	cs.send(e)
}

func (cs *clientSession) IsolateShutdown(isolate *vm.Isolate) {
	e := &dap.ThreadEvent{Event: *newEvent("thread")}
	e.Body.Reason = "exited"
	e.Body.ThreadId = isolate.ID()
	cs.send(e)
}

// Conversions

func (cs *clientSession) toVariable(isolate *vm.Isolate, name string, value *vm.Value) dap.Variable {
	if value == nil {
		return dap.Variable{Name: name, Value: "<unevaluated>"}
	}
	v := dap.Variable{
		Name:  name,
		Value: value.String(),
		Type:  value.Kind.String(),
	}
	switch {
	case value.IsList():
		v.Value = fmt.Sprintf("List (%d)", value.Length)
		v.IndexedVariables = value.Length
		v.VariablesReference = cs.variableHandles.create(&scope{isolate: isolate, object: value})
	case value.IsObject() && !value.IsNull():
		if isolate != nil {
			if name := isolate.ClassName(value.ClassID); name != "" {
				v.Type = name
			}
		}
		v.VariablesReference = cs.variableHandles.create(&scope{isolate: isolate, object: value})
	}
	return v
}

func (cs *clientSession) toBreakpoint(ctx context.Context, bp *vm.Breakpoint, requestedLine int) dap.Breakpoint {
	out := dap.Breakpoint{Id: bp.ID(), Line: requestedLine}
	loc := bp.Location()
	if loc == nil {
		return out
	}
	out.Verified = true
	session, ok := cs.attached()
	if !ok {
		return out
	}
	if line := session.Conn.LineNumber(ctx, loc); line > 0 {
		out.Line = line
	}
	out.Source = cs.source(bp.Isolate(), loc.LibraryID, loc.URL)
	return out
}

// source describes a script. Scripts on disk are referenced by path, the
// others by a source reference the client fetches with a source request.
func (cs *clientSession) source(isolate *vm.Isolate, libraryID int, url string) *dap.Source {
	if p, ok := strings.CutPrefix(url, "file:"); ok {
		return &dap.Source{Name: path.Base(p), Path: p}
	}
	return &dap.Source{
		Name:            url,
		SourceReference: cs.sourceHandles.create(sourceRef{isolate: isolate, libraryID: libraryID, url: url}),
	}
}

// clientURL turns a source path into the client form of a script url.
func clientURL(p string) string {
	switch {
	case p == "":
		return ""
	case strings.HasPrefix(p, "/"):
		return "file:" + p
	default:
		return p
	}
}

func threadName(isolate *vm.Isolate) string {
	return "isolate " + strconv.Itoa(isolate.ID())
}

func defaultIsolate(conn *vm.Connection) (*vm.Isolate, bool) {
	if isolate, ok := firstPaused(conn); ok {
		return isolate, true
	}
	isolates := conn.Isolates()
	if len(isolates) == 0 {
		return nil, false
	}
	return isolates[0], true
}

func firstPaused(conn *vm.Connection) (*vm.Isolate, bool) {
	for _, isolate := range conn.Isolates() {
		if isolate.IsPaused() {
			return isolate, true
		}
	}
	return nil, false
}

func pausedIsolate(session *vm.Session, threadID int) (*vm.Isolate, error) {
	isolate, ok := session.Conn.Isolate(threadID)
	if !ok {
		return nil, errors.IsolateNotFound(threadID)
	}
	if !isolate.IsPaused() {
		return nil, fmt.Errorf("thread %d is not paused", threadID)
	}
	return isolate, nil
}

func requestOf(message dap.Message) (int, string) {
	if r, ok := message.(dap.RequestMessage); ok {
		req := r.GetRequest()
		return req.Seq, req.Command
	}
	return message.GetSeq(), ""
}

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "event",
		},
		Event: event,
	}
}

func newResponse(requestSeq int, command string) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "response",
		},
		Command:    command,
		RequestSeq: requestSeq,
		Success:    true,
	}
}

func newErrorResponse(requestSeq int, command string, message string) *dap.ErrorResponse {
	er := &dap.ErrorResponse{}
	er.Response = *newResponse(requestSeq, command)
	er.Success = false
	er.Message = message
	er.Body.Error = &dap.ErrorMessage{Id: 1, Format: message}
	return er
}
