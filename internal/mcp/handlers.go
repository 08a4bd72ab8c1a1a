package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/ctagard/vmdebug-mcp/internal/errors"
	"github.com/ctagard/vmdebug-mcp/internal/vm"
	"github.com/ctagard/vmdebug-mcp/pkg/types"
)

const (
	requestTimeout       = 30 * time.Second
	defaultPauseTimeout  = 5 * time.Second
	defaultSnapshotDepth = 20
	maxListPreview       = 20
	maxEventsReported    = 50
)

// Session Management Handlers

func (s *Server) handleVMConnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	host := s.config.VM.Host
	if h, err := request.RequireString("host"); err == nil && h != "" {
		host = h
	}
	port := s.config.VM.Port
	if p, ok := intArg(request, "port"); ok {
		port = p
	}
	if port <= 0 || port > 65535 {
		return toolError(errors.InvalidParameter("port", port, "a TCP port between 1 and 65535"))
	}
	address := net.JoinHostPort(host, strconv.Itoa(port))

	session, err := s.sessionManager.Connect(ctx, address)
	if err != nil {
		if stderrors.Is(err, vm.ErrSessionLimit) {
			return toolError(errors.SessionLimitReached(s.config.MaxSessions))
		}
		return toolError(errors.VMConnectFailed(address, err))
	}
	s.log.Debugf("session %s connected to %s", session.ID, address)

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	result := map[string]interface{}{
		"sessionId": session.ID,
		"status":    "connected",
		"address":   address,
	}
	if isolates, err := session.Conn.SyncIsolates(ctx); err == nil {
		result["isolates"] = isolateInfos(session, isolates)
	} else {
		s.log.Infof("could not list isolates of %s: %v", address, err)
	}
	return jsonResult(result)
}

func (s *Server) handleVMLaunch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.config.CanSpawn() {
		return toolError(errors.PermissionDenied("spawn", string(s.config.Mode)))
	}

	script, err := request.RequireString("script")
	if err != nil {
		return toolError(errors.MissingParameter("script", "Provide the path of the script to run, e.g. bin/main.dart."))
	}

	var args []string
	if argsJSON, err := request.RequireString("args"); err == nil && argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return toolError(errors.InvalidParameter("args", argsJSON, `a JSON array of strings, e.g. ["--verbose"]`))
		}
	}

	session, err := s.launcher.Launch(ctx, script, args)
	if err != nil {
		if stderrors.Is(err, vm.ErrSessionLimit) {
			return toolError(errors.SessionLimitReached(s.config.MaxSessions))
		}
		return toolError(errors.VMSpawnFailed(script, err))
	}

	info := session.GetInfo()
	return jsonResult(map[string]interface{}{
		"sessionId": info.SessionID,
		"status":    "launched",
		"address":   info.Address,
		"pid":       info.PID,
		"program":   script,
	})
}

func (s *Server) handleVMDisconnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("sessionId")
	if err != nil {
		return toolError(errors.MissingParameter("sessionId", "Provide the sessionId returned from vm_connect or vm_launch."))
	}

	if err := s.sessionManager.TerminateSession(sessionID); err != nil {
		return toolError(errors.SessionNotFound(sessionID))
	}

	return jsonResult(map[string]interface{}{
		"sessionId": sessionID,
		"status":    "disconnected",
	})
}

func (s *Server) handleVMListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions := s.sessionManager.ListSessions()

	infos := make([]types.SessionInfo, len(sessions))
	for i, session := range sessions {
		infos[i] = session.GetInfo()
	}

	return jsonResult(map[string]interface{}{
		"sessions": infos,
	})
}

// Inspection Handlers

func (s *Server) handleVMIsolates(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := s.getSession(request)
	if err != nil {
		return toolError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	isolates, err := session.Conn.SyncIsolates(ctx)
	if err != nil {
		return toolError(vmFailure(err, func(err error) *errors.DebugError {
			return errors.VMProtocolError("getIsolateIds", err)
		}))
	}

	events := session.Events()
	if len(events) > maxEventsReported {
		events = events[len(events)-maxEventsReported:]
	}

	return jsonResult(map[string]interface{}{
		"sessionId": session.ID,
		"status":    session.Status(),
		"isolates":  isolateInfos(session, isolates),
		"events":    events,
	})
}

func (s *Server) handleVMSnapshot(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := s.getSession(request)
	if err != nil {
		return toolError(err)
	}
	conn := session.Conn

	depth := defaultSnapshotDepth
	if d, ok := intArg(request, "maxStackDepth"); ok && d > 0 {
		depth = d
	}
	locals := request.GetBool("includeLocals", true)

	isolates := conn.Isolates()
	if id, ok := intArg(request, "isolateId"); ok {
		isolate, found := conn.Isolate(id)
		if !found {
			return toolError(errors.IsolateNotFound(id))
		}
		isolates = []*vm.Isolate{isolate}
	}

	snapshot := types.DebugSnapshot{
		SessionID: session.ID,
		Status:    session.Status(),
		Isolates:  isolateInfos(session, isolates),
		Stacks:    make(map[int][]types.StackFrame),
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, isolate := range isolates {
		if !isolate.IsPaused() {
			continue
		}
		g.Go(func() error {
			frames, err := conn.StackTraceSync(gctx, isolate)
			if err != nil {
				return fmt.Errorf("stack trace of %s: %w", isolate, err)
			}
			stack := toStackFrames(gctx, conn, frames, depth, locals)
			mu.Lock()
			snapshot.Stacks[isolate.ID()] = stack
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return toolError(vmFailure(err, func(err error) *errors.DebugError {
			return errors.VMProtocolError("getStackTrace", err)
		}))
	}

	for _, isolate := range isolates {
		if ps, ok := session.PauseState(isolate.ID()); ok && ps.Exception != nil {
			exc := toVariable("exception", ps.Exception)
			snapshot.Exception = &exc
			break
		}
	}

	return jsonResult(snapshot)
}

func (s *Server) handleVMEvaluate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.config.CanEvaluate() {
		return toolError(errors.PermissionDenied("evaluate", string(s.config.Mode)))
	}

	session, err := s.getSession(request)
	if err != nil {
		return toolError(err)
	}
	conn := session.Conn

	expression, err := request.RequireString("expression")
	if err != nil {
		return toolError(errors.MissingParameter("expression", "Provide the expression to evaluate, e.g. 'items.length'."))
	}

	isolate, err := s.getIsolate(session, request, "evaluate")
	if err != nil {
		return toolError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	target := "frame"
	if t, err := request.RequireString("target"); err == nil && t != "" {
		target = t
	}

	var start func(cb func(vm.Result[*vm.Value])) error
	switch target {
	case "frame":
		frames, err := conn.StackTraceSync(ctx, isolate)
		if err != nil {
			return toolError(vmFailure(err, func(err error) *errors.DebugError {
				return errors.EvaluationFailed(expression, err)
			}))
		}
		index, _ := intArg(request, "frameIndex")
		if index < 0 || index >= len(frames) {
			return toolError(errors.InvalidParameter("frameIndex", index, fmt.Sprintf("an index between 0 and %d", len(frames)-1)))
		}
		frame := frames[index]
		start = func(cb func(vm.Result[*vm.Value])) error {
			return conn.EvaluateOnCallFrame(isolate, frame, expression, cb)
		}

	case "object":
		id, ok := intArg(request, "targetId")
		if !ok {
			return toolError(errors.MissingParameter("targetId", "Provide the objectId of the receiver, as reported by vm_snapshot."))
		}
		receiver := &vm.Value{Kind: vm.KindObject, ObjectID: id}
		start = func(cb func(vm.Result[*vm.Value])) error {
			return conn.EvaluateObject(isolate, receiver, expression, cb)
		}

	case "class":
		id, ok := intArg(request, "targetId")
		if !ok {
			return toolError(errors.MissingParameter("targetId", "Provide the classId, as reported by vm_snapshot."))
		}
		class, err := conn.ClassInfo(ctx, isolate, id)
		if err != nil {
			return toolError(vmFailure(err, func(err error) *errors.DebugError {
				return errors.EvaluationFailed(expression, err)
			}))
		}
		start = func(cb func(vm.Result[*vm.Value])) error {
			return conn.EvaluateClass(isolate, class, expression, cb)
		}

	case "library":
		id, ok := intArg(request, "targetId")
		if !ok {
			return toolError(errors.MissingParameter("targetId", "Provide the libraryId, as reported by vm_libraries."))
		}
		library, err := conn.LibraryInfo(ctx, isolate, id)
		if err != nil {
			return toolError(vmFailure(err, func(err error) *errors.DebugError {
				return errors.EvaluationFailed(expression, err)
			}))
		}
		start = func(cb func(vm.Result[*vm.Value])) error {
			return conn.EvaluateLibrary(isolate, library, expression, cb)
		}

	default:
		return toolError(errors.InvalidParameter("target", target, "'frame', 'object', 'class' or 'library'"))
	}

	value, err := vm.EvaluateSync(ctx, start)
	if err != nil {
		return toolError(vmFailure(err, func(err error) *errors.DebugError {
			return errors.EvaluationFailed(expression, err)
		}))
	}

	result := toEvaluateResult(value)
	switch {
	case value.IsList():
		elements := conn.ListElements(value)
		if len(elements) > maxListPreview {
			elements = elements[:maxListPreview]
		}
		for _, el := range elements {
			v, err := el.Value(ctx)
			if err != nil {
				s.log.Infof("list element %s: %v", el.Name, err)
				break
			}
			result.Elements = append(result.Elements, toVariable(el.Name, v))
		}
	case value.IsObject() && !value.IsNull():
		desc, err := vm.EvaluateSync(ctx, func(cb func(vm.Result[*vm.Value])) error {
			return conn.CallToString(value, cb)
		})
		if err == nil {
			result.Description = desc.String()
		}
	}

	return jsonResult(map[string]interface{}{
		"expression": expression,
		"isolateId":  isolate.ID(),
		"target":     target,
		"result":     result,
	})
}

func (s *Server) handleVMSource(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := s.getSession(request)
	if err != nil {
		return toolError(err)
	}

	libraryID, ok := intArg(request, "libraryId")
	if !ok {
		return toolError(errors.MissingParameter("libraryId", "Provide the libraryId, as reported by vm_libraries or vm_snapshot."))
	}
	url, err := request.RequireString("url")
	if err != nil {
		return toolError(errors.MissingParameter("url", "Provide the script URL, as reported by vm_libraries or vm_snapshot."))
	}
	url = normalizeScriptURL(url)

	isolate, err := s.pickIsolate(session, request)
	if err != nil {
		return toolError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	source, err := session.Conn.ScriptSource(ctx, isolate, libraryID, url)
	if err != nil {
		return toolError(vmFailure(err, func(err error) *errors.DebugError {
			return errors.VMProtocolError("getScriptSource", err)
		}))
	}

	lines := strings.Split(source, "\n")
	startLine, endLine := 1, len(lines)
	if l, ok := intArg(request, "startLine"); ok && l > startLine {
		startLine = l
	}
	if l, ok := intArg(request, "endLine"); ok && l < endLine {
		endLine = l
	}
	text := ""
	if startLine <= endLine {
		text = strings.Join(lines[startLine-1:endLine], "\n")
	}

	return jsonResult(map[string]interface{}{
		"url":        url,
		"libraryId":  libraryID,
		"startLine":  startLine,
		"endLine":    endLine,
		"totalLines": len(lines),
		"source":     text,
	})
}

func (s *Server) handleVMLibraries(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := s.getSession(request)
	if err != nil {
		return toolError(err)
	}
	conn := session.Conn

	isolate, err := s.pickIsolate(session, request)
	if err != nil {
		return toolError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	failure := func(command string) func(error) *errors.DebugError {
		return func(err error) *errors.DebugError { return errors.VMProtocolError(command, err) }
	}

	libraryID, ok := intArg(request, "libraryId")
	if !ok {
		result, err := vm.Await(ctx, func(cb func(vm.Result[[]vm.LibraryRef])) error {
			return conn.GetLibraries(isolate, cb)
		})
		if err == nil {
			err = result.Err()
		}
		if err != nil {
			return toolError(vmFailure(err, failure("getLibraries")))
		}
		libraries := make([]types.Library, len(result.Value))
		for i, ref := range result.Value {
			libraries[i] = types.Library{ID: ref.ID, URL: ref.URL}
		}
		out := map[string]interface{}{
			"isolateId": isolate.ID(),
			"libraries": libraries,
		}
		if !isolate.IsPaused() {
			out["note"] = "libraries are only listed for paused isolates; use vm_pause first"
		}
		return jsonResult(out)
	}

	library, err := conn.LibraryInfo(ctx, isolate, libraryID)
	if err != nil {
		return toolError(vmFailure(err, failure("getLibraryProperties")))
	}
	scripts, err := vm.Await(ctx, func(cb func(vm.Result[[]string])) error {
		return conn.GetScriptURLs(isolate, libraryID, cb)
	})
	if err == nil {
		err = scripts.Err()
	}
	if err != nil {
		return toolError(vmFailure(err, failure("getScriptURLs")))
	}

	return jsonResult(map[string]interface{}{
		"isolateId": isolate.ID(),
		"library":   types.Library{ID: library.LibraryID, URL: library.URL},
		"imports":   library.ImportedLibraryIDs,
		"scripts":   scripts.Value,
		"globals":   toVariables(library.Globals),
	})
}

// Control Handlers

func (s *Server) handleVMBreakpoints(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := s.getSession(request)
	if err != nil {
		return toolError(err)
	}
	conn := session.Conn

	action, err := request.RequireString("action")
	if err != nil {
		return toolError(errors.MissingParameter("action", "Use 'set', 'remove' or 'list'."))
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	switch action {
	case "list":
		return jsonResult(map[string]interface{}{
			"breakpoints": breakpointInfos(ctx, conn, conn.Breakpoints()),
		})

	case "set":
		url, err := request.RequireString("url")
		if err != nil {
			return toolError(errors.MissingParameter("url", "Provide the script URL, e.g. file:/home/me/app/bin/main.dart."))
		}
		line, ok := intArg(request, "line")
		if !ok || line <= 0 {
			return toolError(errors.MissingParameter("line", "Provide the 1-based line of the breakpoint."))
		}
		url = normalizeScriptURL(url)

		isolate, err := s.pickIsolate(session, request)
		if err != nil {
			return toolError(err)
		}

		interrupt, err := conn.InterruptConditionally(isolate)
		if err != nil {
			return toolError(errors.BreakpointFailed(url, line, err.Error()))
		}
		defer func() {
			if err := interrupt.Resume(); err != nil {
				s.log.Infof("could not resume %s after setting breakpoint: %v", isolate, err)
			}
		}()

		result, err := vm.Await(ctx, func(cb func(vm.Result[*vm.Breakpoint])) error {
			return conn.SetBreakpoint(isolate, url, line, cb)
		})
		if err == nil {
			err = result.Err()
		}
		if err != nil {
			if stderrors.Is(err, vm.ErrConnectionTerminated) {
				return toolError(errors.VMConnectionTerminated(err))
			}
			return toolError(errors.BreakpointFailed(url, line, err.Error()))
		}

		return jsonResult(map[string]interface{}{
			"breakpoint":  toBreakpoint(ctx, conn, result.Value),
			"interrupted": interrupt.Resumed(),
		})

	case "remove":
		id, ok := intArg(request, "breakpointId")
		if !ok {
			return toolError(errors.MissingParameter("breakpointId", "Use vm_breakpoints with action=list to see breakpoint ids."))
		}
		bp, found := conn.Breakpoint(id)
		if !found {
			return toolError(errors.InvalidParameter("breakpointId", id, "an id listed by vm_breakpoints action=list"))
		}
		if err := conn.RemoveBreakpoint(bp.Isolate(), bp); err != nil {
			return toolError(vmFailure(err, func(err error) *errors.DebugError {
				return errors.VMProtocolError("removeBreakpoint", err)
			}))
		}
		return jsonResult(map[string]interface{}{
			"breakpointId": id,
			"status":       "removed",
		})

	default:
		return toolError(errors.InvalidParameter("action", action, "'set', 'remove' or 'list'"))
	}
}

func (s *Server) handleVMStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := s.getSession(request)
	if err != nil {
		return toolError(err)
	}
	conn := session.Conn

	stepType, err := request.RequireString("type")
	if err != nil {
		return toolError(errors.MissingParameter("type", "Use 'over', 'into' or 'out'."))
	}

	isolate, err := s.getIsolate(session, request, "step")
	if err != nil {
		return toolError(err)
	}

	switch stepType {
	case "over":
		err = conn.StepOver(isolate)
	case "into":
		err = conn.StepInto(isolate)
	case "out":
		err = conn.StepOut(isolate)
	default:
		return toolError(errors.InvalidParameter("type", stepType, "'over', 'into', or 'out'"))
	}
	if err != nil {
		return toolError(vmFailure(err, func(err error) *errors.DebugError {
			return errors.StepFailed(stepType, err)
		}))
	}

	return jsonResult(map[string]interface{}{
		"status":    "stepping",
		"type":      stepType,
		"isolateId": isolate.ID(),
	})
}

func (s *Server) handleVMResume(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := s.getSession(request)
	if err != nil {
		return toolError(err)
	}

	isolate, err := s.getIsolate(session, request, "resume")
	if err != nil {
		return toolError(err)
	}

	if err := session.Conn.Resume(isolate); err != nil {
		return toolError(vmFailure(err, func(err error) *errors.DebugError {
			return errors.StepFailed("resume", err)
		}))
	}

	return jsonResult(map[string]interface{}{
		"status":    "running",
		"isolateId": isolate.ID(),
	})
}

func (s *Server) handleVMPause(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := s.getSession(request)
	if err != nil {
		return toolError(err)
	}

	id, ok := intArg(request, "isolateId")
	if !ok {
		return toolError(errors.MissingParameter("isolateId", "Use vm_isolates to list the isolates of the session."))
	}
	isolate, found := session.Conn.Isolate(id)
	if !found {
		return toolError(errors.IsolateNotFound(id))
	}

	timeout := defaultPauseTimeout
	if ms, ok := intArg(request, "timeoutMs"); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	if !isolate.IsPaused() {
		if err := session.Conn.Interrupt(isolate); err != nil {
			return toolError(vmFailure(err, func(err error) *errors.DebugError {
				return errors.VMProtocolError("interrupt", err)
			}))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ps, err := session.WaitForPause(ctx, id)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return jsonResult(map[string]interface{}{
				"status":    "interrupt sent",
				"isolateId": id,
				"note":      "the isolate has not reported a pause yet; check again with vm_isolates",
			})
		}
		return toolError(vmFailure(err, func(err error) *errors.DebugError {
			return errors.VMProtocolError("interrupt", err)
		}))
	}

	out := map[string]interface{}{
		"status":    "paused",
		"isolateId": id,
		"reason":    ps.Reason.String(),
	}
	if len(ps.Frames) > 0 {
		out["location"] = toLocation(ctx, session.Conn, ps.Frames[0].Location)
		out["function"] = ps.Frames[0].FunctionName
	}
	return jsonResult(out)
}

func (s *Server) handleVMPauseOnException(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := s.getSession(request)
	if err != nil {
		return toolError(err)
	}

	modeStr, err := request.RequireString("mode")
	if err != nil {
		return toolError(errors.MissingParameter("mode", "Use 'all', 'unhandled' or 'none'."))
	}
	mode, ok := vm.ParseExceptionPauseMode(modeStr)
	if !ok {
		return toolError(errors.InvalidParameter("mode", modeStr, "'all', 'unhandled' or 'none'"))
	}

	isolate, err := s.pickIsolate(session, request)
	if err != nil {
		return toolError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if err := session.Conn.SetPauseOnExceptionSync(ctx, isolate, mode); err != nil {
		return toolError(vmFailure(err, func(err error) *errors.DebugError {
			return errors.VMProtocolError("setPauseOnException", err)
		}))
	}

	return jsonResult(map[string]interface{}{
		"isolateId": isolate.ID(),
		"mode":      string(mode),
	})
}

// Helper functions

func (s *Server) getSession(request mcp.CallToolRequest) (*vm.Session, error) {
	sessionID, err := request.RequireString("sessionId")
	if err != nil {
		return nil, errors.MissingParameter("sessionId", "Provide the sessionId returned from vm_connect or vm_launch. Use vm_list_sessions to see active sessions.")
	}

	session, err := s.sessionManager.GetSession(sessionID)
	if err != nil {
		return nil, errors.SessionNotFound(sessionID)
	}

	if !session.Conn.IsConnected() {
		return nil, errors.SessionNoConnection(sessionID)
	}

	return session, nil
}

// pickIsolate returns the isolate named by isolateId, or else the first
// paused isolate, or else the first known isolate.
func (s *Server) pickIsolate(session *vm.Session, request mcp.CallToolRequest) (*vm.Isolate, error) {
	conn := session.Conn
	if id, ok := intArg(request, "isolateId"); ok {
		isolate, found := conn.Isolate(id)
		if !found {
			return nil, errors.IsolateNotFound(id)
		}
		return isolate, nil
	}

	isolates := conn.Isolates()
	for _, isolate := range isolates {
		if isolate.IsPaused() {
			return isolate, nil
		}
	}
	if len(isolates) > 0 {
		return isolates[0], nil
	}
	return nil, errors.MissingParameter("isolateId", "No isolate is known yet. Use vm_isolates to list the isolates of the session.")
}

// getIsolate is pickIsolate for operations that need a paused isolate.
func (s *Server) getIsolate(session *vm.Session, request mcp.CallToolRequest, operation string) (*vm.Isolate, error) {
	isolate, err := s.pickIsolate(session, request)
	if err != nil {
		return nil, err
	}
	if !isolate.IsPaused() {
		return nil, errors.IsolateNotPaused(isolate.ID(), operation)
	}
	return isolate, nil
}

// vmFailure maps connection level failures to their own codes and hands
// everything else to fallback.
func vmFailure(err error, fallback func(error) *errors.DebugError) *errors.DebugError {
	return errors.FromError(err, func(err error) *errors.DebugError {
		if stderrors.Is(err, vm.ErrConnectionTerminated) || stderrors.Is(err, vm.ErrNotConnected) {
			return errors.VMConnectionTerminated(err)
		}
		return fallback(err)
	})
}

func intArg(request mcp.CallToolRequest, name string) (int, bool) {
	f, err := request.RequireFloat(name)
	if err != nil {
		return 0, false
	}
	return int(f), true
}

// normalizeScriptURL turns an absolute path into a file:/ URL.
func normalizeScriptURL(url string) string {
	if strings.HasPrefix(url, "/") {
		return "file:" + url
	}
	return url
}

func isolateInfos(session *vm.Session, isolates []*vm.Isolate) []types.IsolateInfo {
	infos := make([]types.IsolateInfo, len(isolates))
	for i, isolate := range isolates {
		infos[i] = toIsolateInfo(session, isolate)
	}
	return infos
}

func breakpointInfos(ctx context.Context, conn *vm.Connection, bps []*vm.Breakpoint) []types.Breakpoint {
	out := make([]types.Breakpoint, len(bps))
	for i, bp := range bps {
		out[i] = toBreakpoint(ctx, conn, bp)
	}
	return out
}

func toolError(err error) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(err.Error()), nil
}

func jsonResult(data interface{}) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
