package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctagard/vmdebug-mcp/internal/config"
	"github.com/ctagard/vmdebug-mcp/internal/errors"
	"github.com/ctagard/vmdebug-mcp/internal/vm"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

// stubVM is a scripted VM debug server answering one client.
type stubVM struct {
	ln net.Listener

	mu       sync.Mutex
	conn     net.Conn
	commands []string
}

func startStubVM(t *testing.T) *stubVM {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &stubVM{ln: ln}
	go s.serve()
	t.Cleanup(func() {
		ln.Close()
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.mu.Unlock()
	})
	return s
}

func (s *stubVM) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *stubVM) serve() {
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	frames := vm.NewFrameReader(conn)
	for {
		frame, err := frames.Next()
		if err != nil {
			return
		}
		var req struct {
			ID      int            `json:"id"`
			Command string         `json:"command"`
			Params  map[string]any `json:"params"`
		}
		if json.Unmarshal(frame, &req) != nil {
			continue
		}
		s.mu.Lock()
		s.commands = append(s.commands, req.Command)
		s.mu.Unlock()

		result, errMsg := s.answer(req.Command, req.Params)
		msg := map[string]any{"id": req.ID}
		if errMsg != "" {
			msg["error"] = errMsg
		} else {
			msg["result"] = result
		}
		s.send(msg)
	}
}

func (s *stubVM) answer(command string, params map[string]any) (any, string) {
	switch command {
	case "getIsolateIds":
		return map[string]any{"isolateIds": []int{1}}, ""
	case "getLineNumberTable":
		return map[string]any{"lines": [][]int{{3, 10, 1}, {4, 20, 1}}}, ""
	case "getStackTrace":
		return map[string]any{"callFrames": []any{
			map[string]any{
				"functionName": "main",
				"libraryId":    2,
				"location":     map[string]any{"libraryId": 2, "url": "file:///app/main.dart", "tokenOffset": 10},
				"locals": []any{
					map[string]any{"name": "count", "value": map[string]any{"kind": "number", "text": "3"}},
				},
			},
		}}, ""
	case "evaluateExpr":
		if params["expression"] == "boom" {
			return nil, "unresolved identifier boom"
		}
		return map[string]any{"kind": "number", "text": "42"}, ""
	case "getScriptSource":
		return map[string]any{"text": "import 'x';\nvoid main() {\n  var count = 3;\n  print(count);\n}"}, ""
	case "setBreakpoint":
		return map[string]any{"breakpointId": 9}, ""
	case "getLibraries":
		return map[string]any{"libraries": []any{
			map[string]any{"id": 2, "url": "file:///app/main.dart"},
			map[string]any{"id": 3, "url": "dart:core"},
		}}, ""
	default:
		return map[string]any{}, ""
	}
}

func (s *stubVM) send(v any) {
	data, _ := json.Marshal(v)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_, _ = s.conn.Write(data)
	}
}

func (s *stubVM) pause(isolateID int) {
	s.send(map[string]any{"event": "paused", "params": map[string]any{
		"reason":    "breakpoint",
		"isolateId": isolateID,
		"location":  map[string]any{"libraryId": 2, "url": "file:///app/main.dart", "tokenOffset": 10},
	}})
}

func (s *stubVM) count(command string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.commands {
		if c == command {
			n++
		}
	}
	return n
}

func newTestServer(t *testing.T, mode config.CapabilityMode) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Mode = mode
	cfg.VM.DialTimeout = time.Second
	s := NewServer(cfg, "test")
	t.Cleanup(s.Close)
	return s
}

func callTool(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (map[string]any, *mcp.CallToolResult) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	result, err := handler(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	var out map[string]any
	if !result.IsError {
		require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	}
	return out, result
}

func errorText(result *mcp.CallToolResult) string {
	if text, ok := result.Content[0].(mcp.TextContent); ok {
		return text.Text
	}
	return ""
}

// connectPaused connects to a stub VM and waits until isolate 1 is paused.
func connectPaused(t *testing.T, s *Server, stub *stubVM) string {
	t.Helper()
	out, result := callTool(t, s.handleVMConnect, map[string]any{"host": "127.0.0.1", "port": float64(stub.port())})
	require.False(t, result.IsError, errorText(result))
	sessionID := out["sessionId"].(string)

	stub.pause(1)
	session, err := s.GetSessionManager().GetSession(sessionID)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	_, err = session.WaitForPause(ctx, 1)
	require.NoError(t, err)
	return sessionID
}

func TestToolRegistrationFollowsMode(t *testing.T) {
	names := func(s *Server) []string {
		resp := s.mcpServer.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
		data, err := json.Marshal(resp)
		require.NoError(t, err)
		var decoded struct {
			Result struct {
				Tools []struct {
					Name string `json:"name"`
				} `json:"tools"`
			} `json:"result"`
		}
		require.NoError(t, json.Unmarshal(data, &decoded))
		var out []string
		for _, tool := range decoded.Result.Tools {
			out = append(out, tool.Name)
		}
		return out
	}

	full := names(newTestServer(t, config.ModeFull))
	assert.Contains(t, full, "vm_step")
	assert.Contains(t, full, "vm_breakpoints")
	assert.Contains(t, full, "vm_snapshot")

	readonly := names(newTestServer(t, config.ModeReadOnly))
	assert.Contains(t, readonly, "vm_snapshot")
	assert.Contains(t, readonly, "vm_evaluate")
	assert.NotContains(t, readonly, "vm_step")
	assert.NotContains(t, readonly, "vm_resume")
}

func TestConnectFailure(t *testing.T) {
	s := newTestServer(t, config.ModeFull)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	_, result := callTool(t, s.handleVMConnect, map[string]any{"port": float64(port)})
	assert.True(t, result.IsError)
	assert.Contains(t, errorText(result), "failed to connect to VM debug server at 127.0.0.1:"+strconv.Itoa(port))
	assert.Empty(t, s.GetSessionManager().ListSessions())

	_, result = callTool(t, s.handleVMConnect, map[string]any{"port": float64(70000)})
	assert.True(t, result.IsError)
	assert.Contains(t, errorText(result), "invalid value for parameter 'port'")
}

func TestConnectListDisconnect(t *testing.T) {
	s := newTestServer(t, config.ModeFull)
	stub := startStubVM(t)

	out, result := callTool(t, s.handleVMConnect, map[string]any{"port": float64(stub.port())})
	require.False(t, result.IsError, errorText(result))
	sessionID := out["sessionId"].(string)
	isolates := out["isolates"].([]any)
	require.Len(t, isolates, 1)
	assert.Equal(t, float64(1), isolates[0].(map[string]any)["id"])

	out, _ = callTool(t, s.handleVMListSessions, nil)
	sessions := out["sessions"].([]any)
	require.Len(t, sessions, 1)
	assert.Equal(t, sessionID, sessions[0].(map[string]any)["sessionId"])

	out, result = callTool(t, s.handleVMDisconnect, map[string]any{"sessionId": sessionID})
	require.False(t, result.IsError)
	assert.Equal(t, "disconnected", out["status"])

	_, result = callTool(t, s.handleVMDisconnect, map[string]any{"sessionId": sessionID})
	assert.True(t, result.IsError)
	assert.Contains(t, errorText(result), "not found")
}

func TestSnapshotOfPausedIsolate(t *testing.T) {
	s := newTestServer(t, config.ModeFull)
	stub := startStubVM(t)
	sessionID := connectPaused(t, s, stub)

	out, result := callTool(t, s.handleVMSnapshot, map[string]any{"sessionId": sessionID})
	require.False(t, result.IsError, errorText(result))
	assert.Equal(t, "paused", out["status"])

	stacks := out["stacks"].(map[string]any)
	frames := stacks["1"].([]any)
	require.Len(t, frames, 1)
	frame := frames[0].(map[string]any)
	assert.Equal(t, "main", frame["function"])
	loc := frame["location"].(map[string]any)
	assert.Equal(t, "file:/app/main.dart", loc["url"])
	assert.Equal(t, float64(3), loc["line"])
	locals := frame["locals"].([]any)
	require.Len(t, locals, 1)
	assert.Equal(t, "count", locals[0].(map[string]any)["name"])
	assert.Equal(t, "3", locals[0].(map[string]any)["value"])
}

func TestEvaluate(t *testing.T) {
	s := newTestServer(t, config.ModeFull)
	stub := startStubVM(t)
	sessionID := connectPaused(t, s, stub)

	out, result := callTool(t, s.handleVMEvaluate, map[string]any{"sessionId": sessionID, "expression": "count * 14"})
	require.False(t, result.IsError, errorText(result))
	assert.Equal(t, "frame", out["target"])
	assert.Equal(t, "42", out["result"].(map[string]any)["result"])

	_, result = callTool(t, s.handleVMEvaluate, map[string]any{"sessionId": sessionID, "expression": "boom"})
	assert.True(t, result.IsError)
	assert.Contains(t, errorText(result), "unresolved identifier boom")

	_, result = callTool(t, s.handleVMEvaluate, map[string]any{"sessionId": sessionID, "expression": "x", "target": "object"})
	assert.True(t, result.IsError)
	assert.Contains(t, errorText(result), "targetId")

	_, result = callTool(t, s.handleVMEvaluate, map[string]any{"sessionId": sessionID, "expression": "x", "frameIndex": float64(5)})
	assert.True(t, result.IsError)
	assert.Contains(t, errorText(result), "frameIndex")
}

func TestEvaluateDisabled(t *testing.T) {
	s := newTestServer(t, config.ModeFull)
	s.config.AllowEvaluate = false

	_, result := callTool(t, s.handleVMEvaluate, map[string]any{"sessionId": "x", "expression": "1"})
	assert.True(t, result.IsError)
	assert.Contains(t, errorText(result), "evaluate is not allowed")
}

func TestSourceRange(t *testing.T) {
	s := newTestServer(t, config.ModeFull)
	stub := startStubVM(t)
	sessionID := connectPaused(t, s, stub)

	args := map[string]any{"sessionId": sessionID, "libraryId": float64(2), "url": "/app/main.dart", "startLine": float64(2), "endLine": float64(3)}
	out, result := callTool(t, s.handleVMSource, args)
	require.False(t, result.IsError, errorText(result))
	assert.Equal(t, "void main() {\n  var count = 3;", out["source"])
	assert.Equal(t, float64(5), out["totalLines"])
	assert.Equal(t, "file:/app/main.dart", out["url"])

	_, _ = callTool(t, s.handleVMSource, args)
	assert.Equal(t, 1, stub.count("getScriptSource"), "source is served from the cache")
}

func TestBreakpointsSetListRemove(t *testing.T) {
	s := newTestServer(t, config.ModeFull)
	stub := startStubVM(t)
	sessionID := connectPaused(t, s, stub)

	out, result := callTool(t, s.handleVMBreakpoints, map[string]any{
		"sessionId": sessionID, "action": "set", "url": "file:/app/main.dart", "line": float64(4),
	})
	require.False(t, result.IsError, errorText(result))
	bp := out["breakpoint"].(map[string]any)
	assert.Equal(t, float64(9), bp["id"])
	assert.Equal(t, false, out["interrupted"], "isolate was already paused")

	out, _ = callTool(t, s.handleVMBreakpoints, map[string]any{"sessionId": sessionID, "action": "list"})
	assert.Len(t, out["breakpoints"], 1)

	out, result = callTool(t, s.handleVMBreakpoints, map[string]any{"sessionId": sessionID, "action": "remove", "breakpointId": float64(9)})
	require.False(t, result.IsError, errorText(result))
	assert.Equal(t, "removed", out["status"])

	out, _ = callTool(t, s.handleVMBreakpoints, map[string]any{"sessionId": sessionID, "action": "list"})
	assert.Empty(t, out["breakpoints"])
}

func TestStepAndResume(t *testing.T) {
	s := newTestServer(t, config.ModeFull)
	stub := startStubVM(t)
	sessionID := connectPaused(t, s, stub)
	session, err := s.GetSessionManager().GetSession(sessionID)
	require.NoError(t, err)
	isolate, ok := session.Conn.Isolate(1)
	require.True(t, ok)

	_, result := callTool(t, s.handleVMStep, map[string]any{"sessionId": sessionID, "type": "sideways"})
	assert.True(t, result.IsError)

	out, result := callTool(t, s.handleVMStep, map[string]any{"sessionId": sessionID, "type": "over"})
	require.False(t, result.IsError, errorText(result))
	assert.Equal(t, "stepping", out["status"])
	require.Eventually(t, func() bool { return !isolate.IsPaused() }, waitFor, tick)
	assert.Equal(t, 1, stub.count("stepOver"))

	_, result = callTool(t, s.handleVMResume, map[string]any{"sessionId": sessionID, "isolateId": float64(1)})
	assert.True(t, result.IsError)
	assert.Contains(t, errorText(result), "requires isolate 1 to be paused")
}

func TestPauseOnException(t *testing.T) {
	s := newTestServer(t, config.ModeFull)
	stub := startStubVM(t)
	sessionID := connectPaused(t, s, stub)

	_, result := callTool(t, s.handleVMPauseOnException, map[string]any{"sessionId": sessionID, "mode": "sometimes"})
	assert.True(t, result.IsError)

	out, result := callTool(t, s.handleVMPauseOnException, map[string]any{"sessionId": sessionID, "mode": "unhandled"})
	require.False(t, result.IsError, errorText(result))
	assert.Equal(t, "unhandled", out["mode"])
	assert.Equal(t, 1, stub.count("setPauseOnException"))
}

func TestLibraries(t *testing.T) {
	s := newTestServer(t, config.ModeFull)
	stub := startStubVM(t)
	sessionID := connectPaused(t, s, stub)

	out, result := callTool(t, s.handleVMLibraries, map[string]any{"sessionId": sessionID})
	require.False(t, result.IsError, errorText(result))
	libs := out["libraries"].([]any)
	require.Len(t, libs, 2)
	assert.Equal(t, "file:/app/main.dart", libs[0].(map[string]any)["url"])
}

func TestUnknownSession(t *testing.T) {
	s := newTestServer(t, config.ModeFull)

	_, result := callTool(t, s.handleVMSnapshot, map[string]any{"sessionId": "nope"})
	assert.True(t, result.IsError)
	assert.Contains(t, errorText(result), "session 'nope' not found")

	_, result = callTool(t, s.handleVMSnapshot, nil)
	assert.True(t, result.IsError)
	assert.Contains(t, errorText(result), "'sessionId' is missing")
}

func TestLaunchNotAllowedInReadOnly(t *testing.T) {
	s := newTestServer(t, config.ModeReadOnly)

	_, result := callTool(t, s.handleVMLaunch, map[string]any{"script": "main.dart"})
	assert.True(t, result.IsError)
	assert.Contains(t, errorText(result), "spawn is not allowed")
}

func TestVMFailureCodes(t *testing.T) {
	protocol := func(err error) *errors.DebugError { return errors.VMProtocolError("interrupt", err) }

	closed := vmFailure(fmt.Errorf("interrupt isolate 1: %w", vm.ErrNotConnected), protocol)
	assert.Equal(t, errors.CodeVMConnectionTerminated, closed.Code)

	terminated := vmFailure(fmt.Errorf("getStackTrace: %w", vm.ErrConnectionTerminated), protocol)
	assert.Equal(t, errors.CodeVMConnectionTerminated, terminated.Code)

	notPaused := errors.IsolateNotPaused(1, "step")
	assert.Same(t, notPaused, vmFailure(fmt.Errorf("handler: %w", notPaused), protocol))

	other := vmFailure(fmt.Errorf("bad reply"), protocol)
	assert.Equal(t, errors.CodeVMProtocolError, other.Code)
}
