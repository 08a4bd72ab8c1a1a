package vm

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeRequest is one request received by the fake VM.
type fakeRequest struct {
	Raw     string
	ID      int            `json:"id"`
	Command string         `json:"command"`
	Params  map[string]any `json:"params"`
}

func (r fakeRequest) intParam(name string) int {
	v, _ := r.Params[name].(float64)
	return int(v)
}

// fakeReply is what a handler answers; nil means no answer.
type fakeReply struct {
	result any
	err    string
	// then is written in the same write as the reply.
	then []any
}

func replyWith(result any) *fakeReply { return &fakeReply{result: result} }

// followedBy appends a notification to the reply's write.
func (r *fakeReply) followedBy(event string, params any) *fakeReply {
	r.then = append(r.then, map[string]any{"event": event, "params": params})
	return r
}

func vmError(msg string) *fakeReply { return &fakeReply{err: msg} }

// fakeVM is an in-process VM debug server on a loopback listener.
type fakeVM struct {
	t        *testing.T
	ln       net.Listener
	handler  func(fakeRequest) *fakeReply
	accepted chan struct{}

	mu       sync.Mutex
	conn     net.Conn
	requests []fakeRequest
}

func startFakeVM(t *testing.T, handler func(fakeRequest) *fakeReply) *fakeVM {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	if handler == nil {
		handler = func(fakeRequest) *fakeReply { return replyWith(map[string]any{}) }
	}
	f := &fakeVM{t: t, ln: ln, handler: handler, accepted: make(chan struct{})}
	go f.serve()
	t.Cleanup(func() {
		ln.Close()
		f.closeConn()
	})
	return f
}

func (f *fakeVM) addr() string {
	return f.ln.Addr().String()
}

func (f *fakeVM) serve() {
	conn, err := f.ln.Accept()
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	close(f.accepted)

	frames := NewFrameReader(conn)
	for {
		frame, err := frames.Next()
		if err != nil {
			return
		}
		var req fakeRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			continue
		}
		req.Raw = string(frame)

		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()

		// Handlers may block, so requests are answered concurrently.
		go func() {
			reply := f.handler(req)
			if reply == nil {
				return
			}
			msg := map[string]any{"id": req.ID}
			if reply.err != "" {
				msg["error"] = reply.err
			} else {
				msg["result"] = reply.result
			}
			raw := mustJSON(msg)
			for _, v := range reply.then {
				raw += mustJSON(v)
			}
			f.send(raw)
		}()
	}
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

func (f *fakeVM) sendJSON(v any) {
	f.send(mustJSON(v))
}

// send writes raw bytes to the client.
func (f *fakeVM) send(raw string) {
	<-f.accepted
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_, _ = f.conn.Write([]byte(raw))
	}
}

func (f *fakeVM) event(name string, params any) {
	f.sendJSON(map[string]any{"event": name, "params": params})
}

func (f *fakeVM) closeConn() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		f.conn.Close()
	}
}

func (f *fakeVM) received() []fakeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeRequest(nil), f.requests...)
}

func (f *fakeVM) count(command string) int {
	n := 0
	for _, r := range f.received() {
		if r.Command == command {
			n++
		}
	}
	return n
}

func connectTo(t *testing.T, f *fakeVM, listeners ...Listener) *Connection {
	t.Helper()
	conn := NewConnection(f.addr(), Options{DialTimeout: time.Second})
	for _, l := range listeners {
		conn.AddListener(l)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Connect(ctx))
	t.Cleanup(func() { conn.Close() })
	return conn
}

func wireLoc(tokenOffset int) map[string]any {
	return map[string]any{"libraryId": 1, "url": "file:///app/main.dart", "tokenOffset": tokenOffset}
}

// recorder is a Listener that keeps every event it sees.
type recorder struct {
	mu     sync.Mutex
	events []string
	pauses []recordedPause
	bps    []*Breakpoint
}

type recordedPause struct {
	reason      PausedReason
	isolate     *Isolate
	frames      []*CallFrame
	exception   *Value
	wasStepping bool
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) ConnectionOpened(*Connection) { r.add("opened") }
func (r *recorder) ConnectionClosed(*Connection) { r.add("closed") }

func (r *recorder) DebuggerPaused(reason PausedReason, isolate *Isolate, frames []*CallFrame, exception *Value, wasStepping bool) {
	r.mu.Lock()
	r.pauses = append(r.pauses, recordedPause{reason, isolate, frames, exception, wasStepping})
	r.mu.Unlock()
	r.add(fmt.Sprintf("paused:%d:%s", isolate.ID(), reason))
}

func (r *recorder) DebuggerResumed(isolate *Isolate) { r.add(fmt.Sprintf("resumed:%d", isolate.ID())) }

func (r *recorder) BreakpointResolved(isolate *Isolate, bp *Breakpoint) {
	r.mu.Lock()
	r.bps = append(r.bps, bp)
	r.mu.Unlock()
	r.add(fmt.Sprintf("breakpoint:%d", bp.ID()))
}

func (r *recorder) IsolateCreated(isolate *Isolate)  { r.add(fmt.Sprintf("created:%d", isolate.ID())) }
func (r *recorder) IsolateShutdown(isolate *Isolate) { r.add(fmt.Sprintf("shutdown:%d", isolate.ID())) }

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) pauseCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pauses)
}

func (r *recorder) lastPause() recordedPause {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pauses[len(r.pauses)-1]
}

func (r *recorder) has(ev string) bool {
	for _, e := range r.snapshot() {
		if e == ev {
			return true
		}
	}
	return false
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
