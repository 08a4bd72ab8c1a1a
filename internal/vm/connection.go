package vm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/ctagard/vmdebug-mcp/internal/logflags"
)

// Default values for Options.
const (
	DefaultDialTimeout     = 5 * time.Second
	DefaultSourceCacheSize = 64
)

// Options configures a Connection
type Options struct {
	DialTimeout     time.Duration
	SourceCacheSize int
}

// Response is a raw reply to one request.
type Response struct {
	ID     int
	Result json.RawMessage
	Error  string
	failed bool
}

// IsError reports whether the VM answered with an error.
func (r Response) IsError() bool {
	return r.failed
}

func terminationResponse(id int) Response {
	return Response{ID: id, Error: terminationMessage, failed: true}
}

// Callback receives the response to one request. Callbacks passed to
// SendRequest run on their own goroutine and may block on further requests.
type Callback func(Response)

type pendingCall struct {
	cb Callback
	// ordered callbacks run on the event queue, in wire order with notifications.
	ordered bool
}

type request struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params"`
	ID      int            `json:"id"`
}

type envelope struct {
	ID     *int            `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
	Event  string          `json:"event"`
	Params json.RawMessage `json:"params"`
}

// Connection is a client for one VM debug server.
type Connection struct {
	address string
	opts    Options

	// mu guards the id counter, the callback map and the connection state.
	mu        sync.Mutex
	nextID    int
	callbacks map[int]pendingCall
	transport *Transport
	connected bool
	started   bool

	listenersMu sync.RWMutex
	listeners   []Listener

	isolatesMu sync.Mutex
	isolates   map[int]*Isolate

	breakpointsMu sync.Mutex
	breakpoints   []*Breakpoint

	lineTablesMu sync.Mutex
	lineTables   map[string]*LineNumberTable

	flights singleflight.Group
	sources *lru.Cache

	events     *eventQueue
	readerDone chan struct{}
}

// NewConnection creates a connection to the VM debug server at address.
// Call Connect to open it.
func NewConnection(address string, opts Options) *Connection {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.SourceCacheSize <= 0 {
		opts.SourceCacheSize = DefaultSourceCacheSize
	}
	sources, err := lru.New(opts.SourceCacheSize)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	return &Connection{
		address:    address,
		opts:       opts,
		callbacks:  make(map[int]pendingCall),
		isolates:   make(map[int]*Isolate),
		lineTables: make(map[string]*LineNumberTable),
		sources:    sources,
		events:     newEventQueue(),
		readerDone: make(chan struct{}),
	}
}

func vmLog() *logrus.Entry {
	return logflags.VMLogger()
}

// Address returns the host:port of the debug server.
func (c *Connection) Address() string {
	return c.address
}

// Connect dials the debug server and starts the reader. A Connection can
// be connected once.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("connection to %s already used", c.address)
	}
	c.started = true
	c.mu.Unlock()

	transport, err := Dial(ctx, c.address, c.opts.DialTimeout)
	if err != nil {
		close(c.readerDone)
		c.events.close()
		return err
	}

	c.mu.Lock()
	c.transport = transport
	c.connected = true
	c.mu.Unlock()

	c.notify(func(l Listener) { l.ConnectionOpened(c) })

	go c.events.run()
	go c.readLoop(transport)
	return nil
}

// Close closes the socket and waits for the reader to finish. Pending
// callbacks receive a termination result.
func (c *Connection) Close() error {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()

	if t == nil {
		return nil
	}
	err := t.Close()
	<-c.readerDone
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Done is closed once the reader has exited and every pending callback has
// been handed a termination result.
func (c *Connection) Done() <-chan struct{} {
	return c.readerDone
}

// IsConnected reports whether the connection is still open.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// AddListener registers l. Listeners are notified in registration order.
func (c *Connection) AddListener(l Listener) {
	c.listenersMu.Lock()
	c.listeners = append(c.listeners, l)
	c.listenersMu.Unlock()
}

// RemoveListener unregisters l.
func (c *Connection) RemoveListener(l Listener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	for i, existing := range c.listeners {
		if existing == l {
			c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
			return
		}
	}
}

// notify queues a listener fan-out behind all previously queued events.
func (c *Connection) notify(fn func(Listener)) {
	c.events.push(func() { c.fireNow(fn) })
}

// fireNow calls fn for every listener on the current goroutine.
func (c *Connection) fireNow(fn func(Listener)) {
	c.listenersMu.RLock()
	listeners := append([]Listener(nil), c.listeners...)
	c.listenersMu.RUnlock()
	for _, l := range listeners {
		fn(l)
	}
}

// SendRequest sends command with params to the VM. The isolate id is added to
// params when isolateID >= 0 and params has none. cb, which may be nil, is
// called exactly once with the response. If the connection is closed, cb is
// called synchronously with a termination result and nothing is sent. The
// returned error reports a failed write; cb is not called in that case.
func (c *Connection) SendRequest(command string, params map[string]any, isolateID int, cb Callback) error {
	return c.sendRequest(command, params, isolateID, cb, false)
}

// sendOrdered is SendRequest for commands that change the run state of an
// isolate. Their callback runs on the event queue, so it is applied in the
// order the reply and any later pause arrived on the wire.
func (c *Connection) sendOrdered(command string, isolateID int, cb Callback) error {
	return c.sendRequest(command, nil, isolateID, cb, true)
}

func (c *Connection) sendRequest(command string, params map[string]any, isolateID int, cb Callback, ordered bool) error {
	if params == nil {
		params = map[string]any{}
	}
	if _, ok := params["isolateId"]; !ok && isolateID >= 0 {
		params["isolateId"] = isolateID
	}

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		if cb != nil {
			cb(terminationResponse(0))
		}
		return nil
	}
	c.nextID++
	id := c.nextID
	if cb != nil {
		c.callbacks[id] = pendingCall{cb: cb, ordered: ordered}
	}
	transport := c.transport
	c.mu.Unlock()

	frame, err := json.Marshal(request{Command: command, Params: params, ID: id})
	if err == nil {
		err = transport.Send(frame)
	}
	if err != nil {
		c.mu.Lock()
		delete(c.callbacks, id)
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", command, err)
	}
	return nil
}

func (c *Connection) readLoop(t *Transport) {
	defer close(c.readerDone)

	for {
		frame, err := t.Receive()
		if err != nil {
			c.logReadError(err)
			break
		}
		c.processFrame(frame)
	}

	c.mu.Lock()
	c.connected = false
	c.transport = nil
	pending := c.callbacks
	c.callbacks = make(map[int]pendingCall)
	c.mu.Unlock()
	t.Close()

	c.notify(func(l Listener) { l.ConnectionClosed(c) })
	c.events.close()

	ids := make([]int, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		go pending[id].cb(terminationResponse(id))
	}
}

func (c *Connection) logReadError(err error) {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		vmLog().Debugf("connection to %s closed", c.address)
	case errors.Is(err, syscall.ECONNRESET), strings.Contains(err.Error(), "connection reset"):
		vmLog().Debugf("connection to %s reset", c.address)
	case errors.Is(err, ErrMalformedFrame):
		vmLog().Warnf("protocol error from %s: %v", c.address, err)
	default:
		vmLog().Infof("connection to %s failed: %v", c.address, err)
	}
}

func (c *Connection) processFrame(frame json.RawMessage) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		vmLog().Infof("event not understood: %s", frame)
		return
	}

	switch {
	case env.ID != nil:
		c.processResponse(*env.ID, env)
	case env.Event != "":
		event, params := env.Event, env.Params
		c.events.push(func() { c.processNotification(event, params) })
	default:
		vmLog().Infof("event not understood: %s", frame)
	}
}

func (c *Connection) processResponse(id int, env envelope) {
	resp := Response{ID: id, Result: env.Result}
	if len(env.Error) > 0 && string(env.Error) != "null" {
		resp.failed = true
		if err := json.Unmarshal(env.Error, &resp.Error); err != nil {
			resp.Error = string(env.Error)
		}
	}

	c.mu.Lock()
	pending, ok := c.callbacks[id]
	delete(c.callbacks, id)
	c.mu.Unlock()

	switch {
	case ok && pending.ordered:
		c.events.push(func() { pending.cb(resp) })
		return
	case ok:
		go pending.cb(resp)
		return
	}
	if resp.failed {
		vmLog().Infof("error from command id %d: %s", id, resp.Error)
	}
}

// getCreateIsolate returns the isolate with the given id, registering it on
// first sight. It returns nil for -1.
func (c *Connection) getCreateIsolate(id int) *Isolate {
	if id == noIsolate {
		return nil
	}
	c.isolatesMu.Lock()
	defer c.isolatesMu.Unlock()
	isolate, ok := c.isolates[id]
	if !ok {
		isolate = newIsolate(id)
		c.isolates[id] = isolate
	}
	return isolate
}

func (c *Connection) removeIsolate(id int) {
	c.isolatesMu.Lock()
	delete(c.isolates, id)
	c.isolatesMu.Unlock()
}

// Isolate returns a known isolate.
func (c *Connection) Isolate(id int) (*Isolate, bool) {
	c.isolatesMu.Lock()
	defer c.isolatesMu.Unlock()
	isolate, ok := c.isolates[id]
	return isolate, ok
}

// Isolates returns the known isolates ordered by id.
func (c *Connection) Isolates() []*Isolate {
	c.isolatesMu.Lock()
	out := make([]*Isolate, 0, len(c.isolates))
	for _, isolate := range c.isolates {
		out = append(out, isolate)
	}
	c.isolatesMu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// eventQueue is an unbounded FIFO drained by one goroutine, so events are
// handled in wire order without ever blocking the reader.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []func()
	closed bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *eventQueue) push(fn func()) {
	q.mu.Lock()
	if !q.closed {
		q.items = append(q.items, fn)
		q.cond.Signal()
	}
	q.mu.Unlock()
}

// close lets run return once the queued items are drained.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
}

func (q *eventQueue) run() {
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()

		fn()
	}
}
