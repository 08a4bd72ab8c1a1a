// Package vm implements a client for the VM debugger wire protocol.
//
// The VM debug server speaks bare JSON objects over a TCP socket with no
// framing. This package provides:
//   - FrameReader: splits the byte stream into complete JSON objects
//   - Transport: low-level frame sending/receiving over a socket
//   - Connection: request/response correlation, notification dispatch,
//     breakpoint tracking and stepping on top of a Transport
//   - A typed object model (Isolate, Breakpoint, CallFrame, Class, Library,
//     Value, Variable) decoded from protocol payloads
//   - Blocking helpers over the asynchronous request API
//   - SessionManager: manages multiple concurrent VM connections
package vm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ctagard/vmdebug-mcp/internal/logflags"
)

// Transport handles communication with a VM debug server
type Transport struct {
	conn   io.ReadWriteCloser
	frames *FrameReader
	mu     sync.Mutex
}

// Dial creates a transport connected to a TCP address
func Dial(ctx context.Context, address string, timeout time.Duration) (*Transport, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to VM debug server at %s: %w", address, err)
	}
	return NewTransport(conn), nil
}

// NewTransport creates a transport over an already established stream
func NewTransport(conn io.ReadWriteCloser) *Transport {
	return &Transport{
		conn:   conn,
		frames: NewFrameReader(conn),
	}
}

// Send writes one encoded request. Writes are serialized so frames never interleave.
func (t *Transport) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if logflags.Wire() {
		logflags.WireLogger().Debugf("==> %s", frame)
	}

	if _, err := t.conn.Write(frame); err != nil {
		return fmt.Errorf("failed to write VM request: %w", err)
	}
	return nil
}

// Receive blocks until the next complete JSON object arrives
func (t *Transport) Receive() (json.RawMessage, error) {
	frame, err := t.frames.Next()
	if err != nil {
		return nil, err
	}
	if logflags.Wire() {
		logflags.WireLogger().Debugf("<== %s", frame)
	}
	return frame, nil
}

// Close closes the transport
func (t *Transport) Close() error {
	return t.conn.Close()
}
