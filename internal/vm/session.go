package vm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ctagard/vmdebug-mcp/pkg/types"
)

// maxSessionEvents bounds the per-session event log.
const maxSessionEvents = 200

var (
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionLimit is returned when max_sessions sessions already exist.
	ErrSessionLimit = errors.New("maximum number of sessions reached")
)

// ProcessHandle is a VM process spawned for a session.
type ProcessHandle interface {
	PID() int
	Kill() error
}

// PauseState is what a session knows about a paused isolate.
type PauseState struct {
	Reason      PausedReason
	Isolate     *Isolate
	Frames      []*CallFrame
	Exception   *Value
	WasStepping bool
}

// Session represents one VM connection and the debugger state observed on it.
// It registers itself as a Listener of its Connection.
type Session struct {
	ID        string
	Address   string
	Program   string
	CreatedAt time.Time
	Conn      *Connection

	mu      sync.RWMutex
	status  types.SessionStatus
	process ProcessHandle
	paused  map[int]*PauseState
	events  []types.Event
	changed chan struct{}
}

func newSession(address, program string) *Session {
	return &Session{
		ID:        uuid.New().String(),
		Address:   address,
		Program:   program,
		CreatedAt: time.Now(),
		status:    types.SessionStatusConnecting,
		paused:    make(map[int]*PauseState),
		changed:   make(chan struct{}),
	}
}

// Status returns the current session status
func (s *Session) Status() types.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Process returns the spawned VM process, if any
func (s *Session) Process() ProcessHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.process
}

// GetInfo returns session info for a session
func (s *Session) GetInfo() types.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := types.SessionInfo{
		SessionID: s.ID,
		Address:   s.Address,
		Status:    s.status,
		Program:   s.Program,
		CreatedAt: s.CreatedAt,
	}
	if s.process != nil {
		info.PID = s.process.PID()
	}
	return info
}

// PauseState returns the last pause surfaced for an isolate still paused.
func (s *Session) PauseState(isolateID int) (*PauseState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.paused[isolateID]
	return p, ok
}

// PausedIsolates returns the ids of the paused isolates in ascending order.
func (s *Session) PausedIsolates() []int {
	s.mu.RLock()
	ids := make([]int, 0, len(s.paused))
	for id := range s.paused {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Ints(ids)
	return ids
}

// Events returns a copy of the event log, oldest first.
func (s *Session) Events() []types.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Event(nil), s.events...)
}

// WaitForPause blocks until isolateID is paused, the session terminates or
// ctx is done.
func (s *Session) WaitForPause(ctx context.Context, isolateID int) (*PauseState, error) {
	for {
		s.mu.RLock()
		p, ok := s.paused[isolateID]
		status := s.status
		changed := s.changed
		s.mu.RUnlock()

		if ok {
			return p, nil
		}
		if status == types.SessionStatusTerminated {
			return nil, ErrConnectionTerminated
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// record appends an event and wakes waiters. Must be called with s.mu held.
func (s *Session) recordLocked(kind string, isolate *Isolate, detail string) {
	ev := types.Event{Time: time.Now(), Kind: kind, Detail: detail}
	if isolate != nil {
		ev.IsolateID = isolate.id
	}
	s.events = append(s.events, ev)
	if len(s.events) > maxSessionEvents {
		s.events = s.events[len(s.events)-maxSessionEvents:]
	}
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Session) ConnectionOpened(*Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = types.SessionStatusRunning
	s.recordLocked("connectionOpened", nil, s.Address)
}

func (s *Session) ConnectionClosed(*Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = types.SessionStatusTerminated
	s.paused = make(map[int]*PauseState)
	s.recordLocked("connectionClosed", nil, s.Address)
}

func (s *Session) DebuggerPaused(reason PausedReason, isolate *Isolate, frames []*CallFrame, exception *Value, wasStepping bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused[isolate.id] = &PauseState{
		Reason:      reason,
		Isolate:     isolate,
		Frames:      frames,
		Exception:   exception,
		WasStepping: wasStepping,
	}
	s.status = types.SessionStatusPaused
	detail := reason.String()
	if len(frames) > 0 && frames[0].Location != nil {
		detail += " at " + frames[0].Location.String()
	}
	s.recordLocked("paused", isolate, detail)
}

func (s *Session) DebuggerResumed(isolate *Isolate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.paused, isolate.id)
	s.updateStatusLocked()
	s.recordLocked("resumed", isolate, "")
}

func (s *Session) BreakpointResolved(isolate *Isolate, bp *Breakpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	detail := fmt.Sprintf("breakpoint %d", bp.ID())
	if loc := bp.Location(); loc != nil {
		detail += " at " + loc.String()
	}
	s.recordLocked("breakpointResolved", isolate, detail)
}

func (s *Session) IsolateCreated(isolate *Isolate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordLocked("isolateCreated", isolate, "")
}

func (s *Session) IsolateShutdown(isolate *Isolate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.paused, isolate.id)
	s.updateStatusLocked()
	s.recordLocked("isolateShutdown", isolate, "")
}

func (s *Session) updateStatusLocked() {
	if s.status == types.SessionStatusTerminated {
		return
	}
	if len(s.paused) > 0 {
		s.status = types.SessionStatusPaused
	} else {
		s.status = types.SessionStatusRunning
	}
}

// SessionManager manages multiple VM sessions
type SessionManager struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	maxSessions    int
	sessionTimeout time.Duration
	connOpts       Options

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSessionManager creates a new session manager
func NewSessionManager(maxSessions int, sessionTimeout time.Duration, connOpts Options) *SessionManager {
	ctx, cancel := context.WithCancel(context.Background())
	sm := &SessionManager{
		sessions:       make(map[string]*Session),
		maxSessions:    maxSessions,
		sessionTimeout: sessionTimeout,
		connOpts:       connOpts,
		ctx:            ctx,
		cancel:         cancel,
	}

	go sm.cleanupLoop()

	return sm
}

// cleanupLoop periodically cleans up expired sessions
func (sm *SessionManager) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-sm.ctx.Done():
			return
		case <-ticker.C:
			sm.cleanupExpiredSessions()
		}
	}
}

// cleanupExpiredSessions removes sessions older than the session timeout.
// Sessions whose connection closed stay listed until then.
func (sm *SessionManager) cleanupExpiredSessions() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now()
	for id, session := range sm.sessions {
		if now.Sub(session.CreatedAt) > sm.sessionTimeout {
			sm.terminateSessionLocked(id)
		}
	}
}

// CreateSession registers a session for the debug server at address. The
// connection is opened by ConnectSession.
func (sm *SessionManager) CreateSession(address, program string) (*Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(sm.sessions) >= sm.maxSessions {
		return nil, fmt.Errorf("%w (%d)", ErrSessionLimit, sm.maxSessions)
	}

	session := newSession(address, program)
	session.Conn = NewConnection(address, sm.connOpts)
	session.Conn.AddListener(session)

	sm.sessions[session.ID] = session
	return session, nil
}

// ConnectSession opens the connection of a session created by CreateSession.
func (sm *SessionManager) ConnectSession(ctx context.Context, id string) error {
	session, err := sm.GetSession(id)
	if err != nil {
		return err
	}
	return session.Conn.Connect(ctx)
}

// Connect creates a session and opens its connection. The session is
// dropped again if the debug server cannot be reached.
func (sm *SessionManager) Connect(ctx context.Context, address string) (*Session, error) {
	session, err := sm.CreateSession(address, "")
	if err != nil {
		return nil, err
	}
	if err := sm.ConnectSession(ctx, session.ID); err != nil {
		_ = sm.TerminateSession(session.ID)
		return nil, err
	}
	return session, nil
}

// SetSessionProcess attaches the spawned VM process to a session
func (sm *SessionManager) SetSessionProcess(id string, process ProcessHandle) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, ok := sm.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	session.mu.Lock()
	session.process = process
	session.mu.Unlock()
	return nil
}

// GetSession retrieves a session by ID
func (sm *SessionManager) GetSession(id string) (*Session, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, ok := sm.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	return session, nil
}

// ListSessions returns all active sessions, oldest first
func (sm *SessionManager) ListSessions() []*Session {
	sm.mu.RLock()
	sessions := make([]*Session, 0, len(sm.sessions))
	for _, session := range sm.sessions {
		sessions = append(sessions, session)
	}
	sm.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions
}

// TerminateSession closes the connection of a session and kills its process
func (sm *SessionManager) TerminateSession(id string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, ok := sm.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sm.terminateSessionLocked(id)
	return nil
}

// terminateSessionLocked terminates a session (must be called with lock held)
func (sm *SessionManager) terminateSessionLocked(id string) {
	session, ok := sm.sessions[id]
	if !ok {
		return
	}

	if err := session.Conn.Close(); err != nil {
		vmLog().Warnf("failed to close connection for session %s: %v (continuing cleanup)", id, err)
	}

	if p := session.Process(); p != nil {
		if err := p.Kill(); err != nil {
			vmLog().Warnf("failed to kill VM process for session %s (PID %d): %v", id, p.PID(), err)
		}
	}

	session.mu.Lock()
	session.status = types.SessionStatusTerminated
	close(session.changed)
	session.changed = make(chan struct{})
	session.mu.Unlock()

	delete(sm.sessions, id)
}

// Close shuts down the session manager and all sessions
func (sm *SessionManager) Close() {
	sm.cancel()

	sm.mu.Lock()
	defer sm.mu.Unlock()

	for id := range sm.sessions {
		sm.terminateSessionLocked(id)
	}
}
