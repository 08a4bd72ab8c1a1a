package launcher

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctagard/vmdebug-mcp/internal/vm"
	"github.com/ctagard/vmdebug-mcp/pkg/types"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script as the VM executable")
	}
}

// fakeExecutable writes a script that ignores its arguments and runs body.
func fakeExecutable(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-vm")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newManager(t *testing.T) *vm.SessionManager {
	t.Helper()
	sm := vm.NewSessionManager(4, time.Hour, vm.Options{DialTimeout: time.Second})
	t.Cleanup(sm.Close)
	return sm
}

func TestCommandArgs(t *testing.T) {
	argv := commandArgs(5858, []string{"--checked"}, "bin/main.dart", []string{"a", "b"})
	assert.Equal(t, []string{"--debug:5858", "--checked", "bin/main.dart", "a", "b"}, argv)

	assert.Equal(t, []string{"--debug:1", "x.dart"}, commandArgs(1, nil, "x.dart", nil))
}

func TestFindAvailablePort(t *testing.T) {
	port := findAvailablePort()
	assert.Greater(t, port, 0)

	ln, err := net.Listen("tcp", net.JoinHostPort(loopbackHost, strconv.Itoa(port)))
	require.NoError(t, err, "port should be free again")
	ln.Close()
}

func TestLaunch_ExecutableMissing(t *testing.T) {
	l := New(newManager(t), Options{Executable: filepath.Join(t.TempDir(), "no-such-vm")})

	_, err := l.Launch(context.Background(), "main.dart", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start")
}

func TestLaunch_VMExitsEarly(t *testing.T) {
	skipOnWindows(t)
	sm := newManager(t)
	l := New(sm, Options{
		Executable:    fakeExecutable(t, "exit 3"),
		RetryInterval: 20 * time.Millisecond,
	})

	_, err := l.Launch(context.Background(), "main.dart", nil)
	require.ErrorIs(t, err, ErrExitedEarly)
	assert.Empty(t, sm.ListSessions(), "failed attempts must not leak sessions")
}

func TestLaunch_RetriesExhausted(t *testing.T) {
	skipOnWindows(t)
	sm := newManager(t)
	l := New(sm, Options{
		Executable:     fakeExecutable(t, "exec sleep 30"),
		Port:           findAvailablePort(),
		ConnectRetries: 3,
		RetryInterval:  10 * time.Millisecond,
	})

	_, err := l.Launch(context.Background(), "main.dart", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reachable after 3 attempts")
	assert.Empty(t, sm.ListSessions())
}

func TestLaunch_Connects(t *testing.T) {
	skipOnWindows(t)

	ln, err := net.Listen("tcp", loopbackHost+":0")
	require.NoError(t, err)
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	sm := newManager(t)
	l := New(sm, Options{
		Executable: fakeExecutable(t, "exec sleep 30"),
		Port:       ln.Addr().(*net.TCPAddr).Port,
	})

	session, err := l.Launch(context.Background(), "bin/main.dart", []string{"--flag"})
	require.NoError(t, err)

	conn := <-accepted
	defer conn.Close()

	info := session.GetInfo()
	assert.Equal(t, "bin/main.dart", info.Program)
	assert.Greater(t, info.PID, 0)
	assert.Eventually(t, func() bool {
		return session.Status() == types.SessionStatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	proc, ok := session.Process().(*Process)
	require.True(t, ok)

	require.NoError(t, sm.TerminateSession(session.ID))
	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("VM process was not killed with its session")
	}
}
