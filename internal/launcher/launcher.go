// Package launcher starts a VM with its debug server enabled and attaches a
// session to it.
package launcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ctagard/vmdebug-mcp/internal/logflags"
	"github.com/ctagard/vmdebug-mcp/internal/vm"
)

const (
	defaultRetries       = 25
	defaultRetryInterval = 200 * time.Millisecond
	loopbackHost         = "127.0.0.1"
)

// ErrExitedEarly is returned when the VM exits before a connection was made.
var ErrExitedEarly = errors.New("VM exited before its debug server accepted connections")

// Options configure how VMs are started.
type Options struct {
	// Executable is the VM binary, "dart" when empty.
	Executable string
	// VMArgs are passed to the VM before the script.
	VMArgs []string
	// Port is the debug server port. Zero picks a free loopback port.
	Port int
	// ConnectRetries bounds the connect attempts after the VM started.
	ConnectRetries int
	// RetryInterval is the pause between connect attempts.
	RetryInterval time.Duration
}

// Process is a VM started by the launcher.
type Process struct {
	cmd  *exec.Cmd
	pid  int
	done chan struct{}

	mu      sync.Mutex
	waitErr error
}

func (p *Process) PID() int {
	return p.pid
}

// Kill terminates the VM and its process group.
func (p *Process) Kill() error {
	return killProcessGroup(p.pid, p.cmd)
}

// Done is closed once the VM has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitErr returns the error from waiting on the VM, valid after Done.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// wait drains the output streams before reaping the VM, as exec.Cmd requires.
func (p *Process) wait(log *logrus.Entry, stdout, stderr io.Reader) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pipeOutput(stdout, log.WithField("stream", "stdout"))
	}()
	go func() {
		defer wg.Done()
		pipeOutput(stderr, log.WithField("stream", "stderr"))
	}()
	wg.Wait()

	err := p.cmd.Wait()
	p.mu.Lock()
	p.waitErr = err
	p.mu.Unlock()
	close(p.done)
}

func (p *Process) exitedEarly() error {
	if err := p.ExitErr(); err != nil {
		return fmt.Errorf("%w: %v", ErrExitedEarly, err)
	}
	return ErrExitedEarly
}

// Launcher spawns VMs and registers them as sessions.
type Launcher struct {
	sessions *vm.SessionManager
	opts     Options
	log      *logrus.Entry
}

// New creates a launcher that registers sessions with sm.
func New(sm *vm.SessionManager, opts Options) *Launcher {
	if opts.Executable == "" {
		opts.Executable = "dart"
	}
	if opts.ConnectRetries <= 0 {
		opts.ConnectRetries = defaultRetries
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}
	return &Launcher{
		sessions: sm,
		opts:     opts,
		log:      logflags.LauncherLogger(),
	}
}

// commandArgs builds "--debug:<port> [vmArgs] script [args]".
func commandArgs(port int, vmArgs []string, script string, args []string) []string {
	argv := make([]string, 0, 2+len(vmArgs)+len(args))
	argv = append(argv, "--debug:"+strconv.Itoa(port))
	argv = append(argv, vmArgs...)
	argv = append(argv, script)
	return append(argv, args...)
}

// Launch starts script in a new VM and returns a connected session. The
// VM is killed if no connection could be made.
func (l *Launcher) Launch(ctx context.Context, script string, args []string) (*vm.Session, error) {
	port := l.opts.Port
	if port == 0 {
		port = findAvailablePort()
	}
	address := net.JoinHostPort(loopbackHost, strconv.Itoa(port))

	//nolint:gosec // G204: the launcher intentionally runs the configured VM
	cmd := exec.Command(l.opts.Executable, commandArgs(port, l.opts.VMArgs, script, args)...)
	cmd.Env = os.Environ()
	setProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to capture VM stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to capture VM stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", l.opts.Executable, err)
	}
	proc := &Process{cmd: cmd, pid: cmd.Process.Pid, done: make(chan struct{})}
	log := l.log.WithFields(logrus.Fields{"pid": proc.pid, "address": address})
	log.Debugf("started %s %v", l.opts.Executable, cmd.Args[1:])

	go proc.wait(log, stdout, stderr)

	session, err := l.connect(ctx, address, script, proc)
	if err != nil {
		if kerr := proc.Kill(); kerr != nil {
			log.Warnf("failed to kill VM after connect failure: %v", kerr)
		}
		return nil, err
	}
	if err := l.sessions.SetSessionProcess(session.ID, proc); err != nil {
		_ = proc.Kill()
		return nil, err
	}
	log.Debugf("session %s attached", session.ID)
	return session, nil
}

// connect retries until the debug server accepts. Each attempt uses a
// fresh session since a Connection dials only once.
func (l *Launcher) connect(ctx context.Context, address, script string, proc *Process) (*vm.Session, error) {
	var lastErr error
	for attempt := 1; attempt <= l.opts.ConnectRetries; attempt++ {
		select {
		case <-proc.Done():
			return nil, proc.exitedEarly()
		default:
		}

		session, err := l.sessions.CreateSession(address, script)
		if err != nil {
			return nil, err
		}
		if lastErr = l.sessions.ConnectSession(ctx, session.ID); lastErr == nil {
			return session, nil
		}
		_ = l.sessions.TerminateSession(session.ID)
		l.log.Debugf("connect attempt %d to %s failed: %v", attempt, address, lastErr)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-proc.Done():
			return nil, proc.exitedEarly()
		case <-time.After(l.opts.RetryInterval):
		}
	}
	return nil, fmt.Errorf("debug server at %s not reachable after %d attempts: %w", address, l.opts.ConnectRetries, lastErr)
}

func pipeOutput(r io.Reader, log *logrus.Entry) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		log.Debug(scanner.Text())
	}
}

// findAvailablePort finds an available TCP port on localhost
func findAvailablePort() int {
	listener, err := net.Listen("tcp", loopbackHost+":0")
	if err != nil {
		return 5858
	}
	defer listener.Close()
	addr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		return 5858
	}
	return addr.Port
}
