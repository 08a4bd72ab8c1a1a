// Package mcp provides the Model Context Protocol (MCP) server implementation.
//
// This package exposes a VM debug connection through MCP tools that can be
// used by AI assistants and other MCP clients:
//
// Session Management (always available):
//   - vm_connect: Attach to a VM debug server
//   - vm_launch: Start a script in a new VM and attach to it
//   - vm_disconnect: Close a session
//   - vm_list_sessions: List active sessions
//
// Inspection (always available):
//   - vm_isolates: Isolates and recent debugger events
//   - vm_snapshot: Stacks, locals and exception of paused isolates
//   - vm_evaluate: Evaluate expressions in a frame, object, class or library
//   - vm_source: Script source
//   - vm_libraries: Loaded libraries, their scripts and globals
//
// Control (full mode only):
//   - vm_breakpoints: Set/remove/list breakpoints
//   - vm_step: Step over/into/out
//   - vm_resume: Resume execution
//   - vm_pause: Interrupt execution
//   - vm_pause_on_exception: Choose which exceptions stop an isolate
package mcp

import (
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/ctagard/vmdebug-mcp/internal/config"
	"github.com/ctagard/vmdebug-mcp/internal/launcher"
	"github.com/ctagard/vmdebug-mcp/internal/logflags"
	"github.com/ctagard/vmdebug-mcp/internal/vm"
)

// Server wraps the MCP server with debugging capabilities
type Server struct {
	mcpServer      *server.MCPServer
	sessionManager *vm.SessionManager
	launcher       *launcher.Launcher
	config         *config.Config
	log            *logrus.Entry
}

// NewServer creates a new vmdebug-mcp server
func NewServer(cfg *config.Config, version string) *Server {
	mcpServer := server.NewMCPServer(
		"vmdebug-mcp",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	sessionManager := vm.NewSessionManager(cfg.MaxSessions, cfg.SessionTimeout, vm.Options{
		DialTimeout:     cfg.VM.DialTimeout,
		SourceCacheSize: cfg.Cache.SourceEntries,
	})

	s := &Server{
		mcpServer:      mcpServer,
		sessionManager: sessionManager,
		launcher: launcher.New(sessionManager, launcher.Options{
			Executable:     cfg.VM.Executable,
			VMArgs:         cfg.VM.VMArgs,
			ConnectRetries: cfg.VM.ConnectRetries,
		}),
		config: cfg,
		log:    logflags.MCPLogger(),
	}

	s.registerTools()

	return s
}

// ServeStdio starts the server using stdio transport
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// Close shuts down the server
func (s *Server) Close() {
	s.sessionManager.Close()
}

// GetSessionManager returns the session manager
func (s *Server) GetSessionManager() *vm.SessionManager {
	return s.sessionManager
}

// GetConfig returns the server configuration
func (s *Server) GetConfig() *config.Config {
	return s.config
}
