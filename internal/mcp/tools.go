package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// registerTools registers the vm_* tool API
func (s *Server) registerTools() {
	// Session Management (both modes)
	s.registerVMConnect()
	s.registerVMLaunch()
	s.registerVMDisconnect()
	s.registerVMListSessions()

	// Inspection (both modes)
	s.registerVMIsolates()
	s.registerVMSnapshot()
	s.registerVMEvaluate()
	s.registerVMSource()
	s.registerVMLibraries()

	// Control (full mode only)
	if s.config.CanUseControlTools() {
		s.registerVMBreakpoints()
		s.registerVMStep()
		s.registerVMResume()
		s.registerVMPause()
		s.registerVMPauseOnException()
	}
}

// Session Management Tools

func (s *Server) registerVMConnect() {
	tool := mcp.NewTool("vm_connect",
		mcp.WithDescription("Attach to a VM that was started with --debug:<port>. Returns the sessionId needed by every other tool, and the isolates known right after connecting."),
		mcp.WithString("host",
			mcp.Description("Host of the VM debug server (default from server config, usually 127.0.0.1)"),
		),
		mcp.WithNumber("port",
			mcp.Description("Port of the VM debug server (default from server config, usually 5858)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleVMConnect)
}

func (s *Server) registerVMLaunch() {
	tool := mcp.NewTool("vm_launch",
		mcp.WithDescription("Start a script in a new VM with its debug server enabled and attach to it. Returns sessionId and the VM process id."),
		mcp.WithString("script",
			mcp.Required(),
			mcp.Description("Path of the script to run"),
		),
		mcp.WithString("args",
			mcp.Description("JSON array of arguments passed to the script, e.g. [\"--verbose\", \"input.txt\"]"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleVMLaunch)
}

func (s *Server) registerVMDisconnect() {
	tool := mcp.NewTool("vm_disconnect",
		mcp.WithDescription("Close a session. A VM started by vm_launch is killed with it."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID to disconnect from"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleVMDisconnect)
}

func (s *Server) registerVMListSessions() {
	tool := mcp.NewTool("vm_list_sessions",
		mcp.WithDescription("List all active VM sessions"),
	)
	s.mcpServer.AddTool(tool, s.handleVMListSessions)
}

// Inspection Tools

func (s *Server) registerVMIsolates() {
	tool := mcp.NewTool("vm_isolates",
		mcp.WithDescription("List the isolates of a session with their paused and stepping state, plus the recent debugger events."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleVMIsolates)
}

func (s *Server) registerVMSnapshot() {
	tool := mcp.NewTool("vm_snapshot",
		mcp.WithDescription("Get the state of every paused isolate in ONE call: stack frames with source lines and local variables, plus the pending exception. This is the primary inspection tool."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
		mcp.WithNumber("isolateId",
			mcp.Description("Specific isolate, or omit for all paused isolates"),
		),
		mcp.WithNumber("maxStackDepth",
			mcp.Description("Maximum stack depth to return per isolate (default: 20)"),
		),
		mcp.WithBoolean("includeLocals",
			mcp.Description("Include local variables of each frame (default: true)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleVMSnapshot)
}

func (s *Server) registerVMEvaluate() {
	tool := mcp.NewTool("vm_evaluate",
		mcp.WithDescription("Evaluate an expression in a paused isolate. The scope is a call frame (default: top frame), an object, a class or a library."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
		mcp.WithString("expression",
			mcp.Required(),
			mcp.Description("Expression to evaluate, e.g. 'items.length' or 'toString()'"),
		),
		mcp.WithNumber("isolateId",
			mcp.Description("Isolate to evaluate in (default: the first paused isolate)"),
		),
		mcp.WithString("target",
			mcp.Description("Evaluation scope: 'frame' (default), 'object', 'class' or 'library'"),
		),
		mcp.WithNumber("frameIndex",
			mcp.Description("Index of the call frame for target=frame, 0 is the top frame (default: 0)"),
		),
		mcp.WithNumber("targetId",
			mcp.Description("Object, class or library id for the other targets, as reported by vm_snapshot or vm_libraries"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleVMEvaluate)
}

func (s *Server) registerVMSource() {
	tool := mcp.NewTool("vm_source",
		mcp.WithDescription("Get the source text of a script as loaded by the VM. Optionally limited to a line range."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
		mcp.WithNumber("libraryId",
			mcp.Required(),
			mcp.Description("Library containing the script"),
		),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Script URL as reported by vm_libraries or vm_snapshot"),
		),
		mcp.WithNumber("isolateId",
			mcp.Description("Isolate to query (default: the first paused isolate)"),
		),
		mcp.WithNumber("startLine",
			mcp.Description("First line to return, 1-based"),
		),
		mcp.WithNumber("endLine",
			mcp.Description("Last line to return, inclusive"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleVMSource)
}

func (s *Server) registerVMLibraries() {
	tool := mcp.NewTool("vm_libraries",
		mcp.WithDescription("List the libraries loaded in a paused isolate. With libraryId, list that library's script URLs and global variables instead."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
		mcp.WithNumber("isolateId",
			mcp.Description("Isolate to query (default: the first paused isolate)"),
		),
		mcp.WithNumber("libraryId",
			mcp.Description("Show details of one library"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleVMLibraries)
}

// Control Tools (Full mode only)

func (s *Server) registerVMBreakpoints() {
	tool := mcp.NewTool("vm_breakpoints",
		mcp.WithDescription("Set, remove or list breakpoints. Setting a breakpoint in a running isolate interrupts it briefly and resumes it afterwards."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
		mcp.WithString("action",
			mcp.Required(),
			mcp.Description("'set', 'remove' or 'list'"),
		),
		mcp.WithString("url",
			mcp.Description("Script URL for action=set, e.g. file:/home/me/app/bin/main.dart"),
		),
		mcp.WithNumber("line",
			mcp.Description("1-based line for action=set"),
		),
		mcp.WithNumber("breakpointId",
			mcp.Description("Breakpoint to delete for action=remove"),
		),
		mcp.WithNumber("isolateId",
			mcp.Description("Isolate (default: the first paused isolate, else the first isolate)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleVMBreakpoints)
}

func (s *Server) registerVMStep() {
	tool := mcp.NewTool("vm_step",
		mcp.WithDescription("Step a paused isolate: 'over' the current line, 'into' a call, or 'out' of the current function. Use vm_snapshot afterwards to see where it stopped."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
		mcp.WithString("type",
			mcp.Required(),
			mcp.Description("'over', 'into' or 'out'"),
		),
		mcp.WithNumber("isolateId",
			mcp.Description("Isolate to step (default: the first paused isolate)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleVMStep)
}

func (s *Server) registerVMResume() {
	tool := mcp.NewTool("vm_resume",
		mcp.WithDescription("Resume a paused isolate"),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
		mcp.WithNumber("isolateId",
			mcp.Description("Isolate to resume (default: the first paused isolate)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleVMResume)
}

func (s *Server) registerVMPause() {
	tool := mcp.NewTool("vm_pause",
		mcp.WithDescription("Interrupt a running isolate and wait until it reports the pause"),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
		mcp.WithNumber("isolateId",
			mcp.Required(),
			mcp.Description("Isolate to interrupt"),
		),
		mcp.WithNumber("timeoutMs",
			mcp.Description("How long to wait for the pause (default: 5000)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleVMPause)
}

func (s *Server) registerVMPauseOnException() {
	tool := mcp.NewTool("vm_pause_on_exception",
		mcp.WithDescription("Choose which exceptions stop an isolate"),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
		mcp.WithString("mode",
			mcp.Required(),
			mcp.Description("'all', 'unhandled' or 'none'"),
		),
		mcp.WithNumber("isolateId",
			mcp.Description("Isolate (default: the first paused isolate, else the first isolate)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleVMPauseOnException)
}
