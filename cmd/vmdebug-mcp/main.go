package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ctagard/vmdebug-mcp/internal/config"
	"github.com/ctagard/vmdebug-mcp/internal/dapserver"
	"github.com/ctagard/vmdebug-mcp/internal/logflags"
	"github.com/ctagard/vmdebug-mcp/internal/mcp"
	"github.com/ctagard/vmdebug-mcp/internal/version"
	"github.com/ctagard/vmdebug-mcp/internal/vm"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		cfgFile string
		cfg     *config.Config
	)

	rootCommand := &cobra.Command{
		Use:   "vmdebug-mcp",
		Short: "Debug VMs started with --debug:<port> from MCP clients and DAP front ends.",
		Long: `vmdebug-mcp connects to the debug server of a VM started with --debug:<port>
and exposes it as MCP tools (serve) or as a Debug Adapter Protocol server (dap).

Configuration is read from defaults, an optional YAML file (--config),
VMDEBUG_* environment variables (VMDEBUG_VM_PORT=5859) and flags, in that order.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			return logflags.Setup(cfg.Log.Enabled, cfg.Log.Layers)
		},
	}

	d := config.DefaultConfig()
	flags := rootCommand.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to a YAML configuration file.")
	flags.String("mode", string(d.Mode), "Capability mode: 'readonly' or 'full'.")
	flags.Bool("allow-spawn", d.AllowSpawn, "Allow vm_launch to start VMs (full mode only).")
	flags.Bool("allow-evaluate", d.AllowEvaluate, "Allow expression evaluation.")
	flags.Int("max-sessions", d.MaxSessions, "Maximum number of concurrent VM sessions.")
	flags.Duration("session-timeout", d.SessionTimeout, "Idle time after which a session is closed.")
	flags.String("vm-host", d.VM.Host, "Default host of the VM debug server.")
	flags.Int("vm-port", d.VM.Port, "Default port of the VM debug server.")
	flags.Duration("vm-dial-timeout", d.VM.DialTimeout, "Timeout for connecting to a VM debug server.")
	flags.String("vm-executable", d.VM.Executable, "VM executable used by vm_launch.")
	flags.StringSlice("vm-args", nil, "Extra VM flags used by vm_launch, placed before the script.")
	flags.Int("vm-connect-retries", d.VM.ConnectRetries, "Connect attempts after launching a VM.")
	flags.Int("cache-source-entries", d.Cache.SourceEntries, "Script sources cached per connection.")
	flags.Bool("log", false, "Enable debug logging to stderr.")
	flags.String("log-output", "", "Comma separated list of layers that should produce debug output: wire, vm, mcp, dap, launcher.")
	flags.String("dap-listen", d.DAP.Listen, "Listen address of the DAP server.")

	rootCommand.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve the vm_* MCP tools over stdio.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveMCP(cfg)
		},
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "dap",
		Short: "Serve the Debug Adapter Protocol over TCP on --dap-listen.",
		Long: `Starts a DAP server. Each client attaches to a VM with an attach request
whose arguments are {"host": "...", "port": N}.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveDAP(cmd.Context(), cfg)
		},
	})

	var checkUpdates bool
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "vmdebug-mcp version %s\n", version.Version)
			if !checkUpdates {
				return nil
			}
			info := version.NewChecker().CheckForUpdates(cmd.Context())
			switch {
			case info.Error != "":
				return fmt.Errorf("update check failed: %s", info.Error)
			case info.UpdateAvailable:
				fmt.Fprintln(cmd.OutOrStdout(), info.UpdateMessage())
			default:
				fmt.Fprintln(cmd.OutOrStdout(), "vmdebug-mcp is up to date")
			}
			return nil
		},
	}
	versionCommand.Flags().BoolVar(&checkUpdates, "check", false, "Check GitHub for a newer release.")
	rootCommand.AddCommand(versionCommand)

	return rootCommand
}

func serveMCP(cfg *config.Config) error {
	log := logflags.MCPLogger()
	server := mcp.NewServer(cfg, version.Version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("Shutting down...")
		server.Close()
		os.Exit(0)
	}()

	log.Infof("vmdebug-mcp %s serving MCP on stdio (mode %s)", version.Version, cfg.Mode)
	err := server.ServeStdio()
	server.Close()
	return err
}

func serveDAP(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sm := vm.NewSessionManager(cfg.MaxSessions, cfg.SessionTimeout, vm.Options{
		DialTimeout:     cfg.VM.DialTimeout,
		SourceCacheSize: cfg.Cache.SourceEntries,
	})
	defer sm.Close()

	return dapserver.NewServer(cfg, sm).ListenAndServe(ctx)
}
