// Package config provides configuration management for the vmdebug-mcp server.
//
// Configuration controls:
//   - Capability mode (readonly vs full): determines which tools are available
//   - Permission flags: control spawning VMs and evaluating expressions
//   - VM settings: default host/port, dial timeout, executable and its flags
//   - Safety limits: maximum sessions and session timeout
//
// Values are layered with koanf. Defaults are overridden by an optional YAML
// file, then by VMDEBUG_* environment variables, then by explicitly set flags.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "VMDEBUG_"

// sections are the nested config blocks; env and flag keys starting with one
// of these are split into "section.key".
var sections = []string{"vm", "cache", "log", "dap"}

// CapabilityMode defines the level of debugging capabilities exposed
type CapabilityMode string

const (
	ModeReadOnly CapabilityMode = "readonly" // Only inspection tools
	ModeFull     CapabilityMode = "full"     // All tools enabled
)

// Config holds the server configuration
type Config struct {
	// Capability levels
	Mode          CapabilityMode `koanf:"mode"`
	AllowSpawn    bool           `koanf:"allow_spawn"`
	AllowEvaluate bool           `koanf:"allow_evaluate"`

	// Limits for safety
	MaxSessions    int           `koanf:"max_sessions"`
	SessionTimeout time.Duration `koanf:"session_timeout"`

	VM    VMConfig    `koanf:"vm"`
	Cache CacheConfig `koanf:"cache"`
	Log   LogConfig   `koanf:"log"`
	DAP   DAPConfig   `koanf:"dap"`
}

// VMConfig holds settings for reaching and launching a debuggable VM.
type VMConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
	Executable  string        `koanf:"executable"`
	VMArgs      []string      `koanf:"vm_args"`
	// ConnectRetries bounds the connect attempts made after spawning a VM.
	ConnectRetries int `koanf:"connect_retries"`
}

// CacheConfig sizes the per-connection caches.
type CacheConfig struct {
	SourceEntries int `koanf:"source_entries"`
}

// LogConfig enables per-layer debug logging.
type LogConfig struct {
	Enabled bool   `koanf:"enabled"`
	Layers  string `koanf:"layers"`
}

// DAPConfig configures the Debug Adapter Protocol bridge.
type DAPConfig struct {
	Listen string `koanf:"listen"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Mode:           ModeFull,
		AllowSpawn:     true,
		AllowEvaluate:  true,
		MaxSessions:    10,
		SessionTimeout: 30 * time.Minute,
		VM: VMConfig{
			Host:           "127.0.0.1",
			Port:           5858,
			DialTimeout:    5 * time.Second,
			Executable:     "dart",
			ConnectRetries: 25,
		},
		Cache: CacheConfig{SourceEntries: 64},
		DAP:   DAPConfig{Listen: "127.0.0.1:4711"},
	}
}

func defaultMap() map[string]interface{} {
	d := DefaultConfig()
	return map[string]interface{}{
		"mode":            string(d.Mode),
		"allow_spawn":     d.AllowSpawn,
		"allow_evaluate":  d.AllowEvaluate,
		"max_sessions":    d.MaxSessions,
		"session_timeout": d.SessionTimeout.String(),

		"vm.host":            d.VM.Host,
		"vm.port":            d.VM.Port,
		"vm.dial_timeout":    d.VM.DialTimeout.String(),
		"vm.executable":      d.VM.Executable,
		"vm.vm_args":         []string{},
		"vm.connect_retries": d.VM.ConnectRetries,

		"cache.source_entries": d.Cache.SourceEntries,

		"log.enabled": d.Log.Enabled,
		"log.layers":  d.Log.Layers,

		"dap.listen": d.DAP.Listen,
	}
}

// Load builds the configuration from defaults, cfgFile (optional), the
// environment and flags. Only flags the user actually set take effect.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultMap(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", cfgFile, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			return flagKey(f.Name), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps VMDEBUG_VM_DIAL_TIMEOUT to vm.dial_timeout.
func envKey(s string) string {
	return sectionKey(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)))
}

// flagAliases maps flags whose names don't follow the section-key pattern.
var flagAliases = map[string]string{
	"log":        "log.enabled",
	"log-output": "log.layers",
	"vm-args":    "vm.vm_args",
}

// flagKey maps --vm-dial-timeout to vm.dial_timeout.
func flagKey(name string) string {
	if key, ok := flagAliases[name]; ok {
		return key
	}
	return sectionKey(strings.ReplaceAll(name, "-", "_"))
}

func sectionKey(key string) string {
	for _, s := range sections {
		if strings.HasPrefix(key, s+"_") {
			return s + "." + strings.TrimPrefix(key, s+"_")
		}
	}
	return key
}

// Validate checks the loaded values for consistency.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeReadOnly, ModeFull:
	default:
		return fmt.Errorf("invalid mode %q (expected %q or %q)", c.Mode, ModeReadOnly, ModeFull)
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be positive, got %d", c.MaxSessions)
	}
	if c.VM.Port < 0 || c.VM.Port > 65535 {
		return fmt.Errorf("vm.port out of range: %d", c.VM.Port)
	}
	if c.Cache.SourceEntries <= 0 {
		return fmt.Errorf("cache.source_entries must be positive, got %d", c.Cache.SourceEntries)
	}
	return nil
}

// VMAddress returns the default host:port to attach to.
func (c *Config) VMAddress() string {
	return net.JoinHostPort(c.VM.Host, strconv.Itoa(c.VM.Port))
}

// CanUseControlTools returns true if control tools are enabled
func (c *Config) CanUseControlTools() bool {
	return c.Mode == ModeFull
}

// CanSpawn returns true if launching VMs is allowed
func (c *Config) CanSpawn() bool {
	return c.Mode == ModeFull && c.AllowSpawn
}

// CanEvaluate returns true if expression evaluation is allowed
func (c *Config) CanEvaluate() bool {
	return c.AllowEvaluate
}
