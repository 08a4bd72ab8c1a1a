package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("mode", "full", "")
	fs.Int("max-sessions", 10, "")
	fs.String("vm-host", "127.0.0.1", "")
	fs.Int("vm-port", 5858, "")
	fs.Duration("vm-dial-timeout", 5*time.Second, "")
	fs.StringSlice("vm-args", nil, "")
	fs.Bool("log", false, "")
	fs.String("log-output", "vm", "")
	return fs
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vmdebug.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, def.Mode, cfg.Mode)
	assert.Equal(t, def.MaxSessions, cfg.MaxSessions)
	assert.Equal(t, def.SessionTimeout, cfg.SessionTimeout)
	assert.Equal(t, def.VM.Host, cfg.VM.Host)
	assert.Equal(t, def.VM.Port, cfg.VM.Port)
	assert.Equal(t, def.VM.DialTimeout, cfg.VM.DialTimeout)
	assert.Equal(t, def.Cache.SourceEntries, cfg.Cache.SourceEntries)
	assert.Equal(t, "127.0.0.1:5858", cfg.VMAddress())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
mode: readonly
max_sessions: 3
session_timeout: 2m
vm:
  host: 10.0.0.5
  port: 9000
  vm_args: ["--checked"]
cache:
  source_entries: 8
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, ModeReadOnly, cfg.Mode)
	assert.Equal(t, 3, cfg.MaxSessions)
	assert.Equal(t, 2*time.Minute, cfg.SessionTimeout)
	assert.Equal(t, "10.0.0.5", cfg.VM.Host)
	assert.Equal(t, 9000, cfg.VM.Port)
	assert.Equal(t, []string{"--checked"}, cfg.VM.VMArgs)
	assert.Equal(t, 8, cfg.Cache.SourceEntries)
	// untouched keys keep their defaults
	assert.Equal(t, "dart", cfg.VM.Executable)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config file")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "vm:\n  port: 9000\n")
	t.Setenv("VMDEBUG_VM_PORT", "9100")
	t.Setenv("VMDEBUG_MAX_SESSIONS", "4")
	t.Setenv("VMDEBUG_VM_DIAL_TIMEOUT", "750ms")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.VM.Port)
	assert.Equal(t, 4, cfg.MaxSessions)
	assert.Equal(t, 750*time.Millisecond, cfg.VM.DialTimeout)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("VMDEBUG_VM_PORT", "9100")
	fs := testFlags()
	require.NoError(t, fs.Parse([]string{"--vm-port=9200", "--log", "--log-output=wire,vm", "--vm-args=--checked"}))

	cfg, err := Load("", fs)
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.VM.Port)
	assert.True(t, cfg.Log.Enabled)
	assert.Equal(t, "wire,vm", cfg.Log.Layers)
	assert.Equal(t, []string{"--checked"}, cfg.VM.VMArgs)
}

func TestLoad_UnchangedFlagsIgnored(t *testing.T) {
	path := writeConfig(t, "vm:\n  host: 10.1.1.1\n")
	fs := testFlags()
	require.NoError(t, fs.Parse(nil))

	cfg, err := Load(path, fs)
	require.NoError(t, err)
	assert.Equal(t, "10.1.1.1", cfg.VM.Host)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		errSubstr string
	}{
		{"bad mode", "mode: admin\n", "invalid mode"},
		{"zero sessions", "max_sessions: 0\n", "max_sessions must be positive"},
		{"port range", "vm:\n  port: 70000\n", "vm.port out of range"},
		{"cache size", "cache:\n  source_entries: 0\n", "cache.source_entries must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

func TestKeyMapping(t *testing.T) {
	assert.Equal(t, "vm.dial_timeout", envKey("VMDEBUG_VM_DIAL_TIMEOUT"))
	assert.Equal(t, "max_sessions", envKey("VMDEBUG_MAX_SESSIONS"))
	assert.Equal(t, "cache.source_entries", envKey("VMDEBUG_CACHE_SOURCE_ENTRIES"))

	assert.Equal(t, "vm.vm_args", flagKey("vm-args"))
	assert.Equal(t, "vm.host", flagKey("vm-host"))
	assert.Equal(t, "log.enabled", flagKey("log"))
	assert.Equal(t, "log.layers", flagKey("log-output"))
	assert.Equal(t, "allow_spawn", flagKey("allow-spawn"))
}

func TestCapabilities(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.CanUseControlTools())
	assert.True(t, cfg.CanSpawn())
	assert.True(t, cfg.CanEvaluate())

	cfg.Mode = ModeReadOnly
	assert.False(t, cfg.CanUseControlTools())
	assert.False(t, cfg.CanSpawn(), "readonly mode never spawns")

	cfg.Mode = ModeFull
	cfg.AllowSpawn = false
	cfg.AllowEvaluate = false
	assert.False(t, cfg.CanSpawn())
	assert.False(t, cfg.CanEvaluate())
}
