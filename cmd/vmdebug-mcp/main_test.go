package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctagard/vmdebug-mcp/internal/version"
)

func execute(args ...string) (string, error) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute("version")
	require.NoError(t, err)
	assert.Contains(t, out, "vmdebug-mcp version "+version.Version)
}

func TestInvalidFlagsRejected(t *testing.T) {
	_, err := execute("version", "--mode=bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid mode")

	_, err = execute("version", "--log-output=vm")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without enabling logging")

	_, err = execute("version", "--config=/nonexistent/vmdebug.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config file")
}

func TestSubcommandsRegistered(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"serve", "dap", "version"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
}
