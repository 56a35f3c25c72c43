// File: cmd/root_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/qlik-mcp/internal/config"
	"github.com/xkilldash9x/qlik-mcp/internal/observability"
	"github.com/xkilldash9x/qlik-mcp/internal/service"
)

// resetForTest restores package state and silences the global logger.
func resetForTest(t *testing.T) {
	t.Helper()
	original := newComponents
	t.Cleanup(func() {
		newComponents = original
		observability.ResetForTest()
	})
	observability.ResetForTest()
	for _, key := range []string{"QLIK_SERVER", "QLIK_USERNAME", "QLIK_PASSWORD", "QLIK_SESSION_MAX_RETRIES"} {
		t.Setenv(key, "")
	}
}

// writeConfig creates a config file that keeps logs off disk.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "logger:\n  level: fatal\n  log_file: \"\"\n" + body
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCmd_VersionFlag(t *testing.T) {
	resetForTest(t)
	out, err := executeCommand(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestVersionCommandNeedsNoConfig(t *testing.T) {
	resetForTest(t)
	out, err := executeCommand(t, "version", "-c", writeConfig(t, ""))
	require.NoError(t, err)
	assert.Contains(t, out, "qlik-mcp version "+Version)
}

func TestRootCmd_NoArgsPrintsHelp(t *testing.T) {
	resetForTest(t)
	out, err := executeCommand(t)
	require.NoError(t, err)
	assert.Contains(t, out, "browser-authenticated command bridge")
	assert.Contains(t, out, "serve")
	assert.Contains(t, out, "script")
}

func TestMissingServerFailsValidation(t *testing.T) {
	resetForTest(t)
	called := false
	newComponents = func(context.Context, config.Interface, *zap.Logger) (*service.Components, error) {
		called = true
		return nil, errors.New("unreachable")
	}

	_, err := executeCommand(t, "apps", "-c", writeConfig(t, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QLIK_SERVER")
	assert.False(t, called)
}

func TestUnreadableConfigFile(t *testing.T) {
	resetForTest(t)
	_, err := executeCommand(t, "tasks", "-c", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestConfigPrecedence(t *testing.T) {
	resetForTest(t)
	t.Setenv("QLIK_PASSWORD", "from-env")
	t.Setenv("QLIK_SESSION_MAX_RETRIES", "5")

	var captured config.Interface
	newComponents = func(_ context.Context, cfg config.Interface, _ *zap.Logger) (*service.Components, error) {
		captured = cfg
		return nil, errors.New("stop here")
	}

	path := writeConfig(t, `
qlik:
  server: qlik.example.com
  username: svc_qlik
mcp:
  listen_addr: 127.0.0.1:7000
browser:
  headless: true
`)
	_, err := executeCommand(t, "serve", "-c", path, "--listen", "127.0.0.1:9999", "--headless=false", "--metrics=false")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop here")

	require.NotNil(t, captured)
	assert.Equal(t, "https://qlik.example.com", captured.Qlik().ServerURL())
	assert.Equal(t, "from-env", captured.Qlik().Password)
	assert.Equal(t, 5, captured.Session().MaxRetries)
	assert.Equal(t, "127.0.0.1:9999", captured.MCP().ListenAddr, "flag overrides the file")
	assert.False(t, captured.Browser().Headless)
	assert.False(t, captured.Metrics().Enabled)
}

func TestSubcommandArgumentValidation(t *testing.T) {
	resetForTest(t)
	cases := [][]string{
		{"logs"},
		{"logs", "a", "b"},
		{"apps", "a", "b"},
		{"script", "get"},
		{"tasks", "extra"},
	}
	for _, args := range cases {
		root := NewRootCommand()
		root.PersistentPreRunE = nil
		root.SetOut(new(bytes.Buffer))
		root.SetErr(new(bytes.Buffer))
		root.SetArgs(args)
		assert.Error(t, root.ExecuteContext(context.Background()), "args %v", args)
	}
}

func TestConfigFromContextRequiresConfig(t *testing.T) {
	_, err := configFromContext(context.Background())
	assert.Error(t, err)

	cmd := &cobra.Command{}
	cmd.SetContext(context.WithValue(context.Background(), configKey, config.NewDefaultConfig()))
	cfg, err := configFromContext(cmd.Context())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8765", cfg.MCP().ListenAddr)
}
