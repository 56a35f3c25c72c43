package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/qlik-mcp/internal/config"
	"github.com/xkilldash9x/qlik-mcp/internal/service"
	"github.com/xkilldash9x/qlik-mcp/internal/session"
)

const testAppID = "0b6d6c2e-8f3a-4a55-9d2b-1f0a3a6b7c11"

type fakeResource struct{ closed atomic.Bool }

func (r *fakeResource) ID() string { return "fake" }
func (r *fakeResource) CreatedAt() time.Time { return time.Time{} }
func (r *fakeResource) IsOpen() bool { return !r.closed.Load() }
func (r *fakeResource) Close(context.Context) error { r.closed.Store(true); return nil }

type fakeLauncher struct{ last atomic.Pointer[fakeResource] }

func (l *fakeLauncher) Launch(context.Context) (session.Resource, error) {
	r := &fakeResource{}
	l.last.Store(r)
	return r, nil
}

type fakeAuth struct{}

func (fakeAuth) Authenticate(context.Context, session.Resource, session.Credentials) (string, error) {
	return "tok-123", nil
}

type fakeChecker struct{}

func (fakeChecker) Probe(_ context.Context, res session.Resource) bool { return res.IsOpen() }

// useFakeBrowser routes commands through the real factory with the browser
// replaced by in-memory fakes.
func useFakeBrowser(t *testing.T) *fakeLauncher {
	t.Helper()
	launcher := &fakeLauncher{}
	newComponents = func(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*service.Components, error) {
		return service.NewComponentFactory().Create(ctx, cfg, logger,
			service.WithLauncher(launcher),
			service.WithAuthenticator(fakeAuth{}),
			service.WithHealthChecker(fakeChecker{}),
		)
	}
	return launcher
}

func qrsServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if c, err := r.Cookie("X-Qlik-Session"); err != nil || c.Value != "tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/qrs/app/full":
			fmt.Fprint(w, `[{"id":"a1","name":"Sales","stream":{"id":"s1","name":"Finance"}}]`)
		case "/qrs/app/" + testAppID:
			fmt.Fprintf(w, `{"id":%q,"name":"Sales"}`, testAppID)
		case "/qrs/task/full":
			fmt.Fprint(w, `[{"id":"t1","name":"Nightly","enabled":true}]`)
		case "/qrs/about":
			fmt.Fprint(w, `{"buildVersion":"14.20.5"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func qrsConfig(t *testing.T, server string) string {
	t.Helper()
	return writeConfig(t, fmt.Sprintf(`
qlik:
  server: %s
  username: svc_qlik
  password: secret
metrics:
  enabled: false
`, server))
}

func TestAppsCommand(t *testing.T) {
	resetForTest(t)
	launcher := useFakeBrowser(t)
	var hits atomic.Int32
	srv := qrsServer(t, &hits)

	out, err := executeCommand(t, "apps", "-c", qrsConfig(t, srv.URL))
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "Sales"`)
	assert.Contains(t, out, `"stream": "Finance"`)
	assert.False(t, launcher.last.Load().IsOpen(), "session must be stopped after the command")

	out, err = executeCommand(t, "apps", testAppID, "-c", qrsConfig(t, srv.URL))
	require.NoError(t, err)
	assert.Contains(t, out, testAppID)
}

func TestAppsCommandRejectsBadID(t *testing.T) {
	resetForTest(t)
	useFakeBrowser(t)
	var hits atomic.Int32
	srv := qrsServer(t, &hits)

	_, err := executeCommand(t, "apps", "not-a-uuid", "-c", qrsConfig(t, srv.URL))
	require.Error(t, err)
	assert.True(t, errors.Is(err, session.ErrValidation))
	assert.Zero(t, hits.Load())
}

func TestTasksAndInfoCommands(t *testing.T) {
	resetForTest(t)
	useFakeBrowser(t)
	var hits atomic.Int32
	srv := qrsServer(t, &hits)

	out, err := executeCommand(t, "tasks", "-c", qrsConfig(t, srv.URL))
	require.NoError(t, err)
	assert.Contains(t, out, "Nightly")

	out, err = executeCommand(t, "info", "-c", qrsConfig(t, srv.URL))
	require.NoError(t, err)
	assert.Contains(t, out, "14.20.5")
}

func TestStatusCommand(t *testing.T) {
	resetForTest(t)
	useFakeBrowser(t)

	out, err := executeCommand(t, "status", "-c", qrsConfig(t, "qlik.example.com"))
	require.NoError(t, err)
	assert.Contains(t, out, `"state": "READY"`)
	assert.Contains(t, out, `"healthy": true`)
	assert.Contains(t, out, `"authenticated": true`)
}

func TestReadScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "load.qvs")
	require.NoError(t, os.WriteFile(path, []byte("LOAD * FROM x;"), 0o600))

	cmd := &cobra.Command{}
	got, err := readScript(cmd, path)
	require.NoError(t, err)
	assert.Equal(t, "LOAD * FROM x;", got)

	cmd.SetIn(strings.NewReader("LOAD 1;"))
	got, err = readScript(cmd, "-")
	require.NoError(t, err)
	assert.Equal(t, "LOAD 1;", got)

	_, err = readScript(cmd, filepath.Join(t.TempDir(), "absent.qvs"))
	assert.Error(t, err)
}

func TestScriptSetRejectsEmptyScript(t *testing.T) {
	resetForTest(t)
	useFakeBrowser(t)

	root := NewRootCommand()
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetIn(strings.NewReader("   \n"))
	root.SetArgs([]string{"script", "set", testAppID, "-c", qrsConfig(t, "qlik.example.com")})

	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, session.ErrValidation))
}
