package service

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xkilldash9x/qlik-mcp/internal/session"
)

func TestShutdownStopsSessionOnce(t *testing.T) {
	c, launcher := createTestComponents(t, testConfig())
	require.NoError(t, c.Manager.Start(context.Background()))
	require.True(t, c.Manager.IsRunning())
	res := launcher.last.Load()

	c.Shutdown()
	assert.False(t, c.Manager.IsRunning())
	assert.Equal(t, session.Uninitialized, c.Manager.State())
	assert.False(t, res.IsOpen())

	// A second call must not touch a session started afterwards.
	require.NoError(t, c.Manager.Start(context.Background()))
	c.Shutdown()
	assert.True(t, c.Manager.IsRunning())
	c.Manager.Stop(context.Background())
}

func TestShutdownWithoutStart(t *testing.T) {
	c, launcher := createTestComponents(t, testConfig())
	assert.NotPanics(t, c.Shutdown)
	assert.Zero(t, launcher.launched.Load())
}

func TestRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := testConfig()
	cfg.SessionCfg.HealthCheckInterval = 10 * time.Millisecond
	c, _ := createTestComponents(t, cfg)
	require.NoError(t, c.Manager.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	// Let the monitor tick a few times against the healthy session.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.False(t, c.Manager.IsRunning(), "Run must stop the session on exit")
}

func TestRunFailsWhenAddressTaken(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig()
	cfg.SetMCPListenAddr(ln.Addr().String())
	c, _ := createTestComponents(t, cfg)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run should fail fast when the listener cannot bind")
	}
}
