// File: internal/observability/metrics_test.go
package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/qlik-mcp/internal/session"
)

func TestMetricsTrackSessionState(t *testing.T) {
	m := NewMetrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionState.WithLabelValues("UNINITIALIZED")))

	m.StateChanged(session.Uninitialized, session.Starting)
	m.StateChanged(session.Starting, session.Ready)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionState.WithLabelValues("READY")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SessionState.WithLabelValues("STARTING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StateTransitions.WithLabelValues("STARTING", "READY")))
}

func TestMetricsLabelByErrorKind(t *testing.T) {
	m := NewMetrics()
	m.StartAttempt(session.AuthenticationError("login", "rejected", nil))
	m.StartAttempt(nil)
	m.OperationAttempt("list_apps", errors.New("opaque"))
	m.OperationAttempt("list_apps", session.ConnectionError("qrs", "timeout", nil))
	m.Recovery(session.RecoveryRestarted)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StartAttempts.WithLabelValues("AUTHENTICATION_ERROR")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StartAttempts.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationAttempts.WithLabelValues("list_apps", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationAttempts.WithLabelValues("list_apps", "CONNECTION_ERROR")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Recoveries.WithLabelValues("restarted")))
}

func TestMetricsInstancesAreIndependent(t *testing.T) {
	require.NotPanics(t, func() {
		a := NewMetrics()
		b := NewMetrics()
		a.ObserveRequest("GET", "/healthz", 200, time.Millisecond)
		assert.Equal(t, 0.0, testutil.ToFloat64(b.RequestsTotal.WithLabelValues("GET", "/healthz", "2xx")))
		assert.Equal(t, 1.0, testutil.ToFloat64(a.RequestsTotal.WithLabelValues("GET", "/healthz", "2xx")))
	})
}
