// File: internal/observability/metrics.go
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/xkilldash9x/qlik-mcp/internal/session"
)

const namespace = "qlik_mcp"

// Metrics holds the Prometheus collectors for the session core and the
// command endpoint. It implements session.Observer.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionState      *prometheus.GaugeVec
	StateTransitions  *prometheus.CounterVec
	StartAttempts     *prometheus.CounterVec
	Recoveries        *prometheus.CounterVec
	OperationAttempts *prometheus.CounterVec

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

var _ session.Observer = (*Metrics)(nil)

// NewMetrics registers every collector on a fresh registry, so several
// instances can coexist in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		SessionState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "session_state",
				Help:      "1 for the current session state, 0 for every other state",
			},
			[]string{"state"},
		),
		StateTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_transitions_total",
				Help:      "Session state transitions",
			},
			[]string{"from", "to"},
		),
		StartAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_start_attempts_total",
				Help:      "Session start attempts by outcome",
			},
			[]string{"result"},
		),
		Recoveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_recoveries_total",
				Help:      "Recovery calls by outcome",
			},
			[]string{"outcome"},
		),
		OperationAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operation_attempts_total",
				Help:      "Remote operation attempts by operation and result",
			},
			[]string{"operation", "result"},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
	m.setState(session.Uninitialized)
	return m
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) StateChanged(from, to session.State) {
	m.StateTransitions.WithLabelValues(from.String(), to.String()).Inc()
	m.setState(to)
}

func (m *Metrics) StartAttempt(err error) {
	m.StartAttempts.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) Recovery(outcome string) {
	m.Recoveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) OperationAttempt(op string, err error) {
	m.OperationAttempts.WithLabelValues(op, resultLabel(err)).Inc()
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, statusClass(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) setState(current session.State) {
	for _, s := range []session.State{session.Uninitialized, session.Starting, session.Ready, session.Degraded, session.Failed} {
		v := 0.0
		if s == current {
			v = 1
		}
		m.SessionState.WithLabelValues(s.String()).Set(v)
	}
}

// resultLabel keeps label cardinality bounded to the error taxonomy.
func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	if kind := session.KindOf(err); kind != session.KindUnknown {
		return string(kind)
	}
	return "error"
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
