package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	JoinRequests      *prometheus.CounterVec
	CredentialsIssued *prometheus.CounterVec
	DispatchOutcomes  *prometheus.CounterVec
	DispatchLatency   prometheus.Histogram
	UnroutedSessions  prometheus.Counter

	gatherer prometheus.Gatherer
	window   *dispatchWindow
}

// NewMetrics registers the instruments on reg. Pass prometheus.NewRegistry()
// in tests so repeated construction does not collide.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JoinRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "join_requests_total",
			Help:      "Connection-details requests by outcome.",
		}, []string{"outcome"}),
		CredentialsIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credentials_issued_total",
			Help:      "Participant credentials issued by dispatch protocol and routing.",
		}, []string{"protocol", "routed"}),
		DispatchOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_outcomes_total",
			Help:      "Out-of-band agent dispatch calls by outcome.",
		}, []string{"outcome"}),
		DispatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_latency_ms",
			Help:      "Latency of out-of-band agent dispatch in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000},
		}),
		UnroutedSessions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unrouted_sessions_total",
			Help:      "Join requests that proceeded without an agent.",
		}),
		gatherer: reg,
		window:   newDispatchWindow(128),
	}
}

func (m *Metrics) ObserveDispatch(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.DispatchOutcomes.WithLabelValues(outcome).Inc()
	ms := float64(d.Microseconds()) / 1000
	m.DispatchLatency.Observe(ms)
	m.window.observe(outcome, ms)
}

// DispatchSnapshot reports recent dispatch latencies by outcome.
func (m *Metrics) DispatchSnapshot() DispatchSnapshot {
	if m == nil {
		return newDispatchWindow(0).snapshot()
	}
	return m.window.snapshot()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
