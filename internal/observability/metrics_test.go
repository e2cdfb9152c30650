package observability

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveDispatch(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())
	m.ObserveDispatch("ok", 120*time.Millisecond)
	m.ObserveDispatch("error", time.Second)
	m.ObserveDispatch("ok", 30*time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(m.DispatchOutcomes.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.DispatchOutcomes.WithLabelValues("error")))
}

func TestNilMetricsObserveIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveDispatch("ok", time.Millisecond)
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := NewMetrics("voicegate_test", prometheus.NewRegistry())
	m.JoinRequests.WithLabelValues("ok").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	require.Contains(t, string(body), `voicegate_test_join_requests_total{outcome="ok"} 1`)
}

func TestSetupTracingDisabledIsNoop(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), "voicegate", "", true)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	shutdown, err = SetupTracing(context.Background(), "voicegate", "http://collector:4318", false)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestDispatchLatencyKeepsSubMillisecondPrecision(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("precision", reg)
	m.ObserveDispatch("ok", 1500*time.Microsecond)

	families, err := reg.Gather()
	require.NoError(t, err)
	var sum float64
	for _, mf := range families {
		if mf.GetName() == "precision_dispatch_latency_ms" {
			sum = mf.GetMetric()[0].GetHistogram().GetSampleSum()
		}
	}
	require.Equal(t, 1.5, sum)
	require.Equal(t, 1.5, m.DispatchSnapshot().Outcomes[0].LastMS)
}
