package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/voicegate/internal/apperrors"
	"github.com/antoniostano/voicegate/internal/observability"
	"github.com/antoniostano/voicegate/internal/reliability"
)

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) ServiceToken(string) (string, error) { return s.token, s.err }

func newTestDispatcher(t *testing.T, serverURL string, attempts int, timeout time.Duration) (*RPCDispatcher, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	d, err := NewRPCDispatcher(Config{
		Protocol:    "rpc",
		ServerURL:   serverURL,
		Timeout:     timeout,
		MaxAttempts: attempts,
		Tokens:      staticTokens{token: "svc-token"},
		Metrics:     metrics,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)
	return d, metrics
}

func receive(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case res, ok := <-ch:
		require.True(t, ok, "result channel closed without a result")
		_, open := <-ch
		require.False(t, open, "result channel must close after one result")
		return res
	case <-time.After(5 * time.Second):
		t.Fatalf("dispatch result not delivered")
		return Result{}
	}
}

func TestRPCDispatchSendsDirective(t *testing.T) {
	req := require.New(t)
	var got createDispatchRequest
	var auth, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"AD_123","agent_name":"agent_male_voice"}`))
	}))
	defer srv.Close()

	d, metrics := newTestDispatcher(t, srv.URL, 1, time.Second)
	res := receive(t, d.Dispatch(context.Background(), "room-1", Directive{
		AgentName: "agent_male_voice",
		Metadata:  `{"personality":"male"}`,
	}))

	req.NoError(res.Err)
	req.Equal("AD_123", res.DispatchID)
	req.Equal(1, res.Attempts)
	req.Equal(createDispatchPath, path)
	req.Equal("Bearer svc-token", auth)
	req.Equal(createDispatchRequest{Room: "room-1", AgentName: "agent_male_voice", Metadata: `{"personality":"male"}`}, got)
	req.Equal(1.0, testutil.ToFloat64(metrics.DispatchOutcomes.WithLabelValues("ok")))
}

func TestRPCDispatchRetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id":"AD_2"}`))
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(t, srv.URL, 3, 2*time.Second)
	res := receive(t, d.Dispatch(context.Background(), "room-2", Directive{AgentName: "agent_female_voice"}))

	require.NoError(t, res.Err)
	require.Equal(t, 2, res.Attempts)
	require.Equal(t, int32(2), calls.Load())
}

func TestRPCDispatchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"code":"unauthenticated","msg":"bad token svc-token"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	d, metrics := newTestDispatcher(t, srv.URL, 3, time.Second)
	res := receive(t, d.Dispatch(context.Background(), "room-3", Directive{AgentName: "agent_male_voice"}))

	require.Error(t, res.Err)
	require.True(t, errors.Is(res.Err, apperrors.ErrDispatch))
	require.NotContains(t, res.Err.Error(), "svc-token")
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.DispatchOutcomes.WithLabelValues("error")))
}

func TestRPCDispatchTimeoutIsBounded(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	d, _ := newTestDispatcher(t, srv.URL, 2, 50*time.Millisecond)
	started := time.Now()
	res := receive(t, d.Dispatch(context.Background(), "room-4", Directive{AgentName: "agent_male_voice"}))

	require.Error(t, res.Err)
	require.Less(t, time.Since(started), 2*time.Second)
}

func TestRPCDispatchSurvivesCallerCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte(`{"id":"AD_5"}`))
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(t, srv.URL, 1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	ch := d.Dispatch(ctx, "room-5", Directive{AgentName: "agent_male_voice"})
	cancel()

	res := receive(t, ch)
	require.NoError(t, res.Err)
	require.Equal(t, "AD_5", res.DispatchID)
}

func TestRPCDispatchTokenFailure(t *testing.T) {
	d, err := NewRPCDispatcher(Config{
		ServerURL:   "wss://example.livekit.cloud",
		MaxAttempts: 3,
		Tokens:      staticTokens{err: errors.New("signer not configured")},
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)

	res := receive(t, d.Dispatch(context.Background(), "room-6", Directive{AgentName: "a"}))
	require.Error(t, res.Err)
	require.ErrorIs(t, res.Err, reliability.ErrPermanent)
	require.Equal(t, 1, res.Attempts)
	require.Less(t, res.Latency, 100*time.Millisecond)
}

func TestHTTPBaseURL(t *testing.T) {
	cases := map[string]string{
		"wss://proj.livekit.cloud":        "https://proj.livekit.cloud",
		"ws://localhost:7880/":            "http://localhost:7880",
		"https://proj.livekit.cloud/?x=1": "https://proj.livekit.cloud",
		"proj.livekit.cloud":              "https://proj.livekit.cloud",
	}
	for in, want := range cases {
		got, err := HTTPBaseURL(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "ftp://host", "wss://"} {
		_, err := HTTPBaseURL(bad)
		require.Error(t, err, bad)
	}
}

func TestNewDispatcherSelectsOneImplementation(t *testing.T) {
	rpc, err := NewDispatcher(Config{Protocol: "rpc", ServerURL: "wss://x.example", Tokens: staticTokens{}})
	require.NoError(t, err)
	require.Equal(t, ProtocolRPC, rpc.Protocol())
	require.False(t, EmbedsInToken(rpc))

	tok, err := NewDispatcher(Config{Protocol: "token"})
	require.NoError(t, err)
	require.True(t, EmbedsInToken(tok))
	res := receive(t, tok.Dispatch(context.Background(), "r", Directive{AgentName: "a"}))
	require.NoError(t, res.Err)

	none, err := NewDispatcher(Config{Protocol: "none"})
	require.NoError(t, err)
	require.Equal(t, ProtocolNone, none.Protocol())

	_, err = NewDispatcher(Config{Protocol: "sdk-v2"})
	require.Error(t, err)
}

func TestRPCDispatchWaitDrainsInflight(t *testing.T) {
	release := make(chan struct{})
	var served atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		served.Add(1)
		_, _ = w.Write([]byte(`{"id":"AD_wait"}`))
	}))
	t.Cleanup(srv.Close)

	d, err := NewRPCDispatcher(Config{
		ServerURL: srv.URL,
		Timeout:   5 * time.Second,
		Tokens:    staticTokens{token: "svc"},
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	pending := d.Dispatch(context.Background(), "room-wait", Directive{AgentName: "a"})

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.Wait(short), context.DeadlineExceeded)

	close(release)
	require.NoError(t, d.Wait(context.Background()))
	require.Equal(t, int32(1), served.Load())
	require.NoError(t, receive(t, pending).Err)
}
