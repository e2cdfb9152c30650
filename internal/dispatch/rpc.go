package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/antoniostano/voicegate/internal/apperrors"
	"github.com/antoniostano/voicegate/internal/observability"
	"github.com/antoniostano/voicegate/internal/policy"
	"github.com/antoniostano/voicegate/internal/reliability"
)

const (
	createDispatchPath = "/twirp/livekit.AgentDispatchService/CreateDispatch"

	backoffBase = 100 * time.Millisecond
	backoffCap  = time.Second
)

// RPCDispatcher calls the backend's agent dispatch API over Twirp JSON.
type RPCDispatcher struct {
	endpoint    string
	timeout     time.Duration
	maxAttempts int
	tokens      TokenSource
	client      *http.Client
	metrics     *observability.Metrics
	logger      zerolog.Logger

	inflight sync.WaitGroup
}

func NewRPCDispatcher(cfg Config) (*RPCDispatcher, error) {
	base, err := HTTPBaseURL(cfg.ServerURL)
	if err != nil {
		return nil, err
	}
	if cfg.Tokens == nil {
		return nil, errors.New("rpc dispatch requires a token source")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &RPCDispatcher{
		endpoint:    base + createDispatchPath,
		timeout:     timeout,
		maxAttempts: attempts,
		tokens:      cfg.Tokens,
		client:      client,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}, nil
}

func (d *RPCDispatcher) Protocol() Protocol { return ProtocolRPC }

// Dispatch runs the call in its own goroutine, bounded by the configured
// timeout and detached from ctx cancellation so a finished HTTP request does
// not abort it.
func (d *RPCDispatcher) Dispatch(ctx context.Context, room string, dir Directive) <-chan Result {
	out := make(chan Result, 1)
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		defer close(out)
		defer cancel()
		res := d.run(callCtx, room, dir)
		d.report(res)
		out <- res
	}()
	return out
}

// Wait blocks until every started dispatch has reported or ctx is done. Each
// dispatch is bounded by the configured timeout, so Wait never blocks longer.
func (d *RPCDispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *RPCDispatcher) run(ctx context.Context, room string, dir Directive) Result {
	ctx, span := otel.Tracer("voicegate/dispatch").Start(ctx, "dispatch.CreateDispatch")
	defer span.End()
	span.SetAttributes(attribute.String("room", room), attribute.String("agent_name", dir.AgentName))

	started := time.Now()
	res := Result{Room: room, AgentName: dir.AgentName}
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		res.Attempts = attempt
		id, status, err := d.createDispatch(ctx, room, dir)
		if err == nil {
			res.DispatchID = id
			res.Err = nil
			break
		}
		res.Err = err
		if attempt == d.maxAttempts || !reliability.IsRetryable(status, err) {
			break
		}
		if reliability.Sleep(ctx, reliability.ExponentialBackoff(attempt-1, backoffBase, backoffCap)) != nil {
			break
		}
	}
	res.Latency = time.Since(started)

	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "dispatch failed")
	}
	return res
}

type createDispatchRequest struct {
	Room      string `json:"room"`
	AgentName string `json:"agent_name"`
	Metadata  string `json:"metadata,omitempty"`
}

type createDispatchResponse struct {
	ID string `json:"id"`
}

func (d *RPCDispatcher) createDispatch(ctx context.Context, room string, dir Directive) (string, int, error) {
	token, err := d.tokens.ServiceToken(room)
	if err != nil {
		return "", 0, apperrors.Wrap(apperrors.KindDispatch, "mint dispatch credential", reliability.Permanent(err))
	}
	payload, err := json.Marshal(createDispatchRequest{Room: room, AgentName: dir.AgentName, Metadata: dir.Metadata})
	if err != nil {
		return "", 0, apperrors.Wrap(apperrors.KindDispatch, "marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", 0, apperrors.Wrap(apperrors.KindDispatch, "create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	res, err := d.client.Do(httpReq)
	if err != nil {
		return "", 0, apperrors.Wrap(apperrors.KindDispatch, "send request", err)
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := policy.RedactSecrets(strings.TrimSpace(string(body)), token)
		return "", res.StatusCode, apperrors.New(apperrors.KindDispatch, fmt.Sprintf("dispatch http status %d: %s", res.StatusCode, msg))
	}

	var parsed createDispatchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		// The dispatch was accepted; an unreadable body only loses the id.
		return "", res.StatusCode, nil
	}
	return parsed.ID, res.StatusCode, nil
}

func (d *RPCDispatcher) report(res Result) {
	if res.Err != nil {
		d.metrics.ObserveDispatch("error", res.Latency)
		d.logger.Warn().
			Err(res.Err).
			Str("room", res.Room).
			Str("agent_name", res.AgentName).
			Int("attempts", res.Attempts).
			Msg("agent dispatch failed; session continues without pre-assigned agent")
		return
	}
	d.metrics.ObserveDispatch("ok", res.Latency)
	d.logger.Info().
		Str("room", res.Room).
		Str("agent_name", res.AgentName).
		Str("dispatch_id", res.DispatchID).
		Dur("latency", res.Latency).
		Msg("agent dispatched")
}

// HTTPBaseURL turns the realtime endpoint (usually wss://) into the HTTP base
// used for API calls.
func HTTPBaseURL(serverURL string) (string, error) {
	raw := strings.TrimSpace(serverURL)
	if raw == "" {
		return "", errors.New("server url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "wss", "https":
		u.Scheme = "https"
	case "ws", "http":
		u.Scheme = "http"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("server url has no host")
	}
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimSuffix(u.String(), "/"), nil
}
