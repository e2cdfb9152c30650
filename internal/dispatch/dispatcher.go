package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/antoniostano/voicegate/internal/observability"
)

// Protocol names the way a directive reaches the backend. One protocol is
// active per deployment.
type Protocol string

const (
	// ProtocolRPC calls the backend dispatch API after the credential is minted.
	ProtocolRPC Protocol = "rpc"
	// ProtocolToken embeds the directive in the credential's room configuration.
	ProtocolToken Protocol = "token"
	// ProtocolNone resolves directives but never delivers them.
	ProtocolNone Protocol = "none"
)

func ParseProtocol(s string) (Protocol, error) {
	switch p := Protocol(strings.ToLower(strings.TrimSpace(s))); p {
	case ProtocolRPC, ProtocolToken, ProtocolNone:
		return p, nil
	case "":
		return ProtocolRPC, nil
	default:
		return "", fmt.Errorf("unsupported dispatch protocol %q", s)
	}
}

// Result reports the outcome of one delivery. Err is only for telemetry;
// callers must not fail a join because of it.
type Result struct {
	Room       string
	AgentName  string
	DispatchID string
	Attempts   int
	Latency    time.Duration
	Err        error
}

// Dispatcher delivers directives to the backend.
type Dispatcher interface {
	Protocol() Protocol
	// Dispatch starts delivery and returns at once. The channel yields exactly
	// one Result and is then closed; it is buffered, so nobody has to read it.
	Dispatch(ctx context.Context, room string, d Directive) <-chan Result
	// Wait drains dispatches still in flight, for use at shutdown.
	Wait(ctx context.Context) error
}

// TokenSource mints the backend credential used to authorise dispatch calls.
type TokenSource interface {
	ServiceToken(room string) (string, error)
}

// Config controls dispatcher construction.
type Config struct {
	Protocol    string
	ServerURL   string
	Timeout     time.Duration
	MaxAttempts int
	Tokens      TokenSource
	HTTPClient  *http.Client
	Metrics     *observability.Metrics
	Logger      zerolog.Logger
}

// NewDispatcher returns the single implementation selected by cfg.Protocol.
func NewDispatcher(cfg Config) (Dispatcher, error) {
	p, err := ParseProtocol(cfg.Protocol)
	if err != nil {
		return nil, err
	}
	switch p {
	case ProtocolRPC:
		return NewRPCDispatcher(cfg)
	case ProtocolToken:
		return embeddedDispatcher{protocol: ProtocolToken}, nil
	default:
		return embeddedDispatcher{protocol: ProtocolNone}, nil
	}
}

// EmbedsInToken reports whether directives must travel inside the credential.
func EmbedsInToken(d Dispatcher) bool {
	return d != nil && d.Protocol() == ProtocolToken
}

// embeddedDispatcher has nothing to deliver out of band: either the directive
// is already inside the credential or delivery is switched off.
type embeddedDispatcher struct {
	protocol Protocol
}

func (e embeddedDispatcher) Protocol() Protocol { return e.protocol }

func (e embeddedDispatcher) Wait(context.Context) error { return nil }

func (e embeddedDispatcher) Dispatch(_ context.Context, room string, d Directive) <-chan Result {
	out := make(chan Result, 1)
	out <- Result{Room: room, AgentName: d.AgentName}
	close(out)
	return out
}
