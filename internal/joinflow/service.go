// Package joinflow turns a browser join request into connection details:
// resolve room and identity, pick the agent, mint the credential, and hand the
// dispatch decision to the backend.
package joinflow

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/antoniostano/voicegate/internal/apperrors"
	"github.com/antoniostano/voicegate/internal/config"
	"github.com/antoniostano/voicegate/internal/credential"
	"github.com/antoniostano/voicegate/internal/dispatch"
	"github.com/antoniostano/voicegate/internal/identity"
	"github.com/antoniostano/voicegate/internal/observability"
)

// Request is the untrusted input of a join. Empty fields are defaulted.
type Request struct {
	RoomName        string
	ParticipantName string
	Persona         string
}

// ConnectionDetails is everything the browser needs to join the room.
type ConnectionDetails struct {
	ServerURL        string `json:"serverUrl"`
	RoomName         string `json:"roomName"`
	ParticipantName  string `json:"participantName"`
	ParticipantToken string `json:"participantToken"`
}

// Deps are the collaborators of Service. All of them are safe for concurrent use.
type Deps struct {
	Identities *identity.Resolver
	Personas   *dispatch.Resolver
	Issuer     *credential.Issuer
	Dispatcher dispatch.Dispatcher
	Metrics    *observability.Metrics
	Logger     zerolog.Logger
}

// Service is stateless between requests.
type Service struct {
	cfg        config.Config
	identities *identity.Resolver
	personas   *dispatch.Resolver
	issuer     *credential.Issuer
	dispatcher dispatch.Dispatcher
	metrics    *observability.Metrics
	logger     zerolog.Logger
	tracer     trace.Tracer
}

func New(cfg config.Config, deps Deps) *Service {
	return &Service{
		cfg:        cfg,
		identities: deps.Identities,
		personas:   deps.Personas,
		issuer:     deps.Issuer,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		tracer:     otel.Tracer("voicegate/joinflow"),
	}
}

// Join resolves and signs a session. When the rpc protocol is active and an
// agent was selected, the returned channel carries the dispatch outcome; it is
// nil otherwise. Callers may read it for telemetry but must not wait on it
// before answering the client.
func (s *Service) Join(ctx context.Context, req Request) (ConnectionDetails, <-chan dispatch.Result, error) {
	ctx, span := s.tracer.Start(ctx, "joinflow.Join")
	defer span.End()

	details, pending, err := s.join(ctx, req, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.KindOf(err)))
	}
	return details, pending, err
}

func (s *Service) join(ctx context.Context, req Request, span trace.Span) (ConnectionDetails, <-chan dispatch.Result, error) {
	if err := s.cfg.Validate(); err != nil {
		return ConnectionDetails{}, nil, err
	}

	id, err := s.identities.Resolve(req.RoomName, req.ParticipantName)
	if err != nil {
		return ConnectionDetails{}, nil, err
	}

	protocol := s.dispatcher.Protocol()
	directive, routed := s.personas.Resolve(req.Persona)
	span.SetAttributes(
		attribute.String("room", id.RoomName),
		attribute.String("dispatch.protocol", string(protocol)),
		attribute.Bool("dispatch.routed", routed),
	)
	logger := s.loggerFrom(ctx).With().
		Str("room", id.RoomName).
		Str("participant", id.ParticipantIdentity).
		Str("persona", req.Persona).
		Logger()

	if !routed {
		if !s.cfg.AllowUnroutedSession {
			return ConnectionDetails{}, nil, apperrors.New(apperrors.KindInvalidInput, "persona is not recognised")
		}
		if s.metrics != nil {
			s.metrics.UnroutedSessions.Inc()
		}
		logger.Warn().Msg("no agent mapped for persona; session joins unrouted")
	}

	embed := routed && dispatch.EmbedsInToken(s.dispatcher)
	opts := credential.IssueOptions{Name: id.ParticipantIdentity}
	if embed {
		opts.Agent = &credential.AgentDispatch{AgentName: directive.AgentName, Metadata: directive.Metadata}
	}
	token, err := s.issuer.Issue(id, credential.NewParticipantGrant(id.RoomName, false), opts)
	if err != nil {
		return ConnectionDetails{}, nil, err
	}
	if s.metrics != nil {
		s.metrics.CredentialsIssued.WithLabelValues(string(protocol), strconv.FormatBool(routed)).Inc()
	}
	logger.Info().Bool("embedded_dispatch", embed).Msg("credential issued")

	var pending <-chan dispatch.Result
	if routed && protocol == dispatch.ProtocolRPC {
		pending = s.dispatcher.Dispatch(ctx, id.RoomName, *directive)
	}

	return ConnectionDetails{
		ServerURL:        s.cfg.LiveKitURL,
		RoomName:         id.RoomName,
		ParticipantName:  id.ParticipantIdentity,
		ParticipantToken: token,
	}, pending, nil
}

// loggerFrom prefers the request-scoped logger installed by the HTTP layer.
func (s *Service) loggerFrom(ctx context.Context) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return s.logger
}

// Personas exposes the recognised selectors and the active protocol.
func (s *Service) Personas() ([]dispatch.Persona, dispatch.Protocol) {
	return s.personas.Personas(), s.dispatcher.Protocol()
}

// Inspect verifies a credential minted by this service.
func (s *Service) Inspect(token string) (*credential.Claims, error) {
	return s.issuer.Parse(token)
}
