package httpapi

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/antoniostano/voicegate/internal/apperrors"
	"github.com/antoniostano/voicegate/internal/joinflow"
	"github.com/antoniostano/voicegate/internal/policy"
)

type connectionQuery struct {
	RoomName        string `query:"roomName" validate:"max=128"`
	ParticipantName string `query:"participantName" validate:"max=128"`
	Persona         string `query:"voice" validate:"max=256"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("query"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// parseConnectionQuery reads the join parameters. voice and personality are
// aliases; voice wins when both are present.
func (s *Server) parseConnectionQuery(r *http.Request) (joinflow.Request, error) {
	q := r.URL.Query()
	in := connectionQuery{
		RoomName:        q.Get("roomName"),
		ParticipantName: q.Get("participantName"),
		Persona:         strings.TrimSpace(q.Get("voice")),
	}
	if in.Persona == "" {
		in.Persona = strings.TrimSpace(q.Get("personality"))
	}

	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return joinflow.Request{}, apperrors.New(apperrors.KindInvalidInput, "invalid query parameter "+verrs[0].Field())
		}
		return joinflow.Request{}, apperrors.Wrap(apperrors.KindInvalidInput, "invalid query", err)
	}
	return joinflow.Request{
		RoomName:        in.RoomName,
		ParticipantName: in.ParticipantName,
		Persona:         in.Persona,
	}, nil
}

func (s *Server) handleConnectionDetails(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	logger := zerolog.Ctx(r.Context())

	req, err := s.parseConnectionQuery(r)
	if err != nil {
		s.respondJoinError(w, logger, err)
		return
	}

	// The dispatch outcome is logged and counted by the dispatcher itself;
	// the response never waits for it.
	details, _, err := s.join.Join(r.Context(), req)
	if err != nil {
		s.respondJoinError(w, logger, err)
		return
	}

	s.metrics.JoinRequests.WithLabelValues("ok").Inc()
	respondJSON(w, http.StatusOK, details)
}

// respondJoinError writes a plain-text error. Secret values are masked even if
// a lower layer echoed them.
func (s *Server) respondJoinError(w http.ResponseWriter, logger *zerolog.Logger, err error) {
	kind := apperrors.KindOf(err)
	status := apperrors.HTTPStatus(err)
	msg, _ := policy.RedactSecrets(err.Error(), s.cfg.LiveKitAPISecret)
	if kind == apperrors.KindInternal {
		msg = "An unknown error occurred"
	}

	s.metrics.JoinRequests.WithLabelValues(string(kind)).Inc()
	ev := logger.Warn()
	if status >= http.StatusInternalServerError {
		ev = logger.Error()
	}
	ev.Str("kind", string(kind)).Str("error", msg).Msg("connection details request failed")

	http.Error(w, msg, status)
}

type inspectRequest struct {
	Token string `json:"token" validate:"required"`
}

func (s *Server) handleInspectCredential(w http.ResponseWriter, r *http.Request) {
	var req inspectRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}
	claims, err := s.join.Inspect(req.Token)
	if err != nil {
		respondError(w, apperrors.HTTPStatus(err), string(apperrors.KindOf(err)), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, claims)
}
