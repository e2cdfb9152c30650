package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/antoniostano/voicegate/internal/config"
	"github.com/antoniostano/voicegate/internal/dispatch"
	"github.com/antoniostano/voicegate/internal/joinflow"
	"github.com/antoniostano/voicegate/internal/observability"
)

type Server struct {
	cfg      config.Config
	join     *joinflow.Service
	metrics  *observability.Metrics
	logger   zerolog.Logger
	validate *validator.Validate
}

func New(cfg config.Config, join *joinflow.Service, metrics *observability.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		join:     join,
		metrics:  metrics,
		logger:   logger,
		validate: newValidator(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	if s.cfg.AllowAnyOrigin {
		r.Use(allowAnyOrigin)
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})

	// The browser client historically called both paths.
	r.Get("/connection-details", s.handleConnectionDetails)
	r.Get("/api/connection-details", s.handleConnectionDetails)
	r.Get("/v1/personas", s.handleListPersonas)
	if s.cfg.DebugEndpoints {
		r.Post("/v1/credentials/inspect", s.handleInspectCredential)
		r.Get("/v1/dispatch/stats", s.handleDispatchStats)
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type readinessCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|error
	Detail string `json:"detail,omitempty"`
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	checks := []readinessCheck{{ID: "config", Status: "ok"}}
	status := http.StatusOK
	if err := s.cfg.Validate(); err != nil {
		checks[0] = readinessCheck{ID: "config", Status: "error", Detail: err.Error()}
		status = http.StatusServiceUnavailable
	}

	if _, protocol := s.join.Personas(); protocol == dispatch.ProtocolRPC {
		c := readinessCheck{ID: "dispatch_endpoint", Status: "ok"}
		if _, err := dispatch.HTTPBaseURL(s.cfg.LiveKitURL); err != nil {
			c.Status = "error"
			c.Detail = err.Error()
			status = http.StatusServiceUnavailable
		}
		checks = append(checks, c)
	}

	label := "ready"
	if status != http.StatusOK {
		label = "not_ready"
	}
	respondJSON(w, status, map[string]any{"status": label, "checks": checks})
}

type personasResponse struct {
	Protocol             dispatch.Protocol  `json:"protocol"`
	DefaultPersona       string             `json:"default_persona,omitempty"`
	AllowUnroutedSession bool               `json:"allow_unrouted_session"`
	Personas             []dispatch.Persona `json:"personas"`
}

func (s *Server) handleListPersonas(w http.ResponseWriter, _ *http.Request) {
	personas, protocol := s.join.Personas()
	respondJSON(w, http.StatusOK, personasResponse{
		Protocol:             protocol,
		DefaultPersona:       s.cfg.DefaultPersona,
		AllowUnroutedSession: s.cfg.AllowUnroutedSession,
		Personas:             personas,
	})
}

func (s *Server) handleDispatchStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.DispatchSnapshot())
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// requestLogger tags every request with an id and stores a scoped logger in
// the request context.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)

		logger := s.logger.With().Str("request_id", requestID).Logger()
		ctx := logger.WithContext(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))

		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(started)).
			Msg("request served")
	})
}

func allowAnyOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
