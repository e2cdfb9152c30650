package app

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/antoniostano/voicegate/internal/config"
	"github.com/antoniostano/voicegate/internal/credential"
	"github.com/antoniostano/voicegate/internal/dispatch"
	"github.com/antoniostano/voicegate/internal/httpapi"
	"github.com/antoniostano/voicegate/internal/identity"
	"github.com/antoniostano/voicegate/internal/joinflow"
	"github.com/antoniostano/voicegate/internal/observability"
)

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Join       *joinflow.Service
	Dispatcher dispatch.Dispatcher
	Metrics    *observability.Metrics
	Registry   *prometheus.Registry
}

// Build wires the join flow and its HTTP surface from an immutable config.
// It does not validate backend credentials; callers decide whether a missing
// secret is fatal.
func Build(cfg config.Config, logger zerolog.Logger) (*BuildResult, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(cfg.MetricsNamespace, registry)

	issuer := credential.NewIssuer(cfg.LiveKitAPIKey, cfg.LiveKitAPISecret, cfg.CredentialTTL)

	dispatcher, err := dispatch.NewDispatcher(dispatch.Config{
		Protocol:    cfg.DispatchProtocol,
		ServerURL:   cfg.LiveKitURL,
		Timeout:     cfg.DispatchTimeout,
		MaxAttempts: cfg.DispatchMaxAttempts,
		Tokens:      issuer,
		HTTPClient:  &http.Client{Timeout: cfg.DispatchTimeout},
		Metrics:     metrics,
		Logger:      logger.With().Str("component", "dispatch").Logger(),
	})
	if err != nil {
		return nil, fmt.Errorf("dispatcher init failed: %w", err)
	}

	join := joinflow.New(cfg, joinflow.Deps{
		Identities: identity.NewResolver(cfg.IdentitySuffixSpace),
		Personas:   dispatch.NewResolver(cfg.AgentNames, cfg.DefaultPersona),
		Issuer:     issuer,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger.With().Str("component", "joinflow").Logger(),
	})

	return &BuildResult{
		Config:     cfg,
		API:        httpapi.New(cfg, join, metrics, logger),
		Join:       join,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Registry:   registry,
	}, nil
}
