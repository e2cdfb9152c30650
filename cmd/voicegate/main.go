package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/antoniostano/voicegate/internal/app"
	"github.com/antoniostano/voicegate/internal/config"
	"github.com/antoniostano/voicegate/internal/logging"
	"github.com/antoniostano/voicegate/internal/observability"
)

func main() {
	// A missing .env is fine; the process environment still applies.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		stderrLogger := zerolog.New(os.Stderr)
		stderrLogger.Fatal().Err(err).Msg("config error")
	}

	logger, err := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		stderrLogger := zerolog.New(os.Stderr)
		stderrLogger.Fatal().Err(err).Msg("logger init failed")
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("backend configuration incomplete")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, "voicegate", cfg.OTelEndpoint, cfg.OTelEnabled)
	if err != nil {
		logger.Fatal().Err(err).Msg("tracing init failed")
	}

	built, err := app.Build(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build failed")
	}

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: built.API.Router(),
	}

	go func() {
		logger.Info().
			Str("addr", cfg.BindAddr).
			Str("dispatch_protocol", string(built.Dispatcher.Protocol())).
			Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("listen error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.DispatchTimeout)
	defer cancelDrain()
	if err := built.Dispatcher.Wait(drainCtx); err != nil {
		logger.Warn().Err(err).Msg("agent dispatches still in flight at exit")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("tracing shutdown failed")
	}

	logger.Info().Msg("shutdown complete")
}
