// Package main provides the entrypoint for the trafficwatch history recorder.
// It follows the traffic feed and stores every measurement in PostgreSQL.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/trafficwatch/trafficwatch/internal/api/middleware"
	"github.com/trafficwatch/trafficwatch/internal/api/response"
	"github.com/trafficwatch/trafficwatch/internal/config"
	"github.com/trafficwatch/trafficwatch/internal/database"
	"github.com/trafficwatch/trafficwatch/internal/feed"
	"github.com/trafficwatch/trafficwatch/internal/history"
	"github.com/trafficwatch/trafficwatch/internal/pipeline"
	"github.com/trafficwatch/trafficwatch/internal/provider/resilience"
	"github.com/trafficwatch/trafficwatch/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "trafficwatch-recorder"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting trafficwatch recorder")

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryConfig := telemetry.ConfigFromEnv(serviceName, Version)
	telemetryConfig.Attributes = []attribute.KeyValue{
		attribute.String("trafficwatch.channel", cfg.Channel),
	}
	tp, err := telemetry.Init(ctx, telemetryConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	feedMetrics, err := feed.NewMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize feed metrics")
	}

	dbConfig := database.ConfigFromEnv()
	if dbConfig.ApplicationName == "" {
		dbConfig.ApplicationName = serviceName
	}
	pool, err := database.Connect(ctx, dbConfig, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	repo := history.NewPostgresRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to prepare history schema")
	}

	upstreams := resilience.NewRegistry()
	feeds, err := pipeline.Build(ctx, cfg, pipeline.Options{
		Health:  upstreams,
		Metrics: feedMetrics,
		Logger:  log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build feeds")
	}
	defer func() {
		if closeErr := feeds.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("failed to close feeds")
		}
	}()

	recorder := history.NewRecorder(history.RecorderConfig{
		Repository:      repo,
		Feed:            feeds.Traffic,
		Logger:          log.With().Str("component", "recorder").Logger(),
		RecordSynthetic: cfg.RecordSynthetic,
	})

	// Health endpoint for the container platform.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		stats := recorder.Stats()
		status := feeds.Traffic.Status()
		response.JSON(w, req, http.StatusOK, map[string]interface{}{
			"status":    "healthy",
			"version":   Version,
			"feedState": status.State.String(),
			"written":   stats.Written,
			"dropped":   stats.Dropped,
			"failed":    stats.Failed,
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return recorder.Run(gctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("health check server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down recorder")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("recorder stopped with error")
	}

	log.Info().Msg("recorder stopped")
}
