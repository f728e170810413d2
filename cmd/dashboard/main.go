// Package main provides the entrypoint for the trafficwatch dashboard API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/trafficwatch/trafficwatch/internal/api"
	"github.com/trafficwatch/trafficwatch/internal/api/middleware"
	"github.com/trafficwatch/trafficwatch/internal/camera"
	"github.com/trafficwatch/trafficwatch/internal/camera/registryhttp"
	"github.com/trafficwatch/trafficwatch/internal/citystats"
	"github.com/trafficwatch/trafficwatch/internal/config"
	"github.com/trafficwatch/trafficwatch/internal/database"
	"github.com/trafficwatch/trafficwatch/internal/feed"
	"github.com/trafficwatch/trafficwatch/internal/history"
	"github.com/trafficwatch/trafficwatch/internal/mapview"
	"github.com/trafficwatch/trafficwatch/internal/pipeline"
	"github.com/trafficwatch/trafficwatch/internal/provider/resilience"
	"github.com/trafficwatch/trafficwatch/internal/telemetry"
	"github.com/trafficwatch/trafficwatch/internal/traffic"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "trafficwatch-dashboard"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting trafficwatch dashboard")

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryConfig := telemetry.ConfigFromEnv(serviceName, Version)
	telemetryConfig.Attributes = []attribute.KeyValue{
		attribute.String("trafficwatch.channel", cfg.Channel),
		attribute.Bool("trafficwatch.history", cfg.HistoryEnabled),
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
	if telemetryConfig.Enabled {
		log.Info().
			Str("otlp_endpoint", telemetryConfig.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	httpMetrics, err := middleware.NewMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize http metrics")
	}
	feedMetrics, err := feed.NewMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize feed metrics")
	}

	upstreams := resilience.NewRegistry()

	cameras := camera.NewService(camera.ServiceConfig{
		Registry: registryhttp.NewClient(registryhttp.ClientConfig{
			URL:     cfg.CameraRegistryURL,
			Timeout: cfg.RequestTimeout,
			Health:  upstreams,
			Logger:  log,
		}),
		Logger:   log.With().Str("component", "camera").Logger(),
		CacheTTL: cfg.CameraCacheTTL,
	})

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
	log.Info().Str("channel", cfg.Channel).Msg("feeds initialized")

	view := mapview.New(mapview.Config{
		Cameras: cameras,
		Traffic: feeds.Traffic,
		Logger:  log.With().Str("component", "mapview").Logger(),
	})
	go func() {
		primeCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
		defer cancel()
		if _, primeErr := view.Prime(primeCtx); primeErr != nil {
			log.Warn().Err(primeErr).Msg("camera registry not loaded, fallback covers reported cameras only")
		}
	}()

	// The dashboard serves the cache without stream clients, so it holds
	// one subscription for its whole life.
	keepWarm := feeds.Traffic.Subscribe(func(traffic.Metric) {})
	defer keepWarm()

	tracker := citystats.NewTracker(citystats.TrackerConfig{
		Stats:   feeds.Stats,
		Traffic: feeds.Traffic,
		Logger:  log.With().Str("component", "citystats").Logger(),
	})
	tracker.Start()
	defer tracker.Stop()

	var (
		historyService *history.Service
		pool           *pgxpool.Pool
	)
	if cfg.HistoryEnabled {
		dbConfig := database.ConfigFromEnv()
		if dbConfig.ApplicationName == "" {
			dbConfig.ApplicationName = serviceName
		}
		pool, err = database.Connect(ctx, dbConfig, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()

		repo := history.NewPostgresRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to prepare history schema")
		}
		historyService = history.NewService(history.ServiceConfig{
			Repository: repo,
			Location:   cfg.Location,
			Logger:     log.With().Str("component", "history").Logger(),
		})
		log.Info().Msg("history service initialized")
	}

	routerConfig := api.RouterConfig{
		Version:        Version,
		BuildTime:      BuildTime,
		Logger:         log,
		ServiceName:    serviceName,
		Metrics:        httpMetrics,
		Cameras:        cameras,
		View:           view,
		Traffic:        feeds.Traffic,
		Stats:          feeds.Stats,
		Tracker:        tracker,
		History:        historyService,
		Upstreams:      upstreams,
		AllowedOrigins: cfg.AllowedOrigins,
		RequireTLS:     cfg.RequireTLS,
	}
	if pool != nil {
		routerConfig.Database = pool
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(routerConfig),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
