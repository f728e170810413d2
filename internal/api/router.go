// Package api provides the HTTP API of the trafficwatch dashboard.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/trafficwatch/trafficwatch/internal/api/handler"
	"github.com/trafficwatch/trafficwatch/internal/api/middleware"
	"github.com/trafficwatch/trafficwatch/internal/api/response"
	"github.com/trafficwatch/trafficwatch/internal/camera"
	"github.com/trafficwatch/trafficwatch/internal/citystats"
	"github.com/trafficwatch/trafficwatch/internal/feed"
	"github.com/trafficwatch/trafficwatch/internal/history"
	"github.com/trafficwatch/trafficwatch/internal/mapview"
	"github.com/trafficwatch/trafficwatch/internal/provider/resilience"
	"github.com/trafficwatch/trafficwatch/internal/traffic"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	Cameras *camera.Service
	View    *mapview.View
	Traffic *feed.Manager[traffic.Metric]

	// Stats and Tracker are optional; without a tracker the overview
	// route is not mounted.
	Stats   *feed.Manager[citystats.HourlySummary]
	Tracker *citystats.Tracker

	// History is optional; its routes answer 503 when nil.
	History *history.Service

	Upstreams *resilience.Registry
	Database  handler.Pinger

	// AllowedOrigins are the browser origins allowed to read the API and
	// open the stream. "*" allows any.
	AllowedOrigins []string

	// RequireTLS rejects requests a proxy forwarded over plain HTTP.
	RequireTLS bool
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "trafficwatch-dashboard"
	}

	origins := middleware.NewOriginPolicy(cfg.AllowedOrigins)

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(chimiddleware.RealIP)            // Real IP extraction
	r.Use(middleware.SecurityHeaders)      // Security headers (HSTS, CSP, no-store)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.CORS(origins)) // Browser map clients

	r.NotFound(response.RouteNotFound)
	r.MethodNotAllowed(response.MethodNotAllowed)

	feeds := []handler.FeedReporter{cfg.Traffic}
	if cfg.Stats != nil {
		feeds = append(feeds, cfg.Stats)
	}

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Feeds:     feeds,
		Cameras:   cfg.Cameras,
		Upstreams: cfg.Upstreams,
		Database:  cfg.Database,
	})
	cameraHandler := handler.NewCameraHandler(cfg.Cameras, cfg.View, cfg.Logger)
	trafficHandler := handler.NewTrafficHandler(cfg.View, cfg.Traffic, cfg.History, cfg.Logger)
	historyHandler := handler.NewHistoryHandler(cfg.History, cfg.Logger)
	streamHandler := handler.NewStreamHandler(handler.StreamConfig{
		View:           cfg.View,
		Traffic:        cfg.Traffic,
		Stats:          cfg.Stats,
		Metrics:        cfg.Metrics,
		Logger:         cfg.Logger,
		Origins:        origins,
	})

	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit, cfg.Metrics) // 120 req/min
	historyRateLimit := middleware.RateLimitByIP(middleware.HistoryRateLimit, cfg.Metrics)   // 30 req/min
	streamRateLimit := middleware.RateLimitByIP(middleware.StreamRateLimit, cfg.Metrics)     // 10 req/min

	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (unlimited, polled by the platform)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		r.Route("/cameras", func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Get("/", cameraHandler.ListCameras)
			r.Get("/districts", cameraHandler.ListDistricts)
			r.Get("/markers", cameraHandler.ListMarkers)
			r.Get("/{cameraId}", cameraHandler.GetCamera)
		})

		r.Route("/traffic", func(r chi.Router) {
			// Cache-backed
			r.Group(func(r chi.Router) {
				r.Use(standardRateLimit)
				r.Get("/latest", trafficHandler.Latest)
				r.Get("/cameras/{cameraId}/latest", trafficHandler.CameraLatest)
			})

			// Database-backed
			r.Group(func(r chi.Router) {
				r.Use(historyRateLimit)
				r.Get("/history/latest", historyHandler.Latest)
				r.Get("/by-date", historyHandler.ByDate)
				r.Get("/hourly-summary", historyHandler.HourlySummary)
				r.Get("/summary/by-district", historyHandler.SummaryByDistrict)
				r.Get("/cameras/{cameraId}/peak", historyHandler.Peak)
				r.Get("/cameras/{cameraId}/flow", historyHandler.Flow)
			})

			r.With(streamRateLimit).Get("/stream", streamHandler.Stream)
		})

		if cfg.Tracker != nil {
			statsHandler := handler.NewStatsHandler(cfg.Tracker)
			r.With(standardRateLimit).Get("/stats/overview", statsHandler.Overview)
		}
	})

	return r
}
