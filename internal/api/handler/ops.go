// Package handler provides HTTP handlers for the trafficwatch API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/trafficwatch/trafficwatch/internal/api/models"
	"github.com/trafficwatch/trafficwatch/internal/api/response"
	"github.com/trafficwatch/trafficwatch/internal/camera"
	"github.com/trafficwatch/trafficwatch/internal/feed"
	"github.com/trafficwatch/trafficwatch/internal/provider/resilience"
)

// FeedReporter is a feed manager seen by the ops endpoints.
type FeedReporter interface {
	Status() feed.Status
}

// Pinger checks a backing store. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OpsConfig holds the dependencies reported by the ops endpoints.
// Every field except Version and BuildTime is optional.
type OpsConfig struct {
	Version   string
	BuildTime string

	Feeds     []FeedReporter
	Cameras   *camera.Service
	Upstreams *resilience.Registry
	Database  Pinger

	// PingTimeout bounds the database check (default: 2s).
	PingTimeout time.Duration
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version     string
	buildTime   string
	feeds       []FeedReporter
	cameras     *camera.Service
	upstreams   *resilience.Registry
	database    Pinger
	pingTimeout time.Duration
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = 2 * time.Second
	}
	return &OpsHandler{
		version:     cfg.Version,
		buildTime:   cfg.BuildTime,
		feeds:       cfg.Feeds,
		cameras:     cfg.Cameras,
		upstreams:   cfg.Upstreams,
		database:    cfg.Database,
		pingTimeout: cfg.PingTimeout,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - readiness check.
// The service is ready once the camera registry is loaded and the database,
// when configured, answers a ping. Feeds in fallback do not block readiness.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	details := map[string]interface{}{}
	status := models.HealthStatusOK

	if h.cameras != nil {
		cache := h.cameras.CacheStatus()
		details["cameras"] = cache.CameraCount
		if !cache.HasData {
			status = models.HealthStatusFail
			details["cameraRegistry"] = "not loaded"
		}
	}

	if h.database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.pingTimeout)
		err := h.database.Ping(ctx)
		cancel()
		if err != nil {
			status = models.HealthStatusFail
			details["database"] = err.Error()
		} else {
			details["database"] = "ok"
		}
	}

	code := http.StatusOK
	if status == models.HealthStatusFail {
		code = http.StatusServiceUnavailable
	}
	response.JSON(w, r, code, models.Health{
		Status:  status,
		Time:    models.Timestamp(time.Now()),
		Details: details,
	})
}

// SystemStatus handles GET /v1/ops/status - feed and upstream status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	out := models.SystemStatus{
		Status:    models.HealthStatusOK,
		Time:      models.Timestamp(time.Now()),
		Feeds:     make([]models.FeedStatus, 0, len(h.feeds)),
		Upstreams: []models.UpstreamStatus{},
	}

	for _, f := range h.feeds {
		s := toFeedStatus(f.Status())
		if s.State == feed.StateFallback.String() {
			out.Status = models.HealthStatusDegraded
		}
		out.Feeds = append(out.Feeds, s)
	}

	if h.upstreams != nil {
		for _, p := range h.upstreams.All() {
			u := models.UpstreamStatus{
				Name:                p.Name,
				Status:              models.HealthStatusOK,
				Condition:           string(p.Condition()),
				CircuitState:        p.State.String(),
				Trips:               p.Trips,
				ConsecutiveFailures: p.Counts.ConsecutiveFailures,
				Message:             p.LastError,
			}
			if p.LastSuccessAt != nil {
				u.LastSuccessAt = models.TimestampPtr(*p.LastSuccessAt)
			}
			if p.LastFailureAt != nil {
				u.LastFailureAt = models.TimestampPtr(*p.LastFailureAt)
			}
			switch p.Condition() {
			case resilience.ConditionProbing:
				u.Status = models.HealthStatusDegraded
			case resilience.ConditionDown:
				u.Status = models.HealthStatusFail
			}
			if u.Status != models.HealthStatusOK {
				out.Status = models.HealthStatusDegraded
			}
			out.Upstreams = append(out.Upstreams, u)
		}
	}

	if h.cameras != nil {
		cache := h.cameras.CacheStatus()
		out.Cameras = models.CameraCache{
			Loaded:    cache.HasData,
			Count:     cache.CameraCount,
			Source:    cache.Source,
			FetchedAt: models.TimestampPtr(cache.FetchedAt),
			Expired:   cache.IsExpired,
		}
	}

	response.JSON(w, r, http.StatusOK, out)
}
