package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/trafficwatch/trafficwatch/internal/api/models"
	"github.com/trafficwatch/trafficwatch/internal/api/response"
	"github.com/trafficwatch/trafficwatch/internal/feed"
	"github.com/trafficwatch/trafficwatch/internal/history"
	"github.com/trafficwatch/trafficwatch/internal/mapview"
	"github.com/trafficwatch/trafficwatch/internal/traffic"
)

// TrafficHandler serves the cached latest measurements.
type TrafficHandler struct {
	view    *mapview.View
	feed    *feed.Manager[traffic.Metric]
	history *history.Service
	logger  zerolog.Logger
}

// NewTrafficHandler creates a new TrafficHandler. history may be nil.
func NewTrafficHandler(view *mapview.View, trafficFeed *feed.Manager[traffic.Metric], hist *history.Service, logger zerolog.Logger) *TrafficHandler {
	return &TrafficHandler{
		view:    view,
		feed:    trafficFeed,
		history: hist,
		logger:  logger,
	}
}

// Latest handles GET /v1/traffic/latest - the cached count of every camera.
func (h *TrafficHandler) Latest(w http.ResponseWriter, r *http.Request) {
	metrics := toTrafficMetrics(h.view.Latest(r.URL.Query().Get("district")))
	response.JSON(w, r, http.StatusOK, models.LatestTraffic{
		Live:    h.feed.IsLive(),
		State:   h.feed.State().String(),
		Metrics: metrics,
		Count:   len(metrics),
	})
}

// CameraLatest handles GET /v1/traffic/cameras/{cameraId}/latest.
// The feed cache answers first; stored history is used for cameras the
// cache has not seen.
func (h *TrafficHandler) CameraLatest(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "cameraId")

	if m, ok := h.feed.Cached(cameraID); ok {
		response.JSON(w, r, http.StatusOK, toTrafficMetric(m))
		return
	}

	if h.history == nil {
		response.NoMeasurement(w, r, cameraID)
		return
	}

	rec, err := h.history.LatestForCamera(r.Context(), cameraID)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			response.NoMeasurement(w, r, cameraID)
			return
		}
		h.logger.Error().Err(err).Str("camera_id", cameraID).Msg("failed to load latest record")
		response.InternalError(w, r, "failed to load measurement")
		return
	}
	response.JSON(w, r, http.StatusOK, toTrafficMetric(rec.Metric))
}
