package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/trafficwatch/trafficwatch/internal/api/models"
	"github.com/trafficwatch/trafficwatch/internal/api/response"
	"github.com/trafficwatch/trafficwatch/internal/history"
)

// HistoryHandler serves reporting queries over stored measurements.
// Every endpoint answers 503 when history is disabled.
type HistoryHandler struct {
	history *history.Service
	logger  zerolog.Logger
}

// NewHistoryHandler creates a new HistoryHandler. hist may be nil.
func NewHistoryHandler(hist *history.Service, logger zerolog.Logger) *HistoryHandler {
	return &HistoryHandler{
		history: hist,
		logger:  logger,
	}
}

// Latest handles GET /v1/traffic/history/latest?district=&date=.
func (h *HistoryHandler) Latest(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w, r) {
		return
	}
	q := r.URL.Query()
	records, err := h.history.Latest(r.Context(), q.Get("district"), q.Get("date"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewList(toLatestRecords(records)))
}

// ByDate handles GET /v1/traffic/by-date?date=&cameraId=.
func (h *HistoryHandler) ByDate(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w, r) {
		return
	}
	q := r.URL.Query()
	records, err := h.history.MetricsByDate(r.Context(), q.Get("date"), q.Get("cameraId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewList(toRecords(records)))
}

// HourlySummary handles GET /v1/traffic/hourly-summary?start=&end=&district=&cameraId=.
func (h *HistoryHandler) HourlySummary(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w, r) {
		return
	}
	q := r.URL.Query()
	district, cameraID := q.Get("district"), q.Get("cameraId")
	hours, err := h.history.HourlySeries(r.Context(), q.Get("start"), q.Get("end"), district, cameraID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.HourlySeries{
		District: district,
		CameraID: cameraID,
		Hours:    hours,
	})
}

// SummaryByDistrict handles GET /v1/traffic/summary/by-district?start=&end=.
func (h *HistoryHandler) SummaryByDistrict(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w, r) {
		return
	}
	q := r.URL.Query()
	summary, err := h.history.SummaryByDistrict(r.Context(), q.Get("start"), q.Get("end"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, summary)
}

// Peak handles GET /v1/traffic/cameras/{cameraId}/peak.
func (h *HistoryHandler) Peak(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w, r) {
		return
	}
	rec, err := h.history.Peak(r.Context(), chi.URLParam(r, "cameraId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, toRecord(rec))
}

// Flow handles GET /v1/traffic/cameras/{cameraId}/flow?start=&end=.
func (h *HistoryHandler) Flow(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w, r) {
		return
	}
	q := r.URL.Query()
	flow, err := h.history.FlowRate(r.Context(), chi.URLParam(r, "cameraId"), q.Get("start"), q.Get("end"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, flow)
}

func (h *HistoryHandler) enabled(w http.ResponseWriter, r *http.Request) bool {
	if h.history == nil {
		response.HistoryDisabled(w, r)
		return false
	}
	return true
}

func (h *HistoryHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, history.ErrInvalidDate):
		response.BadRequest(w, r, err.Error(), nil)
	case errors.Is(err, history.ErrNotFound):
		response.NotFound(w, r, "no traffic records found")
	default:
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("history query failed")
		response.InternalError(w, r, "failed to query traffic history")
	}
}
