package handler

import (
	"net/http"

	"github.com/trafficwatch/trafficwatch/internal/api/response"
	"github.com/trafficwatch/trafficwatch/internal/citystats"
)

// StatsHandler serves the city overview.
type StatsHandler struct {
	tracker *citystats.Tracker
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(tracker *citystats.Tracker) *StatsHandler {
	return &StatsHandler{tracker: tracker}
}

// Overview handles GET /v1/stats/overview.
func (h *StatsHandler) Overview(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, h.tracker.Overview())
}
