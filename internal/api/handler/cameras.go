package handler

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/trafficwatch/trafficwatch/internal/api/models"
	"github.com/trafficwatch/trafficwatch/internal/api/response"
	"github.com/trafficwatch/trafficwatch/internal/camera"
	"github.com/trafficwatch/trafficwatch/internal/geo"
	"github.com/trafficwatch/trafficwatch/internal/mapview"
	"github.com/trafficwatch/trafficwatch/internal/markers"
)

// CameraHandler handles camera and map endpoints.
type CameraHandler struct {
	cameras *camera.Service
	view    *mapview.View
	logger  zerolog.Logger
}

// NewCameraHandler creates a new CameraHandler.
func NewCameraHandler(cameras *camera.Service, view *mapview.View, logger zerolog.Logger) *CameraHandler {
	return &CameraHandler{
		cameras: cameras,
		view:    view,
		logger:  logger,
	}
}

// ListCameras handles GET /v1/cameras - all cameras, optionally of one district.
func (h *CameraHandler) ListCameras(w http.ResponseWriter, r *http.Request) {
	cams, err := h.cameras.ByDistrict(r.Context(), r.URL.Query().Get("district"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewList(toCameras(cams)))
}

// ListDistricts handles GET /v1/cameras/districts.
func (h *CameraHandler) ListDistricts(w http.ResponseWriter, r *http.Request) {
	districts, err := h.cameras.Districts(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewList(districts))
}

// GetCamera handles GET /v1/cameras/{cameraId} - one camera with its latest count.
func (h *CameraHandler) GetCamera(w http.ResponseWriter, r *http.Request) {
	m, err := h.view.Camera(r.Context(), chi.URLParam(r, "cameraId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, toMarker(m))
}

// ListMarkers handles GET /v1/cameras/markers - the clustered markers of a viewport.
func (h *CameraHandler) ListMarkers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var fieldErrors []models.FieldError
	number := func(name string) float64 {
		raw := q.Get(name)
		if raw == "" {
			fieldErrors = append(fieldErrors, models.FieldError{Field: name, Message: "is required", Code: "REQUIRED"})
			return 0
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			fieldErrors = append(fieldErrors, models.FieldError{Field: name, Message: "must be a number", Code: "INVALID"})
			return 0
		}
		return v
	}

	bounds := geo.Bounds{
		MinLat: number("minLat"),
		MinLon: number("minLon"),
		MaxLat: number("maxLat"),
		MaxLon: number("maxLon"),
	}
	zoom := number("zoom")
	if len(fieldErrors) > 0 {
		response.BadRequest(w, r, "invalid viewport", fieldErrors)
		return
	}

	visible, err := h.view.Markers(r.Context(), bounds, zoom)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := models.MarkerList{
		Zoom:         zoom,
		RadiusMeters: markers.RadiusForZoom(zoom),
		Markers:      make([]models.Marker, len(visible)),
		Count:        len(visible),
	}
	for i, m := range visible {
		out.Markers[i] = toMarker(m)
	}
	response.JSON(w, r, http.StatusOK, out)
}

func (h *CameraHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, camera.ErrCameraNotFound):
		response.CameraNotFound(w, r, chi.URLParam(r, "cameraId"))
	case errors.Is(err, mapview.ErrInvalidBounds):
		response.BadRequest(w, r, "viewport bounds must satisfy min <= max within [-90,90] x [-180,180]", nil)
	case errors.Is(err, camera.ErrRegistryUnavailable):
		response.RegistryUnavailable(w, r)
	default:
		h.logger.Error().Err(err).Msg("camera request failed")
		response.InternalError(w, r, "failed to load cameras")
	}
}
