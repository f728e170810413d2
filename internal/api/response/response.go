// Package response provides utilities for HTTP response handling.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/trafficwatch/trafficwatch/internal/api/middleware"
	"github.com/trafficwatch/trafficwatch/internal/api/models"
)

// JSON writes a JSON response with the given status code.
// Includes X-Request-Id header for correlation.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := middleware.GetRequestID(r.Context())
	if requestID != "" {
		w.Header().Set("X-Request-Id", requestID)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Error writes a Problem+JSON error response.
func Error(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// BadRequest writes a 400 Bad Request error response.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, errors []models.FieldError) {
	traceID := middleware.GetRequestID(r.Context())
	Error(w, r, models.NewBadRequest(traceID, detail, errors))
}

// InvalidField writes a 400 for a single offending query parameter.
func InvalidField(w http.ResponseWriter, r *http.Request, field, message string) {
	BadRequest(w, r, "invalid "+field, []models.FieldError{
		{Field: field, Message: message, Code: "INVALID"},
	})
}

// NotFound writes a 404 Not Found error response.
func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	traceID := middleware.GetRequestID(r.Context())
	Error(w, r, models.NewNotFound(traceID, detail))
}

// InternalError writes a 500 Internal Server Error response.
func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	traceID := middleware.GetRequestID(r.Context())
	Error(w, r, models.NewInternalError(traceID, detail))
}

// ServiceUnavailable writes a 503 Service Unavailable error response.
func ServiceUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	traceID := middleware.GetRequestID(r.Context())
	Error(w, r, models.NewServiceUnavailable(traceID, detail))
}

// CameraNotFound writes a 404 for an unknown camera key.
func CameraNotFound(w http.ResponseWriter, r *http.Request, key string) {
	Error(w, r, models.NewCameraNotFound(middleware.GetRequestID(r.Context()), key))
}

// NoMeasurement writes a 404 for a camera without any metric.
func NoMeasurement(w http.ResponseWriter, r *http.Request, cameraID string) {
	Error(w, r, models.NewNoMeasurement(middleware.GetRequestID(r.Context()), cameraID))
}

// RegistryUnavailable writes a 503 when the camera registry cannot be served.
func RegistryUnavailable(w http.ResponseWriter, r *http.Request) {
	Error(w, r, models.NewRegistryUnavailable(middleware.GetRequestID(r.Context())))
}

// HistoryDisabled writes a 503 for history routes without storage.
func HistoryDisabled(w http.ResponseWriter, r *http.Request) {
	Error(w, r, models.NewHistoryDisabled(middleware.GetRequestID(r.Context())))
}

// RouteNotFound is the router's fallback for unknown paths.
func RouteNotFound(w http.ResponseWriter, r *http.Request) {
	NotFound(w, r, "no route for "+r.URL.Path)
}

// MethodNotAllowed is the router's fallback for unsupported methods.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	Error(w, r, models.NewMethodNotAllowed(middleware.GetRequestID(r.Context()), r.Method))
}
