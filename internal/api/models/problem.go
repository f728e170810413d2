package models

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Problem represents an RFC7807 error response.
type Problem struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`

	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`

	// Status is the HTTP status code for this occurrence of the problem.
	Status int `json:"status"`

	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`

	// Instance is a URI reference that identifies the specific occurrence.
	Instance string `json:"instance,omitempty"`

	// TraceID is the request trace identifier for debugging.
	TraceID string `json:"traceId"`

	// Errors contains structured field validation errors.
	Errors []FieldError `json:"errors,omitempty"`
}

// FieldError represents a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Problem types served by the API.
const (
	ProblemTypeValidation          = "https://trafficwatch.dev/problems/validation-error"
	ProblemTypeNotFound            = "https://trafficwatch.dev/problems/not-found"
	ProblemTypeCameraNotFound      = "https://trafficwatch.dev/problems/camera-not-found"
	ProblemTypeNoMeasurement       = "https://trafficwatch.dev/problems/no-measurement"
	ProblemTypeMethodNotAllowed    = "https://trafficwatch.dev/problems/method-not-allowed"
	ProblemTypeTooManyRequests     = "https://trafficwatch.dev/problems/too-many-requests"
	ProblemTypeInternal            = "https://trafficwatch.dev/problems/internal-error"
	ProblemTypeUnavailable         = "https://trafficwatch.dev/problems/service-unavailable"
	ProblemTypeRegistryUnavailable = "https://trafficwatch.dev/problems/camera-registry-unavailable"
	ProblemTypeHistoryDisabled     = "https://trafficwatch.dev/problems/history-disabled"
	ProblemTypeTLSRequired         = "https://trafficwatch.dev/problems/tls-required"
)

// NewProblem creates a new Problem with the given parameters.
func NewProblem(problemType, title string, status int, traceID string) *Problem {
	return &Problem{
		Type:    problemType,
		Title:   title,
		Status:  status,
		TraceID: traceID,
	}
}

// WithDetail adds a detail message to the Problem.
func (p *Problem) WithDetail(detail string) *Problem {
	p.Detail = detail
	return p
}

// WithInstance adds the request instance URI to the Problem.
func (p *Problem) WithInstance(instance string) *Problem {
	p.Instance = instance
	return p
}

// WithErrors adds field errors to the Problem.
func (p *Problem) WithErrors(errors []FieldError) *Problem {
	p.Errors = errors
	return p
}

// Write writes the Problem as JSON to the ResponseWriter.
func (p *Problem) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.Header().Set("X-Request-Id", p.TraceID)
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func detailed(problemType, title string, status int, traceID, detail string) *Problem {
	return NewProblem(problemType, title, status, traceID).WithDetail(detail)
}

// NewBadRequest creates a 400 validation problem.
func NewBadRequest(traceID, detail string, errors []FieldError) *Problem {
	return detailed(ProblemTypeValidation, "Validation error", http.StatusBadRequest, traceID, detail).
		WithErrors(errors)
}

// NewNotFound creates a generic 404 problem.
func NewNotFound(traceID, detail string) *Problem {
	return detailed(ProblemTypeNotFound, "Not found", http.StatusNotFound, traceID, detail)
}

// NewCameraNotFound reports a camera key missing from the registry.
func NewCameraNotFound(traceID, key string) *Problem {
	return detailed(ProblemTypeCameraNotFound, "Camera not found", http.StatusNotFound, traceID,
		"no camera with id "+strconv.Quote(key))
}

// NewNoMeasurement reports a camera with neither a cached nor a stored metric.
func NewNoMeasurement(traceID, cameraID string) *Problem {
	return detailed(ProblemTypeNoMeasurement, "No measurement", http.StatusNotFound, traceID,
		"no measurement for camera "+strconv.Quote(cameraID))
}

// NewMethodNotAllowed creates a 405 problem. The API is read-only.
func NewMethodNotAllowed(traceID, method string) *Problem {
	return detailed(ProblemTypeMethodNotAllowed, "Method not allowed", http.StatusMethodNotAllowed, traceID,
		method+" is not supported; the API is read-only")
}

// NewTooManyRequests creates a 429 problem.
func NewTooManyRequests(traceID, detail string) *Problem {
	return detailed(ProblemTypeTooManyRequests, "Too many requests", http.StatusTooManyRequests, traceID, detail)
}

// NewInternalError creates a 500 problem.
func NewInternalError(traceID, detail string) *Problem {
	return detailed(ProblemTypeInternal, "Internal server error", http.StatusInternalServerError, traceID, detail)
}

// NewServiceUnavailable creates a generic 503 problem.
func NewServiceUnavailable(traceID, detail string) *Problem {
	return detailed(ProblemTypeUnavailable, "Service unavailable", http.StatusServiceUnavailable, traceID, detail)
}

// NewRegistryUnavailable reports that the camera registry could not be
// loaded and no stale copy is left to serve.
func NewRegistryUnavailable(traceID string) *Problem {
	return detailed(ProblemTypeRegistryUnavailable, "Camera registry unavailable", http.StatusServiceUnavailable,
		traceID, "the camera registry could not be loaded")
}

// NewHistoryDisabled reports a history route on a process without storage.
func NewHistoryDisabled(traceID string) *Problem {
	return detailed(ProblemTypeHistoryDisabled, "History disabled", http.StatusServiceUnavailable, traceID,
		"traffic history is not enabled on this server")
}
