package models_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficwatch/trafficwatch/internal/api/models"
)

func TestProblem_Builders(t *testing.T) {
	fieldErrors := []models.FieldError{
		{Field: "zoom", Message: "must be a number", Code: "INVALID"},
	}

	p := models.NewProblem(
		models.ProblemTypeValidation,
		"Validation error",
		http.StatusBadRequest,
		"req_test123",
	).WithDetail("invalid viewport").WithInstance("/v1/cameras/markers").WithErrors(fieldErrors)

	assert.Equal(t, models.ProblemTypeValidation, p.Type)
	assert.Equal(t, "Validation error", p.Title)
	assert.Equal(t, http.StatusBadRequest, p.Status)
	assert.Equal(t, "req_test123", p.TraceID)
	assert.Equal(t, "invalid viewport", p.Detail)
	assert.Equal(t, "/v1/cameras/markers", p.Instance)
	assert.Equal(t, fieldErrors, p.Errors)
}

func TestProblem_Write(t *testing.T) {
	p := models.NewNotFound("req_abc", "camera not found")
	p.Instance = "/v1/traffic/cameras/x/latest"

	w := httptest.NewRecorder()
	p.Write(w)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Equal(t, "req_abc", w.Header().Get("X-Request-Id"))

	var decoded models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	assert.Equal(t, *p, decoded)
}

func TestProblemConstructors(t *testing.T) {
	tests := []struct {
		name    string
		problem *models.Problem
		status  int
		typ     string
	}{
		{"bad request", models.NewBadRequest("t", "d", nil), http.StatusBadRequest, models.ProblemTypeValidation},
		{"not found", models.NewNotFound("t", "d"), http.StatusNotFound, models.ProblemTypeNotFound},
		{"too many requests", models.NewTooManyRequests("t", "d"), http.StatusTooManyRequests, models.ProblemTypeTooManyRequests},
		{"internal", models.NewInternalError("t", "d"), http.StatusInternalServerError, models.ProblemTypeInternal},
		{"unavailable", models.NewServiceUnavailable("t", "d"), http.StatusServiceUnavailable, models.ProblemTypeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.problem.Status)
			assert.Equal(t, tt.typ, tt.problem.Type)
			assert.Equal(t, "d", tt.problem.Detail)
			assert.Equal(t, "t", tt.problem.TraceID)
		})
	}
}

func TestDomainProblems(t *testing.T) {
	tests := []struct {
		name    string
		problem *models.Problem
		status  int
		typ     string
		detail  string
	}{
		{"camera", models.NewCameraNotFound("t", "cam9"), http.StatusNotFound, models.ProblemTypeCameraNotFound, `no camera with id "cam9"`},
		{"measurement", models.NewNoMeasurement("t", "cam9"), http.StatusNotFound, models.ProblemTypeNoMeasurement, `no measurement for camera "cam9"`},
		{"method", models.NewMethodNotAllowed("t", http.MethodDelete), http.StatusMethodNotAllowed, models.ProblemTypeMethodNotAllowed, "DELETE is not supported; the API is read-only"},
		{"registry", models.NewRegistryUnavailable("t"), http.StatusServiceUnavailable, models.ProblemTypeRegistryUnavailable, "the camera registry could not be loaded"},
		{"history", models.NewHistoryDisabled("t"), http.StatusServiceUnavailable, models.ProblemTypeHistoryDisabled, "traffic history is not enabled on this server"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.problem.Status)
			assert.Equal(t, tt.typ, tt.problem.Type)
			assert.Equal(t, tt.detail, tt.problem.Detail)
		})
	}
}

func TestTimestamp_JSON(t *testing.T) {
	ts := models.Timestamp(time.Date(2025, 11, 20, 8, 15, 0, 0, time.FixedZone("ICT", 7*3600)))

	data, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2025-11-20T08:15:00+07:00"`, string(data))

	var decoded models.Timestamp
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, ts.Time().Equal(decoded.Time()))

	assert.Nil(t, models.TimestampPtr(time.Time{}))
}

func TestNewList_EncodesEmptyArray(t *testing.T) {
	data, err := json.Marshal(models.NewList[models.Camera](nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[],"count":0}`, string(data))
}
