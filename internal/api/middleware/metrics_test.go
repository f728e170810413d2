package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficwatch/trafficwatch/internal/api/middleware"
)

func TestMetrics_Middleware(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"success", http.StatusOK},
		{"client error", http.StatusBadRequest},
		{"server error", http.StatusInternalServerError},
	}

	metrics, err := middleware.NewMetrics()
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := metrics.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("body"))
			}))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/cameras", http.NoBody))

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "body", w.Body.String())
		})
	}
}

func TestMetrics_StreamCounters(t *testing.T) {
	metrics, err := middleware.NewMetrics()
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		metrics.StreamOpened("traffic")
		metrics.StreamSent("traffic")
		metrics.StreamClosed("traffic")
	})

	var nilMetrics *middleware.Metrics
	assert.NotPanics(t, func() {
		nilMetrics.StreamOpened("traffic")
		nilMetrics.StreamSent("traffic")
		nilMetrics.StreamClosed("traffic")
	})
}
