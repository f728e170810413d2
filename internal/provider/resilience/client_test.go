package resilience_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficwatch/trafficwatch/internal/provider/resilience"
)

// neverTrip keeps the breaker closed for the whole test.
var neverTrip = resilience.BreakerConfig{
	ReadyToTrip: func(gobreaker.Counts) bool { return false },
}

func get(t *testing.T, client *resilience.Client, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, http.NoBody)
	require.NoError(t, err)
	return client.Do(req)
}

func TestClient_SuccessfulRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, resilience.DefaultUserAgent, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := resilience.NewClient(resilience.ClientConfig{Name: "camera-registry", Logger: zerolog.Nop()})

	resp, err := get(t, client, server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "camera-registry", client.Name())
	assert.Equal(t, gobreaker.StateClosed, client.State())
}

func TestClient_RetryOn5xx(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resilience.NewClient(resilience.ClientConfig{
		Name:            "traffic-snapshot",
		Timeout:         5 * time.Second,
		MaxRetries:      5,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     50 * time.Millisecond,
		Breaker:         neverTrip,
	})

	resp, err := get(t, client, server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_RetriesExhausted(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := resilience.NewClient(resilience.ClientConfig{
		Name:            "traffic-snapshot",
		MaxRetries:      2,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     10 * time.Millisecond,
		Breaker:         neverTrip,
	})

	resp, err := get(t, client, server.URL)
	assert.Nil(t, resp)
	require.ErrorIs(t, err, resilience.ErrRetriesExhausted)

	var serverErr *resilience.ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, http.StatusServiceUnavailable, serverErr.StatusCode)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_TripsAfterConsecutiveFailures(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	registry := resilience.NewRegistry()
	client := resilience.NewClient(resilience.ClientConfig{
		Name:            "camera-registry",
		MaxRetries:      1,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     10 * time.Millisecond,
		Breaker:         resilience.BreakerConfig{ConsecutiveFailures: 3, OpenTimeout: time.Minute},
		Registry:        registry,
	})

	// Two calls of two attempts each: the third failed attempt opens the breaker.
	for i := 0; i < 2; i++ {
		_, err := get(t, client, server.URL)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, client.State())
	assert.Equal(t, int32(3), attempts.Load())

	_, err := get(t, client, server.URL)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(3), attempts.Load(), "open breaker must not reach the upstream")

	health, ok := registry.Get("camera-registry")
	require.True(t, ok)
	assert.Equal(t, 1, health.Trips)
	assert.Equal(t, resilience.ConditionDown, health.Condition())
}

func TestClient_TimeoutHandling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resilience.NewClient(resilience.ClientConfig{
		Name:            "slow",
		Timeout:         50 * time.Millisecond,
		MaxRetries:      1,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		Breaker:         neverTrip,
	})

	resp, err := get(t, client, server.URL)
	if resp != nil {
		resp.Body.Close()
	}
	assert.ErrorIs(t, err, resilience.ErrRetriesExhausted)
}

func TestClient_4xxNotRetried(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := resilience.NewClient(resilience.ClientConfig{
		Name:            "missing",
		MaxRetries:      3,
		InitialInterval: 10 * time.Millisecond,
	})

	resp, err := get(t, client, server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClient_KeepsCallerUserAgent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	defer server.Close()

	client := resilience.NewClient(resilience.ClientConfig{Name: "camera-registry"})

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "probe")

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body [16]byte
	n, _ := resp.Body.Read(body[:])
	assert.Equal(t, "probe", string(body[:n]))
}

func TestClient_RecordsOutcomeInRegistry(t *testing.T) {
	var unhealthy atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if unhealthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	registry := resilience.NewRegistry()
	client := resilience.NewClient(resilience.ClientConfig{
		Name:            "camera-registry",
		MaxRetries:      1,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     10 * time.Millisecond,
		Breaker:         neverTrip,
		Registry:        registry,
	})

	resp, err := get(t, client, server.URL)
	require.NoError(t, err)
	resp.Body.Close()

	health, ok := registry.Get("camera-registry")
	require.True(t, ok)
	require.NotNil(t, health.LastSuccessAt)
	assert.Nil(t, health.LastFailureAt)
	assert.Equal(t, resilience.ConditionUp, health.Condition())

	unhealthy.Store(true)
	_, err = get(t, client, server.URL)
	require.Error(t, err)

	health, _ = registry.Get("camera-registry")
	require.NotNil(t, health.LastFailureAt)
	assert.Contains(t, health.LastError, "Service Unavailable")
	assert.Equal(t, uint32(2), health.Counts.ConsecutiveFailures)
}

func TestGetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte(`{"district":"Quận 1","count":12}`))
		case "/broken":
			_, _ = w.Write([]byte(`{"district":`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	var out struct {
		District string `json:"district"`
		Count    int    `json:"count"`
	}

	require.NoError(t, resilience.GetJSON(context.Background(), http.DefaultClient, server.URL+"/ok", &out))
	assert.Equal(t, "Quận 1", out.District)
	assert.Equal(t, 12, out.Count)

	err := resilience.GetJSON(context.Background(), http.DefaultClient, server.URL+"/missing", &out)
	assert.ErrorIs(t, err, resilience.ErrUnexpectedStatus)

	err = resilience.GetJSON(context.Background(), http.DefaultClient, server.URL+"/broken", &out)
	assert.ErrorContains(t, err, "decode response")
}

func TestTripRule(t *testing.T) {
	rule := resilience.TripRule(3)

	tests := []struct {
		name     string
		counts   gobreaker.Counts
		expected bool
	}{
		{"first failure", gobreaker.Counts{Requests: 1, TotalFailures: 1, ConsecutiveFailures: 1}, false},
		{"three in a row", gobreaker.Counts{Requests: 3, TotalFailures: 3, ConsecutiveFailures: 3}, true},
		{"low failure rate", gobreaker.Counts{Requests: 10, TotalFailures: 4, ConsecutiveFailures: 1}, false},
		{"half failed", gobreaker.Counts{Requests: 10, TotalFailures: 5, ConsecutiveFailures: 2}, true},
		{"too few for ratio", gobreaker.Counts{Requests: 4, TotalFailures: 2, ConsecutiveFailures: 2}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, rule(tt.counts))
		})
	}
}

func TestServerError(t *testing.T) {
	err := &resilience.ServerError{StatusCode: http.StatusBadGateway}
	assert.Equal(t, "upstream returned 502 Bad Gateway", err.Error())
}
