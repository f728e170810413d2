package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficwatch/trafficwatch/internal/api"
	"github.com/trafficwatch/trafficwatch/internal/api/models"
	"github.com/trafficwatch/trafficwatch/internal/camera"
	"github.com/trafficwatch/trafficwatch/internal/citystats"
	"github.com/trafficwatch/trafficwatch/internal/feed"
	"github.com/trafficwatch/trafficwatch/internal/geo"
	"github.com/trafficwatch/trafficwatch/internal/history"
	"github.com/trafficwatch/trafficwatch/internal/mapview"
	"github.com/trafficwatch/trafficwatch/internal/traffic"
)

var measuredAt = time.Date(2025, 11, 20, 8, 15, 0, 0, time.UTC)

type staticRegistry struct {
	cameras []camera.Camera
}

func (r staticRegistry) FetchCameras(context.Context) (*camera.Snapshot, error) {
	return camera.NewSnapshot(r.cameras, "test", time.Now()), nil
}

type testEnv struct {
	router  http.Handler
	cameras *camera.Service
	traffic *feed.Manager[traffic.Metric]
}

type envOption func(*api.RouterConfig)

func withHistory(records ...traffic.Metric) envOption {
	return func(cfg *api.RouterConfig) {
		repo := history.NewInMemoryRepository()
		_ = repo.Insert(context.Background(), records...)
		cfg.History = history.NewService(history.ServiceConfig{
			Repository: repo,
			Location:   time.UTC,
			Logger:     zerolog.Nop(),
			Now:        func() time.Time { return measuredAt.Add(time.Hour) },
		})
	}
}

func withOrigins(origins ...string) envOption {
	return func(cfg *api.RouterConfig) {
		cfg.AllowedOrigins = origins
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	logger := zerolog.Nop()

	cameras := camera.NewService(camera.ServiceConfig{
		Registry: staticRegistry{cameras: []camera.Camera{
			{ID: "cam1", Name: "Nguyen Hue", District: "D1", Location: geo.Point{Lat: 10.7740, Lon: 106.7030}},
			{ID: "cam2", Name: "Vo Van Kiet", District: "D5", Location: geo.Point{Lat: 10.7520, Lon: 106.6650}},
		}},
		Logger: logger,
	})

	trafficFeed := feed.NewManager(feed.Config[traffic.Metric]{
		Name:             "traffic",
		Codec:            traffic.FeedCodec(time.UTC),
		FallbackInterval: 20 * time.Millisecond,
		Logger:           logger,
	})
	t.Cleanup(trafficFeed.Close)
	trafficFeed.Seed(traffic.Metric{
		CameraID:   "cam1",
		CameraName: "Nguyen Hue",
		District:   "D1",
		TotalCount: 12,
		Details:    map[string]int{"car": 4, "motorcycle": 8},
		Timestamp:  measuredAt,
	})

	statsFeed := feed.NewManager(feed.Config[citystats.HourlySummary]{
		Name:             "stats",
		Codec:            citystats.FeedCodec(time.UTC),
		FallbackInterval: time.Hour,
		Logger:           logger,
	})
	t.Cleanup(statsFeed.Close)
	statsFeed.Seed(citystats.HourlySummary{
		District:   "D1",
		Hour:       measuredAt.Truncate(time.Hour),
		TotalCount: 340,
		Details:    map[string]int{"motorcycle": 300, "car": 40},
	})

	tracker := citystats.NewTracker(citystats.TrackerConfig{Stats: statsFeed, Logger: logger})
	tracker.Start()
	t.Cleanup(tracker.Stop)

	cfg := api.RouterConfig{
		Version:   "test",
		BuildTime: "2025-01-01T00:00:00Z",
		Logger:    logger,
		Cameras:   cameras,
		View:      mapview.New(mapview.Config{Cameras: cameras, Traffic: trafficFeed, Logger: logger}),
		Traffic:   trafficFeed,
		Stats:     statsFeed,
		Tracker:   tracker,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &testEnv{router: api.NewRouter(cfg), cameras: cameras, traffic: trafficFeed}
}

func (e *testEnv) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, "/v1/ops/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	health := decode[models.Health](t, rec)
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "test", health.Details["version"])
}

func TestReadinessCheck_WaitsForCameraRegistry(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, "/v1/ops/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	_, err := env.cameras.Cameras(context.Background())
	require.NoError(t, err)

	rec = env.get(t, "/v1/ops/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.HealthStatusOK, decode[models.Health](t, rec).Status)
}

func TestSystemStatus_ReportsFeeds(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, "/v1/ops/status")

	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[models.SystemStatus](t, rec)
	require.Len(t, status.Feeds, 2)
	assert.Equal(t, "traffic", status.Feeds[0].Name)
	assert.Equal(t, "idle", status.Feeds[0].State)
	assert.Equal(t, 1, status.Feeds[0].CachedKeys)
	assert.Equal(t, "stats", status.Feeds[1].Name)
	assert.Empty(t, status.Upstreams)
}

func TestListCameras(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, "/v1/cameras")
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[models.ListResponse[models.Camera]](t, rec)
	assert.Equal(t, 2, all.Count)

	rec = env.get(t, "/v1/cameras?district=D5")
	require.Equal(t, http.StatusOK, rec.Code)
	d5 := decode[models.ListResponse[models.Camera]](t, rec)
	require.Equal(t, 1, d5.Count)
	assert.Equal(t, "cam2", d5.Items[0].ID)
	require.NotNil(t, d5.Items[0].Location)
	assert.InDelta(t, 10.752, d5.Items[0].Location.Lat, 1e-9)

	rec = env.get(t, "/v1/cameras/districts")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"D1", "D5"}, decode[models.ListResponse[string]](t, rec).Items)
}

func TestGetCamera(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, "/v1/cameras/cam1")
	require.Equal(t, http.StatusOK, rec.Code)
	marker := decode[models.Marker](t, rec)
	assert.Equal(t, "Nguyen Hue", marker.Name)
	require.NotNil(t, marker.Traffic)
	assert.Equal(t, 12, marker.Traffic.TotalCount)

	rec = env.get(t, "/v1/cameras/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	problem := decode[models.Problem](t, rec)
	assert.Equal(t, models.ProblemTypeCameraNotFound, problem.Type)
	assert.Equal(t, `no camera with id "nope"`, problem.Detail)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, "/v1/weather")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, models.ProblemTypeNotFound, decode[models.Problem](t, rec).Type)

	req := httptest.NewRequest(http.MethodPost, "/v1/cameras/districts", http.NoBody)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, models.ProblemTypeMethodNotAllowed, decode[models.Problem](t, rec).Type)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, withOrigins("https://map.example"))

	req := httptest.NewRequest(http.MethodOptions, "/v1/cameras/markers", http.NoBody)
	req.Header.Set("Origin", "https://map.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://map.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = env.get(t, "/v1/cameras/districts")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"), "no Origin header, no CORS headers")
}

func TestListMarkers(t *testing.T) {
	env := newTestEnv(t)

	// Both cameras are about 5 km apart, so they survive overview clustering.
	rec := env.get(t, "/v1/cameras/markers?minLat=10.7&minLon=106.6&maxLat=10.8&maxLon=106.8&zoom=9")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[models.MarkerList](t, rec)
	assert.Equal(t, 2, list.Count)
	assert.Equal(t, float64(1400), list.RadiusMeters)

	byID := make(map[string]models.Marker)
	for _, m := range list.Markers {
		byID[m.ID] = m
	}
	require.NotNil(t, byID["cam1"].Traffic)
	assert.Equal(t, []float64{106.7030, 10.7740}, byID["cam1"].Traffic.Coordinates)
	assert.Nil(t, byID["cam2"].Traffic)
}

func TestListMarkers_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		query  string
		fields []string
	}{
		{"missing zoom", "minLat=10&minLon=106&maxLat=11&maxLon=107", []string{"zoom"}},
		{"not a number", "minLat=x&minLon=106&maxLat=11&maxLon=107&zoom=12", []string{"minLat"}},
		{"inverted bounds", "minLat=11&minLon=106&maxLat=10&maxLon=107&zoom=12", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.get(t, "/v1/cameras/markers?"+tt.query)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			problem := decode[models.Problem](t, rec)
			assert.Equal(t, models.ProblemTypeValidation, problem.Type)
			fields := make([]string, 0, len(problem.Errors))
			for _, fe := range problem.Errors {
				fields = append(fields, fe.Field)
			}
			if tt.fields == nil {
				assert.Empty(t, fields)
			} else {
				assert.Equal(t, tt.fields, fields)
			}
		})
	}
}

func TestTrafficLatest(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, "/v1/traffic/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	latest := decode[models.LatestTraffic](t, rec)
	assert.False(t, latest.Live)
	require.Equal(t, 1, latest.Count)
	assert.Equal(t, map[string]int{"car": 4, "motorcycle": 8}, latest.Metrics[0].Details)

	rec = env.get(t, "/v1/traffic/latest?district=D5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[models.LatestTraffic](t, rec).Count)
}

func TestTrafficCameraLatest(t *testing.T) {
	env := newTestEnv(t, withHistory(traffic.Metric{
		CameraID:   "cam2",
		District:   "D5",
		TotalCount: 7,
		Details:    map[string]int{"car": 7},
		Timestamp:  measuredAt,
	}))

	rec := env.get(t, "/v1/traffic/cameras/cam1/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 12, decode[models.TrafficMetric](t, rec).TotalCount)

	rec = env.get(t, "/v1/traffic/cameras/cam2/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, decode[models.TrafficMetric](t, rec).TotalCount)

	rec = env.get(t, "/v1/traffic/cameras/cam9/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, models.ProblemTypeNoMeasurement, decode[models.Problem](t, rec).Type)
}

func TestHistoryRoutes_DisabledWithoutService(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{
		"/v1/traffic/by-date",
		"/v1/traffic/hourly-summary",
		"/v1/traffic/summary/by-district",
		"/v1/traffic/history/latest",
		"/v1/traffic/cameras/cam1/peak",
		"/v1/traffic/cameras/cam1/flow",
	} {
		rec := env.get(t, path)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
		assert.Equal(t, models.ProblemTypeHistoryDisabled, decode[models.Problem](t, rec).Type, path)
	}
}

func TestHistoryRoutes(t *testing.T) {
	env := newTestEnv(t, withHistory(
		traffic.Metric{CameraID: "cam1", District: "D1", TotalCount: 10, Details: map[string]int{"car": 10}, Timestamp: measuredAt},
		traffic.Metric{CameraID: "cam1", District: "D1", TotalCount: 30, Details: map[string]int{"car": 30}, Timestamp: measuredAt.Add(20 * time.Minute)},
	))

	rec := env.get(t, "/v1/traffic/by-date?date=2025-11-20")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[models.ListResponse[models.TrafficRecord]](t, rec).Count)

	rec = env.get(t, "/v1/traffic/history/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	latest := decode[models.ListResponse[models.TrafficRecord]](t, rec)
	require.Equal(t, 2, latest.Count)
	assert.Equal(t, 30, latest.Items[0].TotalCount)
	require.NotNil(t, latest.Items[0].MaxCount)
	assert.Equal(t, 30, *latest.Items[0].MaxCount)

	rec = env.get(t, "/v1/traffic/summary/by-district?start=2025-11-20&end=2025-11-20")
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[map[string]history.DistrictSummary](t, rec)
	assert.Equal(t, int64(40), summary["D1"].TotalCount)

	rec = env.get(t, "/v1/traffic/hourly-summary?start=2025-11-20T08:00:00&end=2025-11-20T10:00:00&cameraId=cam1")
	require.Equal(t, http.StatusOK, rec.Code)
	series := decode[models.HourlySeries](t, rec)
	assert.Equal(t, map[string]int64{"2025-11-20T08:00:00": 40, "2025-11-20T09:00:00": 0}, series.Hours)

	rec = env.get(t, "/v1/traffic/cameras/cam1/peak")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 30, decode[models.TrafficRecord](t, rec).TotalCount)

	rec = env.get(t, "/v1/traffic/cameras/cam2/peak")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.get(t, "/v1/traffic/cameras/cam1/flow?start=2025-11-20T08:00:00&end=2025-11-20T09:00:00")
	require.Equal(t, http.StatusOK, rec.Code)
	flow := decode[history.Flow](t, rec)
	assert.Equal(t, int64(40), flow.TotalVehicles)
	assert.InDelta(t, 0.67, flow.FlowRatePerMinute, 1e-9)

	rec = env.get(t, "/v1/traffic/by-date?date=20-11-2025")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsOverview(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, "/v1/stats/overview")

	require.Equal(t, http.StatusOK, rec.Code)
	overview := decode[citystats.Overview](t, rec)
	assert.Equal(t, 340, overview.TotalCount)
	require.Len(t, overview.Districts, 1)
	assert.Equal(t, "D1", overview.Districts[0].District)
}

func TestStream_RateLimited(t *testing.T) {
	env := newTestEnv(t)

	// Plain GETs fail the upgrade but still count against the limit.
	for i := 0; i < 10; i++ {
		rec := env.get(t, "/v1/traffic/stream")
		require.Equal(t, http.StatusBadRequest, rec.Code)
	}

	rec := env.get(t, "/v1/traffic/stream")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestStream_SnapshotThenUpdates(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/traffic/stream?district=D1"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first struct {
		Type string               `json:"type"`
		Data models.LatestTraffic `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, models.StreamTypeSnapshot, first.Type)
	require.Equal(t, 1, first.Data.Count)
	assert.Equal(t, "cam1", first.Data.Metrics[0].CameraID)

	// Without a channel the feed runs in fallback mode and synthesizes
	// updates for every cached camera.
	var update struct {
		Type string               `json:"type"`
		Data models.TrafficMetric `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, models.StreamTypeTraffic, update.Type)
	assert.Equal(t, "cam1", update.Data.CameraID)
	assert.True(t, update.Data.Synthetic)

	require.Eventually(t, func() bool {
		return env.traffic.Status().Subscribers == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool {
		return env.traffic.Status().Subscribers == 0
	}, 2*time.Second, 10*time.Millisecond)
}
