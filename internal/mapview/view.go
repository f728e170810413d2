// Package mapview composes the camera registry, the marker clustering and
// the traffic feed into what the map page draws.
package mapview

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/trafficwatch/trafficwatch/internal/camera"
	"github.com/trafficwatch/trafficwatch/internal/feed"
	"github.com/trafficwatch/trafficwatch/internal/geo"
	"github.com/trafficwatch/trafficwatch/internal/markers"
	"github.com/trafficwatch/trafficwatch/internal/traffic"
)

// ErrInvalidBounds is returned for a viewport that is not a valid rectangle.
var ErrInvalidBounds = errors.New("invalid viewport bounds")

// Marker is a camera drawn on the map with its latest count.
type Marker struct {
	Camera camera.Camera

	// Metric is the latest cached measurement, when HasMetric is set.
	Metric    traffic.Metric
	HasMetric bool
}

// Config holds configuration for a View.
type Config struct {
	Cameras *camera.Service
	Traffic *feed.Manager[traffic.Metric]
	Logger  zerolog.Logger
}

// View answers map queries.
type View struct {
	cameras *camera.Service
	traffic *feed.Manager[traffic.Metric]
	logger  zerolog.Logger
}

// New creates a View.
func New(cfg Config) *View {
	return &View{
		cameras: cfg.Cameras,
		traffic: cfg.Traffic,
		logger:  cfg.Logger,
	}
}

// Prime registers a zero-count placeholder in the traffic cache for every
// known camera, so fallback updates cover cameras that never reported.
// Cameras that already have a cached value keep it.
func (v *View) Prime(ctx context.Context) (int, error) {
	cams, err := v.cameras.Cameras(ctx)
	if err != nil {
		return 0, fmt.Errorf("load cameras: %w", err)
	}

	placeholders := make([]traffic.Metric, 0, len(cams))
	for _, c := range cams {
		placeholders = append(placeholders, traffic.Placeholder(c.Key(), c.Name, c.District))
	}
	v.traffic.Seed(placeholders...)

	v.logger.Info().Int("cameras", len(placeholders)).Msg("traffic cache primed from camera registry")
	return len(placeholders), nil
}

// Markers returns the clustered cameras inside bounds at zoom, each merged
// with its latest cached count.
func (v *View) Markers(ctx context.Context, bounds geo.Bounds, zoom float64) ([]Marker, error) {
	if !bounds.Valid() {
		return nil, ErrInvalidBounds
	}

	cams, err := v.cameras.MapCameras(ctx)
	if err != nil {
		return nil, fmt.Errorf("load cameras: %w", err)
	}

	visible := markers.ComputeVisible(cams, bounds, zoom)
	out := make([]Marker, len(visible))
	for i, c := range visible {
		out[i] = v.marker(c)
	}
	return out, nil
}

// Camera returns one camera with its latest cached count.
func (v *View) Camera(ctx context.Context, key string) (Marker, error) {
	c, err := v.cameras.Get(ctx, key)
	if err != nil {
		return Marker{}, err
	}
	return v.marker(c), nil
}

// Latest returns the cached measurement of every camera, optionally limited
// to one district.
func (v *View) Latest(district string) []traffic.Metric {
	all := v.traffic.AllCached()
	if district == "" {
		return all
	}
	out := make([]traffic.Metric, 0, len(all))
	for _, m := range all {
		if m.District == district {
			out = append(out, m)
		}
	}
	return out
}

func (v *View) marker(c camera.Camera) Marker {
	m, ok := v.traffic.Cached(c.Key())
	if ok && m.Location == nil && c.Location.Valid() {
		loc := c.Location
		m.Location = &loc
	}
	return Marker{Camera: c, Metric: m, HasMetric: ok}
}
