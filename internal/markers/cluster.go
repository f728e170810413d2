// Package markers decides which camera markers are drawn for a map viewport.
//
// Clustering is a greedy distance sweep: cameras are visited in a stable key
// order and a camera is kept only if no already kept camera lies within the
// zoom-dependent radius. The result depends only on the inputs.
package markers

import (
	"sort"

	"github.com/trafficwatch/trafficwatch/internal/camera"
	"github.com/trafficwatch/trafficwatch/internal/geo"
)

// Zoom thresholds and the clustering radius, in meters, used below each.
const (
	DetailZoom = 14
	CityZoom   = 12
	RegionZoom = 10

	CityRadius     = 450
	RegionRadius   = 900
	OverviewRadius = 1400
)

// RadiusForZoom returns the clustering radius in meters for a zoom level.
// Zero means every camera in view is shown.
func RadiusForZoom(zoom float64) float64 {
	switch {
	case zoom >= DetailZoom:
		return 0
	case zoom >= CityZoom:
		return CityRadius
	case zoom >= RegionZoom:
		return RegionRadius
	default:
		return OverviewRadius
	}
}

// ComputeVisible returns the cameras to draw for the viewport and zoom.
func ComputeVisible(cameras []camera.Camera, bounds geo.Bounds, zoom float64) []camera.Camera {
	inView := make([]camera.Camera, 0, len(cameras))
	for _, c := range cameras {
		if bounds.Contains(c.Location) {
			inView = append(inView, c)
		}
	}

	radius := RadiusForZoom(zoom)
	if radius == 0 {
		return inView
	}

	sort.SliceStable(inView, func(i, j int) bool {
		return sortKey(inView[i]) < sortKey(inView[j])
	})

	kept := make([]camera.Camera, 0, len(inView))
	for _, candidate := range inView {
		if !withinRadius(candidate, kept, radius) {
			kept = append(kept, candidate)
		}
	}
	return kept
}

func withinRadius(c camera.Camera, kept []camera.Camera, radius float64) bool {
	for _, k := range kept {
		if geo.Distance(c.Location, k.Location) <= radius {
			return true
		}
	}
	return false
}

func sortKey(c camera.Camera) string {
	if key := c.Key(); key != "" {
		return key
	}
	return c.Location.Key()
}
