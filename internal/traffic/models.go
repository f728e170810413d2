// Package traffic models the per-camera vehicle counts published by the
// detection pipeline, and the codec that turns channel payloads into them.
package traffic

import (
	"errors"
	"time"

	"github.com/trafficwatch/trafficwatch/internal/geo"
)

// Decoding errors.
var (
	ErrMalformedPayload = errors.New("malformed traffic payload")
	ErrMissingCameraID  = errors.New("traffic payload has no camera id")
)

// Metric is the latest vehicle count observed by one camera.
type Metric struct {
	CameraID   string
	CameraName string
	District   string

	// TotalCount is the number of vehicles in the frame. Producers keep it
	// equal to the sum of Details, but consumers must not rely on that.
	TotalCount int

	// Details maps a vehicle type to its count.
	Details map[string]int

	Timestamp         time.Time
	AnnotatedImageURL string

	// Location is set when the producer includes coordinates.
	Location *geo.Point

	// Synthetic marks locally generated fallback values.
	Synthetic bool
}

// Key returns the cache identity of the metric.
func (m Metric) Key() string {
	return m.CameraID
}

// Clone returns a deep copy of m.
func (m Metric) Clone() Metric {
	out := m
	if m.Details != nil {
		out.Details = make(map[string]int, len(m.Details))
		for k, v := range m.Details {
			out.Details[k] = v
		}
	}
	if m.Location != nil {
		loc := *m.Location
		out.Location = &loc
	}
	return out
}

// DetailsSum returns the sum of the per-type counts.
func (m Metric) DetailsSum() int {
	sum := 0
	for _, v := range m.Details {
		sum += v
	}
	return sum
}

// Placeholder returns the zero-count metric used to register a camera in the
// feed cache before any measurement arrives.
func Placeholder(cameraID, name, district string) Metric {
	return Metric{
		CameraID:   cameraID,
		CameraName: name,
		District:   district,
		Details:    map[string]int{},
	}
}
