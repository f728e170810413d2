// Package history stores every traffic measurement received by the feed and
// answers the reporting queries of the dashboard: latest records, per-day
// listings, hourly series and district summaries.
package history

import (
	"errors"
	"time"

	"github.com/trafficwatch/trafficwatch/internal/traffic"
)

// Domain errors.
var (
	ErrNotFound    = errors.New("no traffic records found")
	ErrInvalidDate = errors.New("invalid date")
)

// Record is one stored measurement.
type Record struct {
	ID int64
	traffic.Metric
}

// LatestRecord is a record annotated with the highest count ever stored for
// its camera.
type LatestRecord struct {
	Record
	MaxCount int
}

// DistrictSummary aggregates the records of one district.
type DistrictSummary struct {
	TotalCount int64            `json:"totalCount"`
	Details    map[string]int64 `json:"detectionDetailsSummary"`
}

// Flow is the average vehicle rate of one camera over a period.
type Flow struct {
	CameraID          string    `json:"cameraId"`
	TotalVehicles     int64     `json:"totalVehiclesDetected"`
	DurationMinutes   int64     `json:"durationMinutes"`
	FlowRatePerMinute float64   `json:"flowRatePerMinute"`
	PeriodStart       time.Time `json:"periodStart"`
	PeriodEnd         time.Time `json:"periodEnd"`
}

// Query selects records. Zero fields do not filter.
type Query struct {
	// Start is inclusive, End exclusive.
	Start time.Time
	End   time.Time

	District string
	CameraID string

	// Newest orders by time descending instead of ascending.
	Newest bool

	// Limit caps the number of records when positive.
	Limit int
}
