package history

import (
	"context"
	"time"

	"github.com/trafficwatch/trafficwatch/internal/traffic"
)

// HourKeyLayout formats hour buckets in the series returned to clients.
const HourKeyLayout = "2006-01-02T15:00:00"

// Repository defines the interface for traffic record persistence.
type Repository interface {
	// Insert stores measurements.
	Insert(ctx context.Context, metrics ...traffic.Metric) error

	// Find returns the records matching q ordered by time.
	Find(ctx context.Context, q Query) ([]Record, error)

	// HourlyTotals sums total counts per hour in [start, end), keyed by the
	// hour start in loc formatted with HourKeyLayout. An empty district
	// covers the whole city.
	HourlyTotals(ctx context.Context, start, end time.Time, district string, loc *time.Location) (map[string]int64, error)

	// Peak returns the record with the highest total count of a camera.
	// Returns ErrNotFound if the camera has no records.
	Peak(ctx context.Context, cameraID string) (Record, error)

	// MaxCounts returns the highest total count stored for each camera.
	MaxCounts(ctx context.Context, cameraIDs []string) (map[string]int, error)
}
