package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/trafficwatch/trafficwatch/internal/traffic"
)

// InMemoryRepository is an in-memory implementation of Repository.
// It backs tests and deployments without a database.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records []Record
	nextID  int64
}

// NewInMemoryRepository creates a new in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{nextID: 1}
}

// Insert stores measurements.
func (r *InMemoryRepository) Insert(_ context.Context, metrics ...traffic.Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range metrics {
		r.records = append(r.records, Record{ID: r.nextID, Metric: m.Clone()})
		r.nextID++
	}
	return nil
}

// Find returns the records matching q ordered by time.
func (r *InMemoryRepository) Find(_ context.Context, q Query) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Record, 0)
	for _, rec := range r.records {
		if matches(rec, q) {
			out = append(out, copyRecord(rec))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if q.Newest {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// HourlyTotals sums total counts per hour.
func (r *InMemoryRepository) HourlyTotals(_ context.Context, start, end time.Time, district string, loc *time.Location) (map[string]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q := Query{Start: start, End: end, District: district}
	out := make(map[string]int64)
	for _, rec := range r.records {
		if matches(rec, q) {
			out[hourKey(rec.Timestamp, loc)] += int64(rec.TotalCount)
		}
	}
	return out, nil
}

// Peak returns the record with the highest total count of a camera.
func (r *InMemoryRepository) Peak(_ context.Context, cameraID string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Record
	for i := range r.records {
		rec := &r.records[i]
		if rec.CameraID != cameraID {
			continue
		}
		if best == nil || rec.TotalCount > best.TotalCount {
			best = rec
		}
	}
	if best == nil {
		return Record{}, ErrNotFound
	}
	return copyRecord(*best), nil
}

// MaxCounts returns the highest total count stored for each camera.
func (r *InMemoryRepository) MaxCounts(_ context.Context, cameraIDs []string) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[string]struct{}, len(cameraIDs))
	for _, id := range cameraIDs {
		wanted[id] = struct{}{}
	}

	out := make(map[string]int)
	for _, rec := range r.records {
		if _, ok := wanted[rec.CameraID]; !ok {
			continue
		}
		if cur, ok := out[rec.CameraID]; !ok || rec.TotalCount > cur {
			out[rec.CameraID] = rec.TotalCount
		}
	}
	return out, nil
}

// Len returns the number of stored records.
func (r *InMemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func matches(rec Record, q Query) bool {
	if !q.Start.IsZero() && rec.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && !rec.Timestamp.Before(q.End) {
		return false
	}
	if q.District != "" && rec.District != q.District {
		return false
	}
	if q.CameraID != "" && rec.CameraID != q.CameraID {
		return false
	}
	return true
}

func copyRecord(rec Record) Record {
	return Record{ID: rec.ID, Metric: rec.Metric.Clone()}
}

func hourKey(t time.Time, loc *time.Location) string {
	return hourStart(t, loc).Format(HourKeyLayout)
}

// hourStart returns the start of the wall-clock hour containing t in loc.
func hourStart(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), l.Hour(), 0, 0, 0, loc)
}

// Ensure InMemoryRepository implements Repository interface.
var _ Repository = (*InMemoryRepository)(nil)
