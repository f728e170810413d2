package history

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/trafficwatch/trafficwatch/internal/traffic"
)

// LatestLimit is the number of records returned by Latest.
const LatestLimit = 100

// maxSeriesBuckets bounds the length of an hourly series.
const maxSeriesBuckets = 1000

const dateLayout = "2006-01-02"

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ServiceConfig holds configuration for the history service.
type ServiceConfig struct {
	// Repository stores the records.
	Repository Repository

	// Location defines day boundaries and reads zone-less inputs (default: UTC).
	Location *time.Location

	// Logger for service operations.
	Logger zerolog.Logger

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Service answers reporting queries over stored records.
type Service struct {
	repo   Repository
	loc    *time.Location
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a new history service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		repo:   cfg.Repository,
		loc:    cfg.Location,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
}

// Location returns the zone used for day boundaries.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Latest returns the newest records, optionally limited to one district and
// one day, each annotated with its camera's peak count.
func (s *Service) Latest(ctx context.Context, district, date string) ([]LatestRecord, error) {
	q := Query{District: district, Newest: true, Limit: LatestLimit}
	if date != "" {
		day, err := s.parseDate(date)
		if err != nil {
			return nil, err
		}
		q.Start, q.End = day, day.AddDate(0, 0, 1)
	}

	records, err := s.repo.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("find latest records: %w", err)
	}

	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, rec := range records {
		if _, ok := seen[rec.CameraID]; !ok {
			seen[rec.CameraID] = struct{}{}
			ids = append(ids, rec.CameraID)
		}
	}

	maxCounts, err := s.repo.MaxCounts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("find peak counts: %w", err)
	}

	out := make([]LatestRecord, len(records))
	for i, rec := range records {
		out[i] = LatestRecord{Record: rec, MaxCount: maxCounts[rec.CameraID]}
	}
	return out, nil
}

// SummaryByDistrict aggregates records per district between start and end.
// An empty start means the beginning of today, an empty end means now, and
// equal bounds cover the whole day that starts there.
func (s *Service) SummaryByDistrict(ctx context.Context, startStr, endStr string) (map[string]DistrictSummary, error) {
	now := s.now()

	start := s.startOfDay(now)
	if startStr != "" {
		var err error
		if start, err = ParseInstant(startStr, s.loc); err != nil {
			return nil, err
		}
	}

	end := now
	if endStr != "" {
		var err error
		if end, err = ParseInstant(endStr, s.loc); err != nil {
			return nil, err
		}
		if start.Equal(end) {
			end = end.AddDate(0, 0, 1)
		}
	}

	records, err := s.repo.Find(ctx, Query{Start: start, End: end})
	if err != nil {
		return nil, fmt.Errorf("find records: %w", err)
	}

	out := make(map[string]DistrictSummary)
	for _, rec := range records {
		if rec.District == "" {
			continue
		}
		sum, ok := out[rec.District]
		if !ok {
			sum.Details = make(map[string]int64)
		}
		sum.TotalCount += int64(rec.TotalCount)
		for vt, c := range rec.Details {
			sum.Details[vt] += int64(c)
		}
		out[rec.District] = sum
	}
	return out, nil
}

// MetricsByDate returns the records of one day, today when date is empty,
// optionally limited to one camera.
func (s *Service) MetricsByDate(ctx context.Context, date, cameraID string) ([]Record, error) {
	day := s.startOfDay(s.now())
	if date != "" {
		var err error
		if day, err = s.parseDate(date); err != nil {
			return nil, err
		}
	}

	records, err := s.repo.Find(ctx, Query{
		Start:    day,
		End:      day.AddDate(0, 0, 1),
		CameraID: cameraID,
	})
	if err != nil {
		return nil, fmt.Errorf("find records: %w", err)
	}
	return records, nil
}

// HourlySeries returns vehicle totals per hour between start and end, with
// every hour present. The range defaults to the last 24 hours. A camera
// filter counts vehicles from the breakdown and ignores pedestrians; without
// one the series covers a district or the whole city.
func (s *Service) HourlySeries(ctx context.Context, startStr, endStr, district, cameraID string) (map[string]int64, error) {
	now := s.now()

	end := now
	if endStr != "" {
		var err error
		if end, err = ParseInstant(endStr, s.loc); err != nil {
			return nil, err
		}
	}
	start := now.Add(-24 * time.Hour)
	if startStr != "" {
		var err error
		if start, err = ParseInstant(startStr, s.loc); err != nil {
			return nil, err
		}
	}
	if start.Equal(end) && endStr != "" {
		end = end.AddDate(0, 0, 1)
	}

	series := make(map[string]int64)
	cur := hourStart(start, s.loc)
	for i := 0; cur.Before(end) && i < maxSeriesBuckets; i++ {
		series[cur.Format(HourKeyLayout)] = 0
		cur = cur.Add(time.Hour)
	}

	if cameraID != "" {
		records, err := s.repo.Find(ctx, Query{Start: start, End: end, CameraID: cameraID})
		if err != nil {
			return nil, fmt.Errorf("find records: %w", err)
		}
		for _, rec := range records {
			key := hourKey(rec.Timestamp, s.loc)
			if _, ok := series[key]; ok {
				series[key] += int64(traffic.VehicleCount(rec.Details))
			}
		}
		return series, nil
	}

	totals, err := s.repo.HourlyTotals(ctx, start, end, district, s.loc)
	if err != nil {
		return nil, fmt.Errorf("sum hourly totals: %w", err)
	}
	for key, total := range totals {
		if _, ok := series[key]; ok {
			series[key] = total
		}
	}
	return series, nil
}

// LatestForCamera returns the newest record of a camera.
func (s *Service) LatestForCamera(ctx context.Context, cameraID string) (Record, error) {
	records, err := s.repo.Find(ctx, Query{CameraID: cameraID, Newest: true, Limit: 1})
	if err != nil {
		return Record{}, fmt.Errorf("find latest record: %w", err)
	}
	if len(records) == 0 {
		return Record{}, ErrNotFound
	}
	return records[0], nil
}

// Peak returns the record with the highest count ever stored for a camera.
func (s *Service) Peak(ctx context.Context, cameraID string) (Record, error) {
	return s.repo.Peak(ctx, cameraID)
}

// FlowRate returns the average vehicles per minute of a camera between
// start and end, defaulting to the last hour.
func (s *Service) FlowRate(ctx context.Context, cameraID, startStr, endStr string) (Flow, error) {
	now := s.now()

	end := now
	if endStr != "" {
		var err error
		if end, err = ParseInstant(endStr, s.loc); err != nil {
			return Flow{}, err
		}
	}
	start := now.Add(-time.Hour)
	if startStr != "" {
		var err error
		if start, err = ParseInstant(startStr, s.loc); err != nil {
			return Flow{}, err
		}
	}

	records, err := s.repo.Find(ctx, Query{Start: start, End: end, CameraID: cameraID})
	if err != nil {
		return Flow{}, fmt.Errorf("find records: %w", err)
	}

	var total int64
	for _, rec := range records {
		total += int64(rec.TotalCount)
	}

	minutes := int64(end.Sub(start) / time.Minute)
	if minutes <= 0 {
		minutes = 1
	}

	return Flow{
		CameraID:          cameraID,
		TotalVehicles:     total,
		DurationMinutes:   minutes,
		FlowRatePerMinute: math.Round(float64(total)/float64(minutes)*100) / 100,
		PeriodStart:       start,
		PeriodEnd:         end,
	}, nil
}

func (s *Service) startOfDay(t time.Time) time.Time {
	l := t.In(s.loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, s.loc)
}

func (s *Service) parseDate(value string) (time.Time, error) {
	day, err := time.ParseInLocation(dateLayout, value, s.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
	}
	return day, nil
}

// ParseInstant reads an instant from an RFC 3339 timestamp, a zone-less
// date-time in loc, or a date meaning midnight in loc.
func ParseInstant(value string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	if t, err := time.ParseInLocation(dateLayout, value, loc); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
}
