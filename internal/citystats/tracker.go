package citystats

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/trafficwatch/trafficwatch/internal/feed"
	"github.com/trafficwatch/trafficwatch/internal/traffic"
)

// TrackerConfig holds configuration for a Tracker.
type TrackerConfig struct {
	// Stats is the district summary feed. Required.
	Stats *feed.Manager[HourlySummary]

	// Traffic, if set, supplies the busiest camera ranking.
	Traffic *feed.Manager[traffic.Metric]

	// TopN bounds every ranking in the overview (default: 5).
	TopN int

	Logger zerolog.Logger

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Tracker keeps the latest and the previous hourly summary per district.
type Tracker struct {
	stats   *feed.Manager[HourlySummary]
	traffic *feed.Manager[traffic.Metric]
	topN    int
	logger  zerolog.Logger
	now     func() time.Time

	mu          sync.RWMutex
	current     map[string]HourlySummary
	previous    map[string]HourlySummary
	unsubscribe func()
}

// NewTracker creates a Tracker. Call Start to begin following the feed.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.TopN == 0 {
		cfg.TopN = 5
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Tracker{
		stats:    cfg.Stats,
		traffic:  cfg.Traffic,
		topN:     cfg.TopN,
		logger:   cfg.Logger,
		now:      cfg.Now,
		current:  make(map[string]HourlySummary),
		previous: make(map[string]HourlySummary),
	}
}

// Start loads the cached summaries and subscribes to the feed.
func (t *Tracker) Start() {
	t.mu.Lock()
	if t.unsubscribe != nil {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	for _, s := range t.stats.AllCached() {
		t.Observe(s)
	}
	unsubscribe := t.stats.Subscribe(t.Observe)

	t.mu.Lock()
	t.unsubscribe = unsubscribe
	t.mu.Unlock()

	t.logger.Info().Str("feed", t.stats.Name()).Msg("city statistics tracker started")
}

// Stop unsubscribes from the feed. The last overview stays available.
func (t *Tracker) Stop() {
	t.mu.Lock()
	unsubscribe := t.unsubscribe
	t.unsubscribe = nil
	t.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Observe applies one summary. A newer hour moves the district's current
// summary to previous; the same hour replaces it; older hours only update
// the previous slot when they match it.
func (t *Tracker) Observe(s HourlySummary) {
	if s.District == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.current[s.District]
	switch {
	case !ok || s.Hour.Equal(cur.Hour):
		t.current[s.District] = s.Clone()
	case s.Hour.After(cur.Hour):
		t.previous[s.District] = cur
		t.current[s.District] = s.Clone()
	default:
		if prev, ok := t.previous[s.District]; ok && s.Hour.Equal(prev.Hour) {
			t.previous[s.District] = s.Clone()
		}
	}
}

// Overview derives the city view from the tracked summaries.
func (t *Tracker) Overview() Overview {
	t.mu.RLock()
	districts := make([]DistrictTotal, 0, len(t.current))
	growth := make([]DistrictGrowth, 0, len(t.current))
	mix := make(map[string]int)
	total := 0

	names := make(map[string]struct{}, len(t.current))
	for name := range t.current {
		names[name] = struct{}{}
	}
	for name := range t.previous {
		names[name] = struct{}{}
	}

	for name := range names {
		cur, hasCur := t.current[name]
		prev := t.previous[name]

		if hasCur {
			details := make(map[string]int, len(cur.Details))
			for k, v := range cur.Details {
				details[k] = v
				mix[k] += v
			}
			districts = append(districts, DistrictTotal{
				District:   name,
				Hour:       cur.Hour,
				TotalCount: cur.TotalCount,
				Details:    details,
			})
			total += cur.TotalCount
		}

		if g, ok := growthOf(name, cur.TotalCount, prev.TotalCount); ok {
			growth = append(growth, g)
		}
	}
	t.mu.RUnlock()

	sort.Slice(districts, func(i, j int) bool { return districts[i].District < districts[j].District })

	sort.Slice(growth, func(i, j int) bool {
		if growth[i].GrowthRate != growth[j].GrowthRate {
			return growth[i].GrowthRate > growth[j].GrowthRate
		}
		return growth[i].District < growth[j].District
	})

	busiest := make([]TopTraffic, 0, len(districts))
	for _, d := range districts {
		busiest = append(busiest, TopTraffic{Name: d.District, Count: d.TotalCount})
	}

	return Overview{
		GeneratedAt:     t.now(),
		TotalCount:      total,
		Districts:       districts,
		VehicleRatios:   Ratios(mix),
		Trending:        limit(growth, t.topN),
		BusiestDistrict: limit(rank(busiest), t.topN),
		BusiestCameras:  limit(t.busiestCameras(), t.topN),
	}
}

func (t *Tracker) busiestCameras() []TopTraffic {
	if t.traffic == nil {
		return []TopTraffic{}
	}
	metrics := t.traffic.AllCached()
	out := make([]TopTraffic, 0, len(metrics))
	for _, m := range metrics {
		if m.TotalCount <= 0 {
			continue
		}
		name := m.CameraName
		if name == "" {
			name = m.CameraID
		}
		out = append(out, TopTraffic{Name: name, Count: m.TotalCount})
	}
	return rank(out)
}

// Ratios returns the share of each vehicle category, largest first.
// Pedestrians are excluded and unknown classes count as other.
func Ratios(details map[string]int) []VehicleRatio {
	counts := traffic.NormalizeDetails(details)
	total := 0
	for _, c := range counts {
		total += c
	}
	out := make([]VehicleRatio, 0, len(counts))
	if total == 0 {
		return out
	}

	for vt, c := range counts {
		out = append(out, VehicleRatio{
			VehicleType: vt,
			Count:       c,
			Percentage:  round2(float64(c) / float64(total) * 100),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].VehicleType < out[j].VehicleType
	})
	return out
}

// GrowthRate returns the percentage change from previous to current.
// A district with no previous traffic counts as 100% growth.
func GrowthRate(current, previous int) float64 {
	if previous == 0 {
		return 100
	}
	return round2(float64(current-previous) / float64(previous) * 100)
}

func growthOf(district string, current, previous int) (DistrictGrowth, bool) {
	if current == 0 && previous == 0 {
		return DistrictGrowth{}, false
	}
	return DistrictGrowth{
		District:      district,
		GrowthRate:    GrowthRate(current, previous),
		CurrentCount:  current,
		PreviousCount: previous,
	}, true
}

func rank(items []TopTraffic) []TopTraffic {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Count != items[j].Count {
			return items[i].Count > items[j].Count
		}
		return items[i].Name < items[j].Name
	})
	return items
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
