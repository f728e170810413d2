package citystats

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/trafficwatch/trafficwatch/internal/feed"
	"github.com/trafficwatch/trafficwatch/internal/traffic"
	"github.com/trafficwatch/trafficwatch/internal/wire"
)

var (
	fieldDistrict = []string{"district"}
	fieldHour     = []string{"hour"}
	fieldTotal    = []string{"totalCount", "total_count"}
	fieldDetails  = []string{"detectionDetailsSummary", "detection_details_summary"}
)

// DecodeMessage parses a statistics message holding one summary or an array
// of them. Invalid elements are skipped and reported in the joined error.
func DecodeMessage(data []byte, loc *time.Location) ([]HourlySummary, error) {
	items, err := wire.Split(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedSummary, err)
	}

	out := make([]HourlySummary, 0, len(items))
	var errs []error
	for i, item := range items {
		s, err := decode(item, loc)
		if err != nil {
			if len(items) > 1 {
				err = fmt.Errorf("item %d: %w", i, err)
			}
			errs = append(errs, err)
			continue
		}
		out = append(out, s)
	}
	return out, errors.Join(errs...)
}

func decode(data []byte, loc *time.Location) (HourlySummary, error) {
	malformed := func(err error) (HourlySummary, error) {
		return HourlySummary{}, fmt.Errorf("%w: %w", ErrMalformedSummary, err)
	}

	obj, err := wire.ParseObject(data)
	if err != nil {
		return malformed(err)
	}

	district, ok, err := obj.String(fieldDistrict...)
	if err != nil {
		return malformed(err)
	}
	if !ok || district == "" {
		return malformed(ErrMissingDistrict)
	}

	s := HourlySummary{District: district}

	if s.Hour, _, err = obj.Time(loc, fieldHour...); err != nil {
		return malformed(err)
	}

	details, _, err := obj.Counts(fieldDetails...)
	if err != nil {
		return malformed(err)
	}
	s.Details = traffic.NormalizeDetails(details)

	total, hasTotal, err := obj.Int(fieldTotal...)
	if err != nil {
		return malformed(err)
	}
	if !hasTotal {
		total = traffic.VehicleCount(s.Details)
	}
	s.TotalCount = total

	return s, nil
}

// syntheticMean is the district hourly total fallback summaries drift back to.
const syntheticMean = 600

// Synthesize produces the next fallback summary for a district by pulling
// the previous total an eighth of the way toward syntheticMean, then moving
// it up to ten percent either way.
func Synthesize(prev HourlySummary, rng *rand.Rand, now time.Time) HourlySummary {
	base := prev.TotalCount
	if base <= 0 {
		base = 200 + rng.Intn(801)
	}
	step := base / 10
	total := base + (syntheticMean-base)/8
	if step > 0 {
		total += rng.Intn(2*step+1) - step
	}

	next := prev.Clone()
	next.TotalCount = total
	next.Details = traffic.SplitTotal(total, rng)
	next.Hour = now.Truncate(time.Hour)
	next.Synthetic = true
	return next
}

// FeedCodec adapts HourlySummary to a feed manager keyed by district.
func FeedCodec(loc *time.Location) feed.Codec[HourlySummary] {
	if loc == nil {
		loc = time.UTC
	}
	return feed.Codec[HourlySummary]{
		Decode: func(data []byte) ([]HourlySummary, error) {
			return DecodeMessage(data, loc)
		},
		Key:        HourlySummary.Key,
		Synthesize: Synthesize,
		Clone:      HourlySummary.Clone,
	}
}
