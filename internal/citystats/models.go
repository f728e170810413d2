// Package citystats tracks the per-district hourly summaries pushed on the
// statistics topic and derives the city overview shown next to the map:
// district totals, vehicle mix and the fastest growing districts.
package citystats

import (
	"errors"
	"time"
)

// Decoding errors.
var (
	ErrMalformedSummary = errors.New("malformed district summary")
	ErrMissingDistrict  = errors.New("district summary has no district")
)

// HourlySummary is the vehicle count of one district over one hour.
type HourlySummary struct {
	District   string
	Hour       time.Time
	TotalCount int

	// Details maps a reported vehicle category to its count.
	Details map[string]int

	// Synthetic marks locally generated fallback values.
	Synthetic bool
}

// Key returns the cache identity of the summary.
func (s HourlySummary) Key() string {
	return s.District
}

// Clone returns a deep copy of s.
func (s HourlySummary) Clone() HourlySummary {
	out := s
	if s.Details != nil {
		out.Details = make(map[string]int, len(s.Details))
		for k, v := range s.Details {
			out.Details[k] = v
		}
	}
	return out
}

// DistrictTotal is the latest hourly count of one district.
type DistrictTotal struct {
	District   string         `json:"district"`
	Hour       time.Time      `json:"hour"`
	TotalCount int            `json:"totalCount"`
	Details    map[string]int `json:"detectionDetailsSummary"`
}

// VehicleRatio is the share of one vehicle category across the city.
type VehicleRatio struct {
	VehicleType string  `json:"vehicleType"`
	Count       int     `json:"count"`
	Percentage  float64 `json:"percentage"`
}

// DistrictGrowth compares a district's latest hour with the one before.
type DistrictGrowth struct {
	District      string  `json:"district"`
	GrowthRate    float64 `json:"growthRate"`
	CurrentCount  int     `json:"currentCount"`
	PreviousCount int     `json:"previousCount"`
}

// TopTraffic is one entry of a busiest-first ranking.
type TopTraffic struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Overview is the city-wide view derived from the latest summaries.
type Overview struct {
	GeneratedAt     time.Time        `json:"generatedAt"`
	TotalCount      int              `json:"totalCount"`
	Districts       []DistrictTotal  `json:"districts"`
	VehicleRatios   []VehicleRatio   `json:"vehicleRatios"`
	Trending        []DistrictGrowth `json:"trending"`
	BusiestCameras  []TopTraffic     `json:"busiestCameras"`
	BusiestDistrict []TopTraffic     `json:"busiestDistricts"`
}
