package traffic_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trafficwatch/trafficwatch/internal/traffic"
)

func TestSynthesize_StepsFromPrevious(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	now := time.Date(2025, 11, 30, 10, 0, 0, 0, time.UTC)
	prev := traffic.Metric{CameraID: "cam1", CameraName: "Cầu Kiệu", District: "Phú Nhuận", TotalCount: 30}

	for i := 0; i < 200; i++ {
		next := traffic.Synthesize(prev, rng, now)

		assert.Equal(t, "cam1", next.CameraID)
		assert.Equal(t, "Phú Nhuận", next.District)
		assert.True(t, next.Synthetic)
		assert.Equal(t, now, next.Timestamp)
		assert.GreaterOrEqual(t, next.TotalCount, 0)
		if prev.TotalCount > 0 {
			assert.InDelta(t, prev.TotalCount, next.TotalCount, 20)
		}
		assert.Equal(t, next.TotalCount, next.DetailsSum())

		prev = next
	}
}

func TestSynthesize_StaysBoundedOverLongOutage(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	now := time.Now()
	cur := traffic.Placeholder("cam1", "", "")

	// One hour of ticks at the default 5s fallback interval.
	sum := 0
	for i := 0; i < 720; i++ {
		cur = traffic.Synthesize(cur, rng, now)
		assert.LessOrEqual(t, cur.TotalCount, 75, "tick %d", i)
		sum += cur.TotalCount
	}

	mean := float64(sum) / 720
	assert.InDelta(t, 30, mean, 12)
}

func TestSynthesize_DecaysFromBusyLiveValue(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	cur := traffic.Metric{CameraID: "cam1", TotalCount: 400}

	for i := 0; i < 60; i++ {
		next := traffic.Synthesize(cur, rng, time.Now())
		if cur.TotalCount > 80 {
			assert.Less(t, next.TotalCount, cur.TotalCount)
		}
		cur = next
	}
	assert.LessOrEqual(t, cur.TotalCount, 75)
}

func TestSynthesize_SeedsEmptyCamera(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	next := traffic.Synthesize(traffic.Placeholder("cam9", "", ""), rng, time.Now())

	assert.GreaterOrEqual(t, next.TotalCount, 0)
	assert.LessOrEqual(t, next.TotalCount, 75)
	assert.Equal(t, next.TotalCount, next.DetailsSum())
}

func TestSynthesize_DoesNotMutatePrevious(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	prev := traffic.Metric{CameraID: "cam1", TotalCount: 20, Details: map[string]int{"car": 20}}

	_ = traffic.Synthesize(prev, rng, time.Now())

	assert.Equal(t, map[string]int{"car": 20}, prev.Details)
}
