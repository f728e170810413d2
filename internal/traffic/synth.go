package traffic

import (
	"math/rand"
	"time"
)

// syntheticMean is the level fallback totals drift back to.
const syntheticMean = 30

// Synthesize produces the next fallback measurement for a camera. The total
// takes a symmetric step of at most 10 after being pulled a quarter of the
// way back toward syntheticMean, so long outages settle around typical
// counts instead of drifting. The breakdown always sums to the total.
func Synthesize(prev Metric, rng *rand.Rand, now time.Time) Metric {
	base := prev.TotalCount
	if base <= 0 {
		base = 10 + rng.Intn(41)
	}
	total := base + (syntheticMean-base)/4 + rng.Intn(21) - 10
	if total < 0 {
		total = 0
	}

	next := prev.Clone()
	next.TotalCount = total
	next.Details = SplitTotal(total, rng)
	next.Timestamp = now
	next.Synthetic = true
	return next
}

// SplitTotal divides total across vehicle types in roughly the proportions
// seen on city streets, where motorcycles dominate.
func SplitTotal(total int, rng *rand.Rand) map[string]int {
	motorcycles := total * (55 + rng.Intn(16)) / 100
	rest := total - motorcycles
	cars := rest * (55 + rng.Intn(21)) / 100
	rest -= cars
	trucks := rest / 2
	return map[string]int{
		VehicleMotorcycle: motorcycles,
		VehicleCar:        cars,
		VehicleTruck:      trucks,
		VehicleOther:      rest - trucks,
	}
}
