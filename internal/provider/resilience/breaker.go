// Package resilience wraps calls to the dashboard's upstream HTTP services
// (camera registry, traffic snapshot) with circuit breakers, timeouts and
// retries, and tracks their health for the ops status endpoint.
package resilience

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// BreakerConfig tunes the circuit breaker in front of one upstream.
// Zero values take the defaults noted on each field.
type BreakerConfig struct {
	// MaxRequests is the number of probes let through while half-open (default: 1).
	MaxRequests uint32

	// Interval clears the counts while closed. Zero keeps them until the
	// next state change, which suits upstreams polled every few minutes.
	Interval time.Duration

	// OpenTimeout is how long the breaker stays open before probing (default: 30s).
	OpenTimeout time.Duration

	// ConsecutiveFailures trips the breaker on its own (default: 3).
	ConsecutiveFailures uint32

	// ReadyToTrip replaces the trip rule built from ConsecutiveFailures.
	ReadyToTrip func(counts gobreaker.Counts) bool
}

// TripRule opens the breaker after n failed calls in a row, or once at least
// five calls were made and half of them failed. The registry and snapshot
// endpoints are called rarely, so the ratio alone would take too long to trip.
func TripRule(n uint32) func(counts gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		if n > 0 && counts.ConsecutiveFailures >= n {
			return true
		}
		if counts.Requests < 5 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
	}
}

func newBreaker(name string, cfg BreakerConfig, registry *Registry, logger zerolog.Logger) *gobreaker.CircuitBreaker[*httpResult] {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 3
	}
	if cfg.ReadyToTrip == nil {
		cfg.ReadyToTrip = TripRule(cfg.ConsecutiveFailures)
	}

	return gobreaker.NewCircuitBreaker[*httpResult](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: cfg.ReadyToTrip,
		OnStateChange: func(name string, from, to gobreaker.State) {
			event := logger.Info()
			if to == gobreaker.StateOpen {
				event = logger.Warn()
				if registry != nil {
					registry.tripped(name)
				}
			}
			event.
				Str("upstream", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("upstream circuit changed state")
		},
	})
}
