package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/trafficwatch/trafficwatch/internal/api/models"
)

// RateLimitConfig describes one rate limit tier.
type RateLimitConfig struct {
	// Name labels rejections in metrics, e.g. "history".
	Name string
	// Requests per window
	RequestLimit int
	// Window duration
	WindowLength time.Duration
}

// Rate limit tiers. Each route group gets its own counters.
var (
	// StandardRateLimit applies to endpoints served from the feed caches.
	StandardRateLimit = RateLimitConfig{
		Name:         "standard",
		RequestLimit: 120,
		WindowLength: time.Minute,
	}

	// HistoryRateLimit applies to endpoints that query the database.
	HistoryRateLimit = RateLimitConfig{
		Name:         "history",
		RequestLimit: 30,
		WindowLength: time.Minute,
	}

	// StreamRateLimit applies to WebSocket upgrades. A stream is long-lived,
	// so this bounds reconnect storms rather than traffic.
	StreamRateLimit = RateLimitConfig{
		Name:         "stream",
		RequestLimit: 10,
		WindowLength: time.Minute,
	}
)

// RateLimitByIP limits requests per client IP (X-Forwarded-For or
// X-Real-IP when present). Rejections are counted on m, which may be nil.
func RateLimitByIP(cfg RateLimitConfig, m *Metrics) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(rateLimitExceededHandler(cfg, m)),
	)
}

// rateLimitExceededHandler writes a too-many-requests problem. httprate
// does not expose the reset time, so Retry-After is the window length.
func rateLimitExceededHandler(cfg RateLimitConfig, m *Metrics) http.HandlerFunc {
	retryAfter := strconv.Itoa(int(cfg.WindowLength.Seconds()))
	detail := "Rate limit exceeded. Please try again later."
	if cfg.Name == StreamRateLimit.Name {
		detail = "Too many stream connections. Reconnect after the Retry-After delay."
	}
	return func(w http.ResponseWriter, r *http.Request) {
		m.RateLimited(r, cfg.Name)

		problem := models.NewTooManyRequests(GetRequestID(r.Context()), detail)
		problem.Instance = r.URL.Path

		w.Header().Set("Retry-After", retryAfter)
		problem.Write(w)
	}
}
