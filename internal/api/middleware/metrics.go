package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/trafficwatch/trafficwatch/internal/api/middleware"

// Metrics holds the OpenTelemetry metrics instruments.
type Metrics struct {
	requestDuration  metric.Float64Histogram
	requestTotal     metric.Int64Counter
	requestsInFlight metric.Int64UpDownCounter
	responseSize     metric.Int64Histogram
	streamClients    metric.Int64UpDownCounter
	streamMessages   metric.Int64Counter
	rateLimited      metric.Int64Counter
}

// NewMetrics creates a new Metrics instance with initialized instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	requestDuration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("Duration of HTTP server requests in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	requestTotal, err := meter.Int64Counter(
		"http.server.request.total",
		metric.WithDescription("Total number of HTTP server requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	requestsInFlight, err := meter.Int64UpDownCounter(
		"http.server.requests_in_flight",
		metric.WithDescription("Number of HTTP requests currently being processed"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	responseSize, err := meter.Int64Histogram(
		"http.server.response.size",
		metric.WithDescription("Size of HTTP server responses in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	streamClients, err := meter.Int64UpDownCounter(
		"stream.clients",
		metric.WithDescription("WebSocket clients currently subscribed to a feed"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, err
	}

	streamMessages, err := meter.Int64Counter(
		"stream.messages.sent",
		metric.WithDescription("Feed items written to WebSocket clients"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	rateLimited, err := meter.Int64Counter(
		"http.server.rate_limited",
		metric.WithDescription("Requests rejected by a rate limit tier"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		requestsInFlight: requestsInFlight,
		responseSize:     responseSize,
		streamClients:    streamClients,
		streamMessages:   streamMessages,
		rateLimited:      rateLimited,
	}, nil
}

// Middleware returns an HTTP middleware that records metrics for each request.
// Requests are labelled by route pattern to keep camera ids out of the
// attribute set.
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			method := attribute.String("http.method", r.Method)
			m.requestsInFlight.Add(r.Context(), 1, metric.WithAttributes(method))
			defer m.requestsInFlight.Add(r.Context(), -1, metric.WithAttributes(method))

			wrapped := newStatusRecorder(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()

			attrs := []attribute.KeyValue{
				method,
				attribute.String("http.route", routePattern(r)),
				attribute.String("http.status_code", strconv.Itoa(wrapped.statusCode)),
			}
			if wrapped.statusCode >= 400 {
				attrs = append(attrs, attribute.Bool("error", true))
			}

			m.requestDuration.Record(r.Context(), duration, metric.WithAttributes(attrs...))
			m.requestTotal.Add(r.Context(), 1, metric.WithAttributes(attrs...))
			m.responseSize.Record(r.Context(), wrapped.written, metric.WithAttributes(attrs...))
		})
	}
}

// StreamOpened records a WebSocket client joining a feed. A nil *Metrics
// records nothing.
func (m *Metrics) StreamOpened(feed string) {
	if m == nil {
		return
	}
	m.streamClients.Add(context.Background(), 1, metric.WithAttributes(attribute.String("feed", feed)))
}

// StreamClosed records a WebSocket client leaving a feed.
func (m *Metrics) StreamClosed(feed string) {
	if m == nil {
		return
	}
	m.streamClients.Add(context.Background(), -1, metric.WithAttributes(attribute.String("feed", feed)))
}

// StreamSent records one item written to a WebSocket client.
func (m *Metrics) StreamSent(feed string) {
	if m == nil {
		return
	}
	m.streamMessages.Add(context.Background(), 1, metric.WithAttributes(attribute.String("feed", feed)))
}

// RateLimited records a request rejected by the named limit tier.
func (m *Metrics) RateLimited(r *http.Request, tier string) {
	if m == nil {
		return
	}
	m.rateLimited.Add(r.Context(), 1, metric.WithAttributes(
		attribute.String("limit.tier", tier),
		attribute.String("http.route", routePattern(r)),
	))
}
