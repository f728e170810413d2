package feed

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/trafficwatch/trafficwatch/internal/feed"

// Metrics holds the OpenTelemetry instruments shared by all managers.
// A nil *Metrics records nothing.
type Metrics struct {
	messages    metric.Int64Counter
	dropped     metric.Int64Counter
	synthesized metric.Int64Counter
	transitions metric.Int64Counter
}

// NewMetrics creates the feed instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	messages, err := meter.Int64Counter(
		"feed.items.received",
		metric.WithDescription("Items received from the live channel"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	dropped, err := meter.Int64Counter(
		"feed.messages.dropped",
		metric.WithDescription("Channel messages dropped as malformed"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	synthesized, err := meter.Int64Counter(
		"feed.items.synthesized",
		metric.WithDescription("Items generated while in fallback mode"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter(
		"feed.state.transitions",
		metric.WithDescription("Manager state changes"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		messages:    messages,
		dropped:     dropped,
		synthesized: synthesized,
		transitions: transitions,
	}, nil
}

func (m *Metrics) received(feed string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.messages.Add(context.TODO(), int64(n), metric.WithAttributes(attribute.String("feed.name", feed)))
}

func (m *Metrics) drop(feed string) {
	if m == nil {
		return
	}
	m.dropped.Add(context.TODO(), 1, metric.WithAttributes(attribute.String("feed.name", feed)))
}

func (m *Metrics) synthetic(feed string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.synthesized.Add(context.TODO(), int64(n), metric.WithAttributes(attribute.String("feed.name", feed)))
}

func (m *Metrics) transition(feed string, to State) {
	if m == nil {
		return
	}
	m.transitions.Add(context.TODO(), 1, metric.WithAttributes(
		attribute.String("feed.name", feed),
		attribute.String("feed.state", to.String()),
	))
}
