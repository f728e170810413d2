// Package pubsub implements a feed channel backed by a Google Cloud Pub/Sub
// subscription, used when the detection pipeline publishes to Pub/Sub
// instead of the dashboard's STOMP broker.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/rs/zerolog"

	"github.com/trafficwatch/trafficwatch/internal/feed"
)

// ErrStreamClosed is returned when the subscriber stops without being cancelled.
var ErrStreamClosed = errors.New("pubsub stream closed")

// Config holds configuration for a Channel.
type Config struct {
	// Client is a connected Pub/Sub client. The channel does not close it.
	Client *pubsub.Client

	// Subscription is the subscription ID or its fully qualified name.
	Subscription string

	// MaxOutstandingMessages bounds unacknowledged messages in flight (default: 10).
	MaxOutstandingMessages int

	// MaxExtension bounds the ack deadline extension (default: 1m).
	MaxExtension time.Duration

	Logger zerolog.Logger
}

// Channel receives every message of one subscription.
type Channel struct {
	client         *pubsub.Client
	subscription   string
	maxOutstanding int
	maxExtension   time.Duration
	logger         zerolog.Logger
}

var _ feed.Channel = (*Channel)(nil)

// New creates a Channel.
func New(cfg Config) (*Channel, error) {
	if cfg.Client == nil {
		return nil, errors.New("pubsub client is required")
	}
	if cfg.Subscription == "" {
		return nil, errors.New("pubsub subscription is required")
	}
	if cfg.MaxOutstandingMessages == 0 {
		cfg.MaxOutstandingMessages = 10
	}
	if cfg.MaxExtension == 0 {
		cfg.MaxExtension = time.Minute
	}

	name := cfg.Subscription
	if !strings.HasPrefix(name, "projects/") {
		name = fmt.Sprintf("projects/%s/subscriptions/%s", cfg.Client.Project(), name)
	}

	return &Channel{
		client:         cfg.Client,
		subscription:   name,
		maxOutstanding: cfg.MaxOutstandingMessages,
		maxExtension:   cfg.MaxExtension,
		logger:         cfg.Logger.With().Str("subscription", name).Logger(),
	}, nil
}

// Receive verifies the subscription exists, reports the handshake and
// streams message payloads to h until ctx is cancelled. Every message is
// acknowledged; payloads the feed cannot decode are not worth redelivering.
func (c *Channel) Receive(ctx context.Context, h feed.Handler) error {
	if _, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{
		Subscription: c.subscription,
	}); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("get subscription: %w", err)
	}

	subscriber := c.client.Subscriber(c.subscription)
	subscriber.ReceiveSettings.MaxOutstandingMessages = c.maxOutstanding
	subscriber.ReceiveSettings.MaxExtension = c.maxExtension

	c.logger.Info().Msg("receiving from pubsub subscription")
	h.Established()

	err := subscriber.Receive(ctx, func(_ context.Context, msg *pubsub.Message) {
		c.logger.Debug().
			Str("message_id", msg.ID).
			Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
			Msg("received pubsub message")
		h.Payload(msg.Data)
		msg.Ack()
	})
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("receive: %w", err)
	}
	return ErrStreamClosed
}
