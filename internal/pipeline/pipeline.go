// Package pipeline assembles the telemetry feeds of a process from its
// configuration: the push channels, the snapshot client and the two feed
// managers. The dashboard and the recorder share it.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	gpubsub "cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	pubsubchannel "github.com/trafficwatch/trafficwatch/internal/channel/pubsub"
	"github.com/trafficwatch/trafficwatch/internal/channel/stomp"
	"github.com/trafficwatch/trafficwatch/internal/citystats"
	"github.com/trafficwatch/trafficwatch/internal/config"
	"github.com/trafficwatch/trafficwatch/internal/feed"
	"github.com/trafficwatch/trafficwatch/internal/provider/resilience"
	"github.com/trafficwatch/trafficwatch/internal/traffic"
	"github.com/trafficwatch/trafficwatch/internal/traffic/dashboardapi"
)

// Options holds the shared dependencies handed to Build.
type Options struct {
	// Health records the snapshot client's circuit breaker.
	Health *resilience.Registry

	// Metrics is shared by both managers. May be nil.
	Metrics *feed.Metrics

	Logger zerolog.Logger
}

// Feeds are the managers of one process.
type Feeds struct {
	Traffic *feed.Manager[traffic.Metric]
	Stats   *feed.Manager[citystats.HourlySummary]

	closers []func() error
}

// Build creates both feed managers. Nothing connects until a manager gets
// its first subscriber.
func Build(ctx context.Context, cfg config.Config, opts Options) (*Feeds, error) {
	f := &Feeds{}

	trafficCh, statsCh, err := f.channels(ctx, cfg, opts.Logger)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	snapshots := dashboardapi.NewClient(dashboardapi.ClientConfig{
		BaseURL:  cfg.APIURL,
		Timeout:  cfg.RequestTimeout,
		Location: cfg.Location,
		Health:   opts.Health,
		Logger:   opts.Logger,
	})

	f.Traffic = feed.NewManager(feed.Config[traffic.Metric]{
		Name:    "traffic",
		Channel: trafficCh,
		Codec:   traffic.FeedCodec(cfg.Location),
		Snapshot: func(ctx context.Context) ([]traffic.Metric, error) {
			return snapshots.Latest(ctx, "")
		},
		ConnectTimeout:        cfg.ConnectTimeout,
		ReconnectDelay:        cfg.ReconnectDelay,
		MaxReconnectAttempts:  cfg.MaxReconnectAttempts,
		FallbackInterval:      cfg.FallbackInterval,
		RetryFromFallback:     cfg.FallbackRetry,
		FallbackRetryInterval: cfg.FallbackRetryInterval,
		SnapshotTimeout:       cfg.RequestTimeout,
		Logger:                opts.Logger.With().Str("feed", "traffic").Logger(),
		Metrics:               opts.Metrics,
	})

	f.Stats = feed.NewManager(feed.Config[citystats.HourlySummary]{
		Name:                  "stats",
		Channel:               statsCh,
		Codec:                 citystats.FeedCodec(cfg.Location),
		ConnectTimeout:        cfg.ConnectTimeout,
		ReconnectDelay:        cfg.ReconnectDelay,
		MaxReconnectAttempts:  cfg.MaxReconnectAttempts,
		FallbackInterval:      cfg.FallbackInterval,
		RetryFromFallback:     cfg.FallbackRetry,
		FallbackRetryInterval: cfg.FallbackRetryInterval,
		Logger:                opts.Logger.With().Str("feed", "stats").Logger(),
		Metrics:               opts.Metrics,
	})

	return f, nil
}

// Close ends both sessions and releases the transport clients.
func (f *Feeds) Close() error {
	if f.Traffic != nil {
		f.Traffic.Close()
	}
	if f.Stats != nil {
		f.Stats.Close()
	}
	var errs []error
	for _, c := range f.closers {
		errs = append(errs, c())
	}
	f.closers = nil
	return errors.Join(errs...)
}

// channels returns nil channels for config.ChannelNone, which leaves both
// managers in fallback mode.
func (f *Feeds) channels(ctx context.Context, cfg config.Config, logger zerolog.Logger) (feed.Channel, feed.Channel, error) {
	switch cfg.Channel {
	case config.ChannelNone:
		logger.Warn().Msg("no push channel configured, feeds will serve synthetic data")
		return nil, nil, nil

	case config.ChannelStomp:
		trafficCh, err := stomp.New(stomp.Config{
			URL:              cfg.WSURL,
			Destination:      cfg.TrafficTopic,
			Login:            cfg.StompLogin,
			Passcode:         cfg.StompPasscode,
			HandshakeTimeout: cfg.ConnectTimeout,
			Logger:           logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("traffic channel: %w", err)
		}
		statsCh, err := stomp.New(stomp.Config{
			URL:              cfg.WSURL,
			Destination:      cfg.StatsTopic,
			Login:            cfg.StompLogin,
			Passcode:         cfg.StompPasscode,
			HandshakeTimeout: cfg.ConnectTimeout,
			Logger:           logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("stats channel: %w", err)
		}
		return trafficCh, statsCh, nil

	case config.ChannelPubSub:
		var clientOpts []option.ClientOption
		if cfg.PubSubEndpoint != "" {
			clientOpts = append(clientOpts, option.WithEndpoint(cfg.PubSubEndpoint))
		}
		client, err := gpubsub.NewClient(ctx, cfg.PubSubProject, clientOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("create pubsub client: %w", err)
		}
		f.closers = append(f.closers, client.Close)

		trafficCh, err := pubsubchannel.New(pubsubchannel.Config{
			Client:       client,
			Subscription: cfg.TrafficSubscription,
			Logger:       logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("traffic channel: %w", err)
		}
		statsCh, err := pubsubchannel.New(pubsubchannel.Config{
			Client:       client,
			Subscription: cfg.StatsSubscription,
			Logger:       logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("stats channel: %w", err)
		}
		return trafficCh, statsCh, nil

	default:
		return nil, nil, fmt.Errorf("unknown channel %q", cfg.Channel)
	}
}
