// Package config reads the process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // TW_TIMEZONE must resolve in images without zoneinfo
)

// Channel kinds.
const (
	ChannelStomp  = "stomp"
	ChannelPubSub = "pubsub"
	ChannelNone   = "none"
)

// Config is the configuration shared by the dashboard and the recorder.
type Config struct {
	Port        string
	Environment string

	// APIURL is the origin of the dashboard REST API used for snapshots.
	APIURL string

	// CameraRegistryURL locates the static camera registry document.
	CameraRegistryURL string

	// Channel selects the push transport: stomp, pubsub or none.
	Channel string

	// STOMP over WebSocket.
	WSURL         string
	StompLogin    string
	StompPasscode string
	TrafficTopic  string
	StatsTopic    string

	// Pub/Sub. PubSubEndpoint overrides the service address, for emulators.
	PubSubProject       string
	PubSubEndpoint      string
	TrafficSubscription string
	StatsSubscription   string

	ReconnectDelay        time.Duration
	MaxReconnectAttempts  int
	RequestTimeout        time.Duration
	ConnectTimeout        time.Duration
	FallbackInterval      time.Duration
	FallbackRetry         bool
	FallbackRetryInterval time.Duration
	CameraCacheTTL        time.Duration

	// Location defines day boundaries and reads zone-less timestamps.
	Location *time.Location

	HistoryEnabled  bool
	RecordSynthetic bool

	// AllowedOrigins are the browser origins allowed to read the API and
	// open the stream.
	AllowedOrigins []string

	// RequireTLS rejects requests a proxy forwarded over plain HTTP.
	RequireTLS bool
}

// FromEnv reads the configuration. Unset variables take their defaults;
// malformed values are reported together.
func FromEnv() (Config, error) {
	p := parser{}

	cfg := Config{
		Port:                  getEnvOrDefault("APP_PORT", "8080"),
		Environment:           getEnvOrDefault("APP_ENV", "development"),
		APIURL:                getEnvOrDefault("TW_API_URL", "http://localhost:8000"),
		CameraRegistryURL:     getEnvOrDefault("TW_CAMERA_REGISTRY_URL", "http://localhost:3000/camera_api.json"),
		Channel:               strings.ToLower(getEnvOrDefault("TW_CHANNEL", ChannelStomp)),
		WSURL:                 getEnvOrDefault("TW_WS_URL", "ws://localhost:8000/ws/websocket"),
		StompLogin:            os.Getenv("TW_STOMP_LOGIN"),
		StompPasscode:         os.Getenv("TW_STOMP_PASSCODE"),
		TrafficTopic:          getEnvOrDefault("TW_TRAFFIC_TOPIC", "/topic/traffic"),
		StatsTopic:            getEnvOrDefault("TW_STATS_TOPIC", "/topic/hourly-summary-by-district"),
		PubSubProject:         os.Getenv("TW_PUBSUB_PROJECT"),
		PubSubEndpoint:        os.Getenv("TW_PUBSUB_ENDPOINT"),
		TrafficSubscription:   getEnvOrDefault("TW_TRAFFIC_SUBSCRIPTION", "traffic-dashboard"),
		StatsSubscription:     getEnvOrDefault("TW_STATS_SUBSCRIPTION", "hourly-summary-dashboard"),
		ReconnectDelay:        p.duration("TW_RECONNECT_DELAY", 5*time.Second),
		MaxReconnectAttempts:  p.int("TW_MAX_RECONNECT_ATTEMPTS", 10),
		RequestTimeout:        p.duration("TW_REQUEST_TIMEOUT", 10*time.Second),
		ConnectTimeout:        p.duration("TW_CONNECT_TIMEOUT", 10*time.Second),
		FallbackInterval:      p.duration("TW_FALLBACK_INTERVAL", 5*time.Second),
		FallbackRetry:         p.bool("TW_FALLBACK_RETRY", false),
		FallbackRetryInterval: p.duration("TW_FALLBACK_RETRY_INTERVAL", time.Minute),
		CameraCacheTTL:        p.duration("TW_CAMERA_CACHE_TTL", 5*time.Minute),
		Location:              p.location("TW_TIMEZONE", "Asia/Ho_Chi_Minh"),
		HistoryEnabled:        p.bool("TW_HISTORY_ENABLED", false),
		RecordSynthetic:       p.bool("TW_RECORD_SYNTHETIC", false),
		AllowedOrigins:        splitList(os.Getenv("TW_ALLOWED_ORIGINS")),
		RequireTLS:            p.bool("REQUIRE_TLS", false),
	}

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks values that parse but cannot work.
func (c Config) Validate() error {
	var errs []error

	switch c.Channel {
	case ChannelStomp:
		if c.WSURL == "" {
			errs = append(errs, errors.New("TW_WS_URL is required for the stomp channel"))
		}
	case ChannelPubSub:
		if c.PubSubProject == "" {
			errs = append(errs, errors.New("TW_PUBSUB_PROJECT is required for the pubsub channel"))
		}
	case ChannelNone:
	default:
		errs = append(errs, fmt.Errorf("TW_CHANNEL %q: must be stomp, pubsub or none", c.Channel))
	}

	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"TW_RECONNECT_DELAY", c.ReconnectDelay},
		{"TW_REQUEST_TIMEOUT", c.RequestTimeout},
		{"TW_CONNECT_TIMEOUT", c.ConnectTimeout},
		{"TW_FALLBACK_INTERVAL", c.FallbackInterval},
		{"TW_FALLBACK_RETRY_INTERVAL", c.FallbackRetryInterval},
		{"TW_CAMERA_CACHE_TTL", c.CameraCacheTTL},
	} {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.name))
		}
	}
	if c.MaxReconnectAttempts <= 0 {
		errs = append(errs, errors.New("TW_MAX_RECONNECT_ATTEMPTS must be positive"))
	}

	return errors.Join(errs...)
}

// parser collects parse errors so all of them are reported at once.
type parser struct {
	errs []error
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (p *parser) int(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (p *parser) bool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (p *parser) location(key, def string) *time.Location {
	name := getEnvOrDefault(key, def)
	loc, err := time.LoadLocation(name)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return time.UTC
	}
	return loc
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
