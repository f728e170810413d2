package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficwatch/trafficwatch/internal/config"
)

var allKeys = []string{
	"APP_PORT", "APP_ENV", "TW_API_URL", "TW_CAMERA_REGISTRY_URL", "TW_CHANNEL",
	"TW_WS_URL", "TW_STOMP_LOGIN", "TW_STOMP_PASSCODE", "TW_TRAFFIC_TOPIC", "TW_STATS_TOPIC",
	"TW_PUBSUB_PROJECT", "TW_PUBSUB_ENDPOINT", "TW_TRAFFIC_SUBSCRIPTION", "TW_STATS_SUBSCRIPTION",
	"TW_RECONNECT_DELAY", "TW_MAX_RECONNECT_ATTEMPTS", "TW_REQUEST_TIMEOUT", "TW_CONNECT_TIMEOUT",
	"TW_FALLBACK_INTERVAL", "TW_FALLBACK_RETRY", "TW_FALLBACK_RETRY_INTERVAL", "TW_CAMERA_CACHE_TTL",
	"TW_TIMEZONE", "TW_HISTORY_ENABLED", "TW_RECORD_SYNTHETIC", "TW_ALLOWED_ORIGINS", "REQUIRE_TLS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, config.ChannelStomp, cfg.Channel)
	assert.Equal(t, "ws://localhost:8000/ws/websocket", cfg.WSURL)
	assert.Equal(t, "/topic/traffic", cfg.TrafficTopic)
	assert.Equal(t, "/topic/hourly-summary-by-district", cfg.StatsTopic)
	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 10, cfg.MaxReconnectAttempts)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 5*time.Second, cfg.FallbackInterval)
	assert.False(t, cfg.FallbackRetry)
	assert.Equal(t, time.Minute, cfg.FallbackRetryInterval)
	assert.Equal(t, 5*time.Minute, cfg.CameraCacheTTL)
	assert.Equal(t, "Asia/Ho_Chi_Minh", cfg.Location.String())
	assert.False(t, cfg.HistoryEnabled)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.False(t, cfg.RequireTLS)
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TW_CHANNEL", "PubSub")
	t.Setenv("TW_PUBSUB_PROJECT", "city-traffic")
	t.Setenv("TW_FALLBACK_RETRY", "true")
	t.Setenv("TW_FALLBACK_INTERVAL", "2s")
	t.Setenv("TW_MAX_RECONNECT_ATTEMPTS", "3")
	t.Setenv("TW_TIMEZONE", "UTC")
	t.Setenv("TW_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("REQUIRE_TLS", "true")

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.Equal(t, config.ChannelPubSub, cfg.Channel)
	assert.Equal(t, "city-traffic", cfg.PubSubProject)
	assert.True(t, cfg.FallbackRetry)
	assert.Equal(t, 2*time.Second, cfg.FallbackInterval)
	assert.Equal(t, 3, cfg.MaxReconnectAttempts)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.True(t, cfg.RequireTLS)
}

func TestFromEnv_ReportsEveryMalformedValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("TW_RECONNECT_DELAY", "soon")
	t.Setenv("TW_MAX_RECONNECT_ATTEMPTS", "many")
	t.Setenv("TW_TIMEZONE", "Mars/Olympus_Mons")

	_, err := config.FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TW_RECONNECT_DELAY")
	assert.Contains(t, err.Error(), "TW_MAX_RECONNECT_ATTEMPTS")
	assert.Contains(t, err.Error(), "TW_TIMEZONE")
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	base, err := config.FromEnv()
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"valid", func(*config.Config) {}, ""},
		{"unknown channel", func(c *config.Config) { c.Channel = "mqtt" }, "TW_CHANNEL"},
		{"pubsub without project", func(c *config.Config) { c.Channel = config.ChannelPubSub }, "TW_PUBSUB_PROJECT"},
		{"no channel needs nothing", func(c *config.Config) { c.Channel = config.ChannelNone; c.WSURL = "" }, ""},
		{"zero interval", func(c *config.Config) { c.FallbackInterval = 0 }, "TW_FALLBACK_INTERVAL"},
		{"zero attempts", func(c *config.Config) { c.MaxReconnectAttempts = 0 }, "TW_MAX_RECONNECT_ATTEMPTS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
