// Package dashboardapi provides a client for the dashboard service REST API,
// used to seed the telemetry cache with the latest stored measurements.
package dashboardapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/trafficwatch/trafficwatch/internal/provider/resilience"
	"github.com/trafficwatch/trafficwatch/internal/traffic"
)

// ProviderName identifies this provider.
const ProviderName = "dashboard-api"

// ClientConfig holds configuration for the dashboard API client.
type ClientConfig struct {
	// BaseURL is the API origin, for example http://localhost:8000.
	BaseURL string

	// HTTPClient is the HTTP client to use.
	// If nil, a default resilient client will be created.
	HTTPClient resilience.HTTPDoer

	// Timeout for individual requests (default: 10s).
	Timeout time.Duration

	// Location is used for timestamps without a zone (default: UTC).
	Location *time.Location

	// Health receives the default client's circuit breaker for status reporting.
	Health *resilience.Registry

	Logger zerolog.Logger
}

// Client reads the dashboard service REST API.
type Client struct {
	baseURL    string
	httpClient resilience.HTTPDoer
	location   *time.Location
	logger     zerolog.Logger
}

// NewClient creates a new dashboard API client.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = resilience.NewClient(resilience.ClientConfig{
			Name:            ProviderName,
			Timeout:         timeout,
			MaxRetries:      2,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Registry:        cfg.Health,
			Logger:          cfg.Logger,
		})
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: httpClient,
		location:   loc,
		logger:     cfg.Logger,
	}
}

// envelope is the success wrapper the service puts around response bodies.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

// Latest returns the most recent stored measurements, optionally for one
// district. Records that cannot be decoded are skipped.
func (c *Client) Latest(ctx context.Context, district string) ([]traffic.Metric, error) {
	u := c.baseURL + "/api/traffic/latest"
	if district != "" {
		u += "?" + url.Values{"district": {district}}.Encode()
	}

	var body json.RawMessage
	if err := resilience.GetJSON(ctx, c.httpClient, u, &body); err != nil {
		return nil, fmt.Errorf("fetch latest traffic: %w", err)
	}

	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '{' {
		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("decode envelope: %w", err)
		}
		body = bytes.TrimSpace(env.Data)
	}
	if len(body) == 0 || string(body) == "null" {
		return []traffic.Metric{}, nil
	}

	metrics, err := traffic.DecodeMessage(body, c.location)
	if err != nil {
		c.logger.Warn().Err(err).Int("decoded", len(metrics)).Msg("skipped undecodable snapshot records")
	}
	return metrics, nil
}
