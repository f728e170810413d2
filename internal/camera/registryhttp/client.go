// Package registryhttp provides a client for the static camera registry document.
package registryhttp

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/trafficwatch/trafficwatch/internal/camera"
	"github.com/trafficwatch/trafficwatch/internal/geo"
	"github.com/trafficwatch/trafficwatch/internal/provider/resilience"
)

// ProviderName identifies this provider.
const ProviderName = "camera-registry"

// ClientConfig holds configuration for the registry client.
type ClientConfig struct {
	// URL is the location of the registry JSON document.
	URL string

	// HTTPClient is the HTTP client to use.
	// If nil, a default resilient client will be created.
	HTTPClient resilience.HTTPDoer

	// Timeout for individual requests (default: 10s).
	Timeout time.Duration

	// Health receives the default client's circuit breaker for status reporting.
	Health *resilience.Registry

	Logger zerolog.Logger
}

// Client fetches the camera registry over HTTP.
type Client struct {
	url        string
	httpClient resilience.HTTPDoer
}

// NewClient creates a new registry client.
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
			MaxRetries:      3,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Breaker:         resilience.BreakerConfig{OpenTimeout: time.Minute},
			Registry:        cfg.Health,
			Logger:          cfg.Logger,
		})
	}

	return &Client{
		url:        cfg.URL,
		httpClient: httpClient,
	}
}

type cameraDocument struct {
	OID         string        `json:"_id"`
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Loc         *locationData `json:"loc"`
	Values      *valuesData   `json:"values"`
	Dist        string        `json:"dist"`
	PTZ         bool          `json:"ptz"`
	Angle       float64       `json:"angle"`
	LiveviewURL string        `json:"liveviewUrl"`
}

type locationData struct {
	Type string `json:"type"`
	// Coordinates are GeoJSON ordered: longitude, latitude.
	Coordinates []float64 `json:"coordinates"`
}

type valuesData struct {
	IP string `json:"ip"`
}

// FetchCameras retrieves and indexes the full registry.
func (c *Client) FetchCameras(ctx context.Context) (*camera.Snapshot, error) {
	var docs []cameraDocument
	if err := resilience.GetJSON(ctx, c.httpClient, c.url, &docs); err != nil {
		return nil, fmt.Errorf("fetch camera registry: %w", err)
	}

	cameras := make([]camera.Camera, 0, len(docs))
	for _, d := range docs {
		cameras = append(cameras, toCamera(d))
	}

	return camera.NewSnapshot(cameras, ProviderName, time.Now()), nil
}

func toCamera(d cameraDocument) camera.Camera {
	c := camera.Camera{
		ID:          d.ID,
		AltID:       d.OID,
		Name:        d.Name,
		District:    d.Dist,
		LiveViewURL: d.LiveviewURL,
		PTZ:         d.PTZ,
		Angle:       d.Angle,
	}
	if d.Loc != nil && len(d.Loc.Coordinates) >= 2 {
		c.Location = geo.Point{Lat: d.Loc.Coordinates[1], Lon: d.Loc.Coordinates[0]}
	}
	if d.Values != nil {
		c.IP = d.Values.IP
	}
	return c
}
