package resilience

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

var (
	// ErrCircuitOpen is returned while the upstream's breaker rejects calls.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrRetriesExhausted wraps the last error once every attempt has failed.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// DefaultUserAgent is sent when the request carries none.
const DefaultUserAgent = "trafficwatch/1"

// ClientConfig holds configuration for a resilient upstream client.
type ClientConfig struct {
	// Name identifies the upstream in logs, breaker state and the registry.
	Name string

	// Timeout bounds each attempt (default: 10s).
	Timeout time.Duration

	// MaxRetries is the number of attempts after the first (default: 3).
	MaxRetries uint64

	// InitialInterval and MaxInterval shape the retry backoff
	// (defaults: 100ms, 5s).
	InitialInterval time.Duration
	MaxInterval     time.Duration

	Breaker BreakerConfig

	// Registry, when set, tracks this client and the outcome of every call.
	Registry *Registry

	// UserAgent defaults to DefaultUserAgent.
	UserAgent string

	Logger zerolog.Logger
}

// Client is an HTTP client for one upstream. 5xx responses and network errors
// are retried with exponential backoff and counted against the breaker.
type Client struct {
	name       string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*httpResult]
	registry   *Registry
	userAgent  string
	maxRetries uint64
	initial    time.Duration
	max        time.Duration
	logger     zerolog.Logger
}

// httpResult lets the breaker see a 5xx as a failure while the body is still open.
type httpResult struct {
	resp *http.Response
}

// ServerError is an upstream 5xx response.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("upstream returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// NewClient creates a client and registers it when cfg.Registry is set.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 5 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	logger := cfg.Logger.With().Str("upstream", cfg.Name).Logger()

	c := &Client{
		name:       cfg.Name,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    newBreaker(cfg.Name, cfg.Breaker, cfg.Registry, logger),
		registry:   cfg.Registry,
		userAgent:  cfg.UserAgent,
		maxRetries: cfg.MaxRetries,
		initial:    cfg.InitialInterval,
		max:        cfg.MaxInterval,
		logger:     logger,
	}
	if c.registry != nil {
		c.registry.add(c)
	}
	return c
}

// Name returns the upstream name.
func (c *Client) Name() string {
	return c.name
}

// State returns the breaker state.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

// Counts returns the breaker counters.
func (c *Client) Counts() gobreaker.Counts {
	return c.breaker.Counts()
}

// Do sends req, retrying transient failures. A response below 500 is
// returned as is; the caller closes its body. ErrCircuitOpen is returned
// without touching the network while the breaker is open.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initial
	bo.MaxInterval = c.max
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx)

	var (
		resp    *http.Response
		attempt int
	)
	operation := func() error {
		attempt++
		result, err := c.breaker.Execute(func() (*httpResult, error) {
			attemptReq := req.Clone(ctx)
			if attemptReq.Header.Get("User-Agent") == "" {
				attemptReq.Header.Set("User-Agent", c.userAgent)
			}
			r, err := c.httpClient.Do(attemptReq)
			if err != nil {
				return nil, err
			}
			if r.StatusCode >= http.StatusInternalServerError {
				discard(r)
				return nil, &ServerError{StatusCode: r.StatusCode}
			}
			return &httpResult{resp: r}, nil
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(ErrCircuitOpen)
		}
		if err != nil {
			c.logger.Debug().Err(err).Int("attempt", attempt).Msg("upstream attempt failed")
			return err
		}
		resp = result.resp
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		c.record(err)
		if errors.Is(err, ErrCircuitOpen) || ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s after %d attempts: %w: %w", c.name, attempt, ErrRetriesExhausted, err)
	}

	c.record(nil)
	return resp, nil
}

func (c *Client) record(err error) {
	if c.registry == nil {
		return
	}
	if err != nil {
		c.registry.failed(c.name, err)
		return
	}
	c.registry.succeeded(c.name)
}

// discard drains a small part of the body so the connection can be reused.
func discard(r *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, 4096))
	_ = r.Body.Close()
}

var _ HTTPDoer = (*Client)(nil)
