// Package stomp implements a feed channel that subscribes to one STOMP
// destination over a WebSocket connection, the transport the dashboard
// service uses to push traffic and city statistics.
package stomp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/trafficwatch/trafficwatch/internal/feed"
)

var (
	// ErrServerError is returned when the broker sends an ERROR frame.
	ErrServerError = errors.New("stomp server error")

	// ErrHeartbeatTimeout is returned when the broker goes silent for longer
	// than the negotiated heart-beat allows, or never answers CONNECT.
	ErrHeartbeatTimeout = errors.New("stomp broker silent")
)

// Config holds configuration for a Channel.
type Config struct {
	// URL is the WebSocket endpoint, e.g. ws://host:8080/ws/websocket.
	URL string

	// Destination is the topic to subscribe to, e.g. /topic/traffic.
	Destination string

	// Login and Passcode are sent in the CONNECT frame when set.
	Login    string
	Passcode string

	// Dialer defaults to a dialer with HandshakeTimeout.
	Dialer *websocket.Dialer

	// HandshakeTimeout bounds the WebSocket upgrade (default: 10s).
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each outgoing frame (default: 5s).
	WriteTimeout time.Duration

	// HeartBeat is the heart-beat interval offered in both directions
	// (default: 10s). Negative disables heart-beating, and with it the
	// detection of dead connections.
	HeartBeat time.Duration

	Logger zerolog.Logger
}

// Channel subscribes to one destination per connection.
type Channel struct {
	url          string
	host         string
	destination  string
	login        string
	passcode     string
	dialer       *websocket.Dialer
	handshake    time.Duration
	writeTimeout time.Duration
	heartBeat    time.Duration
	logger       zerolog.Logger
}

var _ feed.Channel = (*Channel)(nil)

// New creates a Channel.
func New(cfg Config) (*Channel, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse stomp url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("stomp url %q: scheme must be ws or wss", cfg.URL)
	}
	if cfg.Destination == "" {
		return nil, errors.New("stomp destination is required")
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.HeartBeat == 0 {
		cfg.HeartBeat = 10 * time.Second
	}
	if cfg.HeartBeat < 0 {
		cfg.HeartBeat = 0
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}
	}

	return &Channel{
		url:          cfg.URL,
		host:         u.Hostname(),
		destination:  cfg.Destination,
		login:        cfg.Login,
		passcode:     cfg.Passcode,
		dialer:       cfg.Dialer,
		handshake:    cfg.HandshakeTimeout,
		writeTimeout: cfg.WriteTimeout,
		heartBeat:    cfg.HeartBeat,
		logger:       cfg.Logger.With().Str("destination", cfg.Destination).Logger(),
	}, nil
}

// Receive dials the broker, subscribes once CONNECTED arrives and forwards
// every MESSAGE body to h until the connection ends or ctx is cancelled.
func (c *Channel) Receive(ctx context.Context, h feed.Handler) error {
	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	conn := &socket{Conn: ws}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		c.disconnect(conn)
	})
	defer stop()

	beat := strconv.FormatInt(c.heartBeat.Milliseconds(), 10)
	connect := NewFrame(CommandConnect, nil,
		"accept-version", "1.2,1.1",
		"host", c.host,
		"heart-beat", beat+","+beat,
	)
	if c.login != "" {
		connect.Header["login"] = c.login
		connect.Header["passcode"] = c.passcode
	}
	if err := c.write(conn, connect); err != nil {
		return c.closed(ctx, fmt.Errorf("send connect: %w", err))
	}

	// Until CONNECTED arrives the broker gets the handshake timeout; after
	// that, twice the negotiated heart-beat, or no limit without one.
	readWindow := c.handshake
	done := make(chan struct{})
	defer close(done)

	subscribed := false
	for {
		var deadline time.Time
		if readWindow > 0 {
			deadline = time.Now().Add(readWindow)
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			return c.closed(ctx, fmt.Errorf("set read deadline: %w", err))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				err = fmt.Errorf("%w for %s", ErrHeartbeatTimeout, readWindow)
			}
			return c.closed(ctx, fmt.Errorf("read: %w", err))
		}

		frames, err := ParseFrames(data)
		if err != nil {
			c.logger.Warn().Err(err).Int("bytes", len(data)).Msg("skipping unreadable stomp data")
		}

		for _, f := range frames {
			switch f.Command {
			case CommandConnected:
				if subscribed {
					continue
				}
				sub := NewFrame(CommandSubscribe, nil,
					"id", uuid.NewString(),
					"destination", c.destination,
					"ack", "auto",
				)
				if err := c.write(conn, sub); err != nil {
					return c.closed(ctx, fmt.Errorf("send subscribe: %w", err))
				}
				subscribed = true
				send, recv := negotiate(c.heartBeat, f.Get("heart-beat"))
				readWindow = 2 * recv
				if send > 0 {
					go c.beat(conn, send, done)
				}
				c.logger.Debug().
					Str("version", f.Get("version")).
					Dur("send_heartbeat", send).
					Dur("recv_heartbeat", recv).
					Msg("stomp session established")
				h.Established()
			case CommandMessage:
				if subscribed {
					h.Payload(f.Body)
				}
			case CommandError:
				return c.closed(ctx, fmt.Errorf("%w: %s", ErrServerError, f.Get("message")))
			case CommandReceipt:
			default:
				c.logger.Debug().Str("command", f.Command).Msg("ignoring stomp frame")
			}
		}
	}
}

// socket serializes writes; gorilla connections allow one concurrent writer.
type socket struct {
	*websocket.Conn
	mu sync.Mutex
}

func (c *Channel) write(conn *socket, f Frame) error {
	return c.writeRaw(conn, f.Bytes())
}

func (c *Channel) writeRaw(conn *socket, data []byte) error {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// negotiate returns the heart-beat intervals for sending and receiving given
// the offered interval and the broker's "sx,sy" reply, in milliseconds.
// Either direction is off when one side declines it with 0.
func negotiate(offer time.Duration, reply string) (send, recv time.Duration) {
	if offer <= 0 {
		return 0, 0
	}
	sx, sy, ok := strings.Cut(reply, ",")
	if !ok {
		return 0, 0
	}
	serverSend, err1 := strconv.Atoi(strings.TrimSpace(sx))
	serverRecv, err2 := strconv.Atoi(strings.TrimSpace(sy))
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	if serverRecv > 0 {
		send = max(offer, time.Duration(serverRecv)*time.Millisecond)
	}
	if serverSend > 0 {
		recv = max(offer, time.Duration(serverSend)*time.Millisecond)
	}
	return send, recv
}

// beat writes an end-of-line every interval until done is closed.
func (c *Channel) beat(conn *socket, interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.writeRaw(conn, []byte("\n")); err != nil {
				c.logger.Debug().Err(err).Msg("stomp heart-beat failed")
				return
			}
		}
	}
}

// disconnect says goodbye and closes the socket, unblocking ReadMessage.
func (c *Channel) disconnect(conn *socket) {
	_ = c.write(conn, NewFrame(CommandDisconnect, nil))
	conn.mu.Lock()
	defer conn.mu.Unlock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.writeTimeout),
	)
	_ = conn.Close()
}

// closed maps errors caused by cancellation to a clean return.
func (c *Channel) closed(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
