package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/trafficwatch/trafficwatch/internal/api/middleware"
	"github.com/trafficwatch/trafficwatch/internal/api/models"
	"github.com/trafficwatch/trafficwatch/internal/citystats"
	"github.com/trafficwatch/trafficwatch/internal/feed"
	"github.com/trafficwatch/trafficwatch/internal/mapview"
	"github.com/trafficwatch/trafficwatch/internal/traffic"
)

const streamFeedName = "traffic"

// StreamConfig holds configuration for the stream endpoint.
type StreamConfig struct {
	View    *mapview.View
	Traffic *feed.Manager[traffic.Metric]

	// Stats, if set, is forwarded to clients that ask for it with ?stats=true.
	Stats *feed.Manager[citystats.HourlySummary]

	Metrics *middleware.Metrics
	Logger  zerolog.Logger

	// Origins lists the browser origins allowed to connect. An empty policy
	// allows same-host origins only.
	Origins middleware.OriginPolicy

	// SendBuffer is the per-client queue length (default: 64). Items that
	// find the queue full are dropped for that client only.
	SendBuffer int

	// WriteTimeout bounds each frame written to a client (default: 10s).
	WriteTimeout time.Duration

	// PingInterval is the keepalive period (default: 30s). A client that
	// does not answer within two intervals is disconnected.
	PingInterval time.Duration
}

// StreamHandler pushes feed updates to WebSocket clients. Each client holds
// its own feed subscription, so the live session stays open while at least
// one client is connected.
type StreamHandler struct {
	view         *mapview.View
	traffic      *feed.Manager[traffic.Metric]
	stats        *feed.Manager[citystats.HourlySummary]
	metrics      *middleware.Metrics
	logger       zerolog.Logger
	upgrader     websocket.Upgrader
	sendBuffer   int
	writeTimeout time.Duration
	pingInterval time.Duration
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(cfg StreamConfig) *StreamHandler {
	if cfg.SendBuffer == 0 {
		cfg.SendBuffer = 64
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 30 * time.Second
	}

	h := &StreamHandler{
		view:         cfg.View,
		traffic:      cfg.Traffic,
		stats:        cfg.Stats,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		sendBuffer:   cfg.SendBuffer,
		writeTimeout: cfg.WriteTimeout,
		pingInterval: cfg.PingInterval,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.Origins),
	}
	return h
}

// Stream handles GET /v1/traffic/stream?district=&stats=.
// The first frame is a snapshot of the cache, followed by one frame per
// update in the order the feed applied them.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	district := r.URL.Query().Get("district")
	withStats := r.URL.Query().Get("stats") == "true" && h.stats != nil

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.metrics.StreamOpened(streamFeedName)
	defer h.metrics.StreamClosed(streamFeedName)

	client := &streamClient{send: make(chan models.StreamMessage, h.sendBuffer)}

	// Hold the client lock while subscribing so no update is queued ahead
	// of the snapshot.
	client.mu.Lock()
	unsubscribe := []func(){
		h.traffic.Subscribe(func(m traffic.Metric) {
			if district != "" && m.District != district {
				return
			}
			client.enqueue(models.StreamMessage{Type: models.StreamTypeTraffic, Data: toTrafficMetric(m)})
		}),
	}
	if withStats {
		unsubscribe = append(unsubscribe, h.stats.Subscribe(func(s citystats.HourlySummary) {
			client.enqueue(models.StreamMessage{Type: models.StreamTypeStats, Data: citystats.DistrictTotal{
				District:   s.District,
				Hour:       s.Hour,
				TotalCount: s.TotalCount,
				Details:    s.Details,
			}})
		}))
	}
	snapshot := toTrafficMetrics(h.view.Latest(district))
	client.send <- models.StreamMessage{
		Type: models.StreamTypeSnapshot,
		Data: models.LatestTraffic{
			Live:    h.traffic.IsLive(),
			State:   h.traffic.State().String(),
			Metrics: snapshot,
			Count:   len(snapshot),
		},
	}
	client.mu.Unlock()

	defer func() {
		for _, fn := range unsubscribe {
			fn()
		}
		dropped := client.close()
		_ = conn.Close()
		h.logger.Debug().
			Str("district", district).
			Int("dropped", dropped).
			Msg("stream client disconnected")
	}()

	h.serve(conn, client)
}

// serve writes queued frames until the client goes away. All writes happen
// on this goroutine; gorilla connections allow one concurrent writer.
func (h *StreamHandler) serve(conn *websocket.Conn, client *streamClient) {
	pongWait := 2 * h.pingInterval
	done := make(chan struct{})

	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug().Err(err).Msg("stream write failed")
				return
			}
			h.metrics.StreamSent(streamFeedName)
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				return
			}
		case <-done:
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.writeTimeout),
			)
			return
		}
	}
}

// streamClient is the bounded queue between feed callbacks and the writer.
type streamClient struct {
	send chan models.StreamMessage

	mu      sync.Mutex
	closed  bool
	dropped int
}

func (c *streamClient) enqueue(msg models.StreamMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		c.dropped++
	}
}

// close stops further enqueues and returns the number of dropped frames.
func (c *streamClient) close() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.dropped
}

func originChecker(policy middleware.OriginPolicy) func(*http.Request) bool {
	if policy.Empty() {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || policy.Allows(origin)
	}
}
