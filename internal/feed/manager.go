package feed

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Config holds configuration for a Manager.
type Config[T any] struct {
	// Name identifies the feed in logs, metrics and status output.
	Name string

	// Channel is the live transport. If nil, every session runs in fallback mode.
	Channel Channel

	// Codec adapts the item type. Decode and Key are required.
	Codec Codec[T]

	// Snapshot, if set, is called when a session starts to seed the cache.
	Snapshot func(ctx context.Context) ([]T, error)

	// ConnectTimeout bounds the wait for the first handshake of a session
	// before switching to fallback (default: 10s).
	ConnectTimeout time.Duration

	// ReconnectDelay is the initial wait between connection attempts (default: 5s).
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential reconnect wait (default: 1m).
	MaxReconnectDelay time.Duration

	// MaxReconnectAttempts is the number of consecutive failed attempts
	// tolerated before switching to fallback (default: 10).
	MaxReconnectAttempts int

	// FallbackInterval is the period of synthetic updates (default: 5s).
	FallbackInterval time.Duration

	// RetryFromFallback enables periodic connection probes while in fallback.
	RetryFromFallback bool

	// FallbackRetryInterval is the period of those probes (default: 1m).
	FallbackRetryInterval time.Duration

	// SnapshotTimeout bounds the Snapshot call (default: 10s).
	SnapshotTimeout time.Duration

	Logger  zerolog.Logger
	Metrics *Metrics

	// Rand drives fallback synthesis. Defaults to a time-seeded source.
	Rand *rand.Rand
}

// Status is a point-in-time view of a Manager.
type Status struct {
	Name          string
	State         State
	Subscribers   int
	CachedKeys    int
	Attempts      int
	Received      uint64
	Dropped       uint64
	LastMessageAt time.Time
	LastError     string
}

type subscriber[T any] struct {
	fn      func(T)
	removed atomic.Bool
}

// Manager owns the channel lifecycle, the latest-value cache and the
// subscriber list for one topic. It is safe for concurrent use.
//
// Cache writes and deliveries are serialized, so every subscriber observes
// items in cache write order. Callbacks run on the manager's goroutines and
// may call back into the manager.
type Manager[T any] struct {
	name    string
	channel Channel
	codec   Codec[T]
	seed    func(ctx context.Context) ([]T, error)
	logger  zerolog.Logger
	metrics *Metrics

	connectTimeout        time.Duration
	reconnectDelay        time.Duration
	maxReconnectDelay     time.Duration
	maxAttempts           int
	fallbackInterval      time.Duration
	retryFromFallback     bool
	fallbackRetryInterval time.Duration
	snapshotTimeout       time.Duration

	// deliverMu is taken before mu whenever both are held.
	deliverMu sync.Mutex

	mu           sync.Mutex
	rng          *rand.Rand
	state        State
	subs         []*subscriber[T]
	cache        map[string]T
	touched      map[string]struct{}
	gen          uint64
	ctx          context.Context
	cancel       context.CancelFunc
	connecting   bool
	connectSeq   uint64
	abandon      context.CancelFunc
	attempts     int
	connectTimer *time.Timer
	retryTimer   *time.Timer
	fallbackStop chan struct{}

	received      uint64
	dropped       uint64
	lastMessageAt time.Time
	lastError     string
}

// NewManager creates an idle manager. Nothing connects until the first Subscribe.
func NewManager[T any](cfg Config[T]) *Manager[T] {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.MaxReconnectDelay == 0 {
		cfg.MaxReconnectDelay = time.Minute
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = cfg.ReconnectDelay
	}
	if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = 10
	}
	if cfg.FallbackInterval == 0 {
		cfg.FallbackInterval = 5 * time.Second
	}
	if cfg.FallbackRetryInterval == 0 {
		cfg.FallbackRetryInterval = time.Minute
	}
	if cfg.SnapshotTimeout == 0 {
		cfg.SnapshotTimeout = 10 * time.Second
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // synthetic traffic, not security sensitive
	}
	if cfg.Name == "" {
		cfg.Name = "feed"
	}

	return &Manager[T]{
		name:                  cfg.Name,
		channel:               cfg.Channel,
		codec:                 cfg.Codec,
		seed:                  cfg.Snapshot,
		logger:                cfg.Logger.With().Str("feed", cfg.Name).Logger(),
		metrics:               cfg.Metrics,
		connectTimeout:        cfg.ConnectTimeout,
		reconnectDelay:        cfg.ReconnectDelay,
		maxReconnectDelay:     cfg.MaxReconnectDelay,
		maxAttempts:           cfg.MaxReconnectAttempts,
		fallbackInterval:      cfg.FallbackInterval,
		retryFromFallback:     cfg.RetryFromFallback,
		fallbackRetryInterval: cfg.FallbackRetryInterval,
		snapshotTimeout:       cfg.SnapshotTimeout,
		rng:                   cfg.Rand,
		cache:                 make(map[string]T),
		touched:               make(map[string]struct{}),
	}
}

// Name returns the feed name.
func (m *Manager[T]) Name() string {
	return m.name
}

// Subscribe registers fn for every item applied from now on and returns the
// function that removes it. The first subscriber starts a session; removing
// the last one ends it. The returned function is idempotent.
func (m *Manager[T]) Subscribe(fn func(T)) func() {
	sub := &subscriber[T]{fn: fn}

	m.mu.Lock()
	m.subs = append(m.subs, sub)
	if len(m.subs) == 1 {
		m.startLocked()
	}
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { m.unsubscribe(sub) })
	}
}

// Close removes every subscriber and ends the session.
func (m *Manager[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		s.removed.Store(true)
	}
	m.subs = nil
	if m.state != StateIdle {
		m.stopLocked()
	}
}

// Cached returns the latest item for key.
func (m *Manager[T]) Cached(key string) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.cache[key]
	if !ok {
		return item, false
	}
	return m.clone(item), true
}

// AllCached returns a copy of every cached item ordered by key.
func (m *Manager[T]) AllCached() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := m.sortedKeysLocked()
	out := make([]T, len(keys))
	for i, k := range keys {
		out[i] = m.clone(m.cache[k])
	}
	return out
}

// IsLive reports whether the live channel is currently connected.
func (m *Manager[T]) IsLive() bool {
	return m.State() == StateLive
}

// State returns the current lifecycle state.
func (m *Manager[T]) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns a point-in-time view of the manager.
func (m *Manager[T]) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Name:          m.name,
		State:         m.state,
		Subscribers:   len(m.subs),
		CachedKeys:    len(m.cache),
		Attempts:      m.attempts,
		Received:      m.received,
		Dropped:       m.dropped,
		LastMessageAt: m.lastMessageAt,
		LastError:     m.lastError,
	}
}

// Seed adds items for keys that are not cached yet. Nothing is delivered.
func (m *Manager[T]) Seed(items ...T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		key := m.codec.Key(item)
		if key == "" {
			continue
		}
		if _, ok := m.cache[key]; !ok {
			m.cache[key] = item
		}
	}
}

func (m *Manager[T]) unsubscribe(sub *subscriber[T]) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub.removed.Store(true)
	for i, s := range m.subs {
		if s == sub {
			m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
			break
		}
	}
	if len(m.subs) == 0 && m.state != StateIdle {
		m.stopLocked()
	}
}

func (m *Manager[T]) startLocked() {
	m.gen++
	gen := m.gen
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.attempts = 0
	m.lastError = ""
	m.touched = make(map[string]struct{})

	m.logger.Info().Msg("starting feed session")

	if m.channel == nil {
		m.enterFallbackLocked(gen, "no live channel configured")
	} else {
		m.setStateLocked(StateConnecting)
		m.armConnectTimerLocked(gen)
		m.startConnectLocked(gen)
	}

	if m.seed != nil {
		go m.seedFromSnapshot(m.ctx, gen)
	}
}

func (m *Manager[T]) stopLocked() {
	m.gen++
	if m.cancel != nil {
		m.cancel()
	}
	m.stopConnectTimerLocked()
	m.stopRetryTimerLocked()
	m.stopFallbackLocked()
	m.connecting = false
	m.abandon = nil
	m.attempts = 0
	m.setStateLocked(StateIdle)

	m.logger.Info().Int("cached", len(m.cache)).Msg("feed session ended")
}

func (m *Manager[T]) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.logger.Debug().
		Str("from", m.state.String()).
		Str("to", s.String()).
		Msg("feed state changed")
	m.state = s
	m.metrics.transition(m.name, s)
}

func (m *Manager[T]) armConnectTimerLocked(gen uint64) {
	m.stopConnectTimerLocked()
	m.connectTimer = time.AfterFunc(m.connectTimeout, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.gen != gen || m.state != StateConnecting {
			return
		}
		m.enterFallbackLocked(gen, "connect timeout")
	})
}

func (m *Manager[T]) stopConnectTimerLocked() {
	if m.connectTimer != nil {
		m.connectTimer.Stop()
		m.connectTimer = nil
	}
}

func (m *Manager[T]) stopRetryTimerLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *Manager[T]) stopFallbackLocked() {
	if m.fallbackStop != nil {
		close(m.fallbackStop)
		m.fallbackStop = nil
	}
}

func (m *Manager[T]) enterFallbackLocked(gen uint64, reason string) {
	m.stopConnectTimerLocked()
	m.setStateLocked(StateFallback)

	m.logger.Warn().
		Str("reason", reason).
		Int("attempts", m.attempts).
		Dur("interval", m.fallbackInterval).
		Msg("live channel unavailable, serving synthetic updates")

	if m.fallbackStop == nil {
		stop := make(chan struct{})
		m.fallbackStop = stop
		go m.runFallback(m.ctx, gen, stop)
	}
	if m.retryFromFallback {
		m.scheduleRetryLocked(gen)
	}
}

func (m *Manager[T]) scheduleRetryLocked(gen uint64) {
	m.stopRetryTimerLocked()
	m.retryTimer = time.AfterFunc(m.fallbackRetryInterval, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.gen != gen || m.state != StateFallback {
			return
		}
		if m.channel != nil {
			// An attempt still running in fallback has not completed its
			// handshake since the connect timeout fired.
			if m.connecting {
				m.logger.Info().Msg("abandoning stalled connection attempt")
				m.abandon()
			}
			m.logger.Info().Msg("probing live channel from fallback")
			m.attempts = 0
			m.startConnectLocked(gen)
		}
		m.scheduleRetryLocked(gen)
	})
}

func (m *Manager[T]) startConnectLocked(gen uint64) {
	m.connectSeq++
	ctx, cancel := context.WithCancel(m.ctx)
	m.connecting = true
	m.abandon = cancel
	go m.connect(ctx, gen, m.connectSeq)
}

// connect runs connection attempts for one session until the channel gives
// up, the session ends or the manager settles in fallback.
func (m *Manager[T]) connect(ctx context.Context, gen, seq uint64) {
	defer func() {
		m.mu.Lock()
		if m.gen == gen && m.connectSeq == seq {
			m.abandon()
			m.connecting = false
			m.abandon = nil
		}
		m.mu.Unlock()
	}()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.reconnectDelay
	bo.MaxInterval = m.maxReconnectDelay
	bo.MaxElapsedTime = 0
	retry := backoff.WithContext(bo, ctx)

	for {
		m.mu.Lock()
		probing := m.state == StateFallback
		m.mu.Unlock()

		h := &session[T]{m: m, gen: gen, seq: seq}
		err := m.receive(ctx, h, probing)
		if ctx.Err() != nil {
			return
		}

		wasEstablished := h.established.Load()
		if !m.channelDown(gen, err, wasEstablished) {
			return
		}
		if wasEstablished {
			retry.Reset()
		}

		wait := retry.NextBackOff()
		if wait == backoff.Stop {
			return
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		m.mu.Lock()
		stillConnecting := m.gen == gen && m.state == StateConnecting
		m.mu.Unlock()
		if !stillConnecting {
			return
		}
	}
}

// receive runs one attempt. Probes from fallback are abandoned when the
// handshake does not complete within the connect timeout.
func (m *Manager[T]) receive(ctx context.Context, h *session[T], probing bool) error {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if probing {
		t := time.AfterFunc(m.connectTimeout, func() {
			if !h.established.Load() {
				cancel()
			}
		})
		defer t.Stop()
	}

	return m.channel.Receive(attemptCtx, h)
}

// channelDown records a lost or failed connection and reports whether the
// connect loop should try again.
func (m *Manager[T]) channelDown(gen uint64, err error, wasEstablished bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gen != gen {
		return false
	}
	if err != nil {
		m.lastError = err.Error()
	}

	if m.state == StateFallback {
		m.logger.Debug().Err(err).Msg("fallback probe failed")
		return false
	}

	m.attempts++
	m.logger.Warn().
		Err(err).
		Bool("was_live", wasEstablished).
		Int("attempt", m.attempts).
		Int("max_attempts", m.maxAttempts).
		Msg("live channel disconnected")

	if m.attempts > m.maxAttempts {
		m.enterFallbackLocked(gen, "reconnect attempts exhausted")
		return false
	}
	if m.state == StateLive {
		m.setStateLocked(StateConnecting)
		m.armConnectTimerLocked(gen)
	}
	return true
}

func (m *Manager[T]) established(gen, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gen != gen || m.connectSeq != seq {
		return
	}
	m.stopConnectTimerLocked()
	m.stopRetryTimerLocked()
	m.stopFallbackLocked()
	m.attempts = 0
	m.lastError = ""
	m.setStateLocked(StateLive)

	m.logger.Info().Msg("live channel connected")
}

func (m *Manager[T]) handlePayload(gen uint64, data []byte) {
	items, err := m.codec.Decode(data)
	if err != nil {
		m.logger.Warn().
			Err(err).
			Int("bytes", len(data)).
			Int("kept", len(items)).
			Msg("dropping malformed channel message")
		m.metrics.drop(m.name)
		m.mu.Lock()
		m.dropped++
		m.mu.Unlock()
	}
	if len(items) == 0 {
		return
	}

	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	applied := make([]T, 0, len(items))
	for _, item := range items {
		key := m.codec.Key(item)
		if key == "" {
			continue
		}
		m.cache[key] = item
		m.touched[key] = struct{}{}
		applied = append(applied, m.clone(item))
	}
	m.received += uint64(len(applied))
	m.lastMessageAt = time.Now()
	subs := m.activeSubsLocked()
	m.mu.Unlock()

	m.metrics.received(m.name, len(applied))
	m.deliver(subs, applied)
}

func (m *Manager[T]) runFallback(ctx context.Context, gen uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(m.fallbackInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			m.fallbackTick(gen)
		}
	}
}

func (m *Manager[T]) fallbackTick(gen uint64) {
	if m.codec.Synthesize == nil {
		return
	}

	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.mu.Lock()
	if m.gen != gen || m.state != StateFallback {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	keys := m.sortedKeysLocked()
	items := make([]T, 0, len(keys))
	for _, key := range keys {
		next := m.codec.Synthesize(m.cache[key], m.rng, now)
		m.cache[key] = next
		items = append(items, m.clone(next))
	}
	subs := m.activeSubsLocked()
	m.mu.Unlock()

	m.metrics.synthetic(m.name, len(items))
	m.deliver(subs, items)
}

func (m *Manager[T]) seedFromSnapshot(ctx context.Context, gen uint64) {
	ctx, cancel := context.WithTimeout(ctx, m.snapshotTimeout)
	defer cancel()

	items, err := m.seed(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn().Err(err).Msg("snapshot seed failed, keeping cached values")
		}
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return
	}
	seeded := 0
	for _, item := range items {
		key := m.codec.Key(item)
		if key == "" {
			continue
		}
		if _, live := m.touched[key]; live {
			continue
		}
		m.cache[key] = item
		seeded++
	}
	m.logger.Info().Int("seeded", seeded).Int("received", len(items)).Msg("cache seeded from snapshot")
}

func (m *Manager[T]) activeSubsLocked() []*subscriber[T] {
	subs := make([]*subscriber[T], len(m.subs))
	copy(subs, m.subs)
	return subs
}

func (m *Manager[T]) sortedKeysLocked() []string {
	keys := make([]string, 0, len(m.cache))
	for k := range m.cache {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *Manager[T]) clone(item T) T {
	if m.codec.Clone == nil {
		return item
	}
	return m.codec.Clone(item)
}

// deliver must be called with deliverMu held and mu released.
func (m *Manager[T]) deliver(subs []*subscriber[T], items []T) {
	for _, item := range items {
		for _, s := range subs {
			if s.removed.Load() {
				continue
			}
			m.call(s, item)
		}
	}
}

func (m *Manager[T]) call(s *subscriber[T], item T) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Msg("feed subscriber panicked")
		}
	}()
	s.fn(item)
}

type session[T any] struct {
	m           *Manager[T]
	gen         uint64
	seq         uint64
	established atomic.Bool
}

func (s *session[T]) Established() {
	if s.established.CompareAndSwap(false, true) {
		s.m.established(s.gen, s.seq)
	}
}

func (s *session[T]) Payload(data []byte) {
	s.m.handlePayload(s.gen, data)
}
