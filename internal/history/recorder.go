package history

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/trafficwatch/trafficwatch/internal/feed"
	"github.com/trafficwatch/trafficwatch/internal/traffic"
)

// RecorderConfig holds configuration for a Recorder.
type RecorderConfig struct {
	Repository Repository
	Feed       *feed.Manager[traffic.Metric]
	Logger     zerolog.Logger

	// BufferSize bounds measurements waiting to be written (default: 1024).
	// Measurements arriving while the buffer is full are dropped.
	BufferSize int

	// BatchSize is the largest number of measurements per write (default: 100).
	BatchSize int

	// FlushInterval is the longest a measurement waits for a batch (default: 1s).
	FlushInterval time.Duration

	// WriteTimeout bounds each write (default: 5s).
	WriteTimeout time.Duration

	// RecordSynthetic also stores fallback values. Off by default.
	RecordSynthetic bool
}

// RecorderStats counts what a Recorder did.
type RecorderStats struct {
	Written uint64
	Dropped uint64
	Failed  uint64
}

// Recorder persists every measurement delivered by the traffic feed. The
// feed never waits on the database: the subscriber only enqueues.
type Recorder struct {
	repo            Repository
	feed            *feed.Manager[traffic.Metric]
	logger          zerolog.Logger
	batchSize       int
	flushInterval   time.Duration
	writeTimeout    time.Duration
	recordSynthetic bool

	queue   chan traffic.Metric
	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewRecorder creates a Recorder.
func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 1024
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	return &Recorder{
		repo:            cfg.Repository,
		feed:            cfg.Feed,
		logger:          cfg.Logger,
		batchSize:       cfg.BatchSize,
		flushInterval:   cfg.FlushInterval,
		writeTimeout:    cfg.WriteTimeout,
		recordSynthetic: cfg.RecordSynthetic,
		queue:           make(chan traffic.Metric, cfg.BufferSize),
	}
}

// Run subscribes to the feed and writes batches until ctx is cancelled, then
// flushes what is left and returns.
func (r *Recorder) Run(ctx context.Context) error {
	unsubscribe := r.feed.Subscribe(r.enqueue)
	defer unsubscribe()

	r.logger.Info().
		Int("batch_size", r.batchSize).
		Dur("flush_interval", r.flushInterval).
		Msg("traffic recorder started")

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]traffic.Metric, 0, r.batchSize)
	for {
		select {
		case <-ctx.Done():
			unsubscribe()
		drain:
			for {
				select {
				case m := <-r.queue:
					batch = append(batch, m)
				default:
					break drain
				}
			}
			r.flush(context.Background(), batch)
			r.logger.Info().
				Uint64("written", r.written.Load()).
				Uint64("dropped", r.dropped.Load()).
				Uint64("failed", r.failed.Load()).
				Msg("traffic recorder stopped")
			return nil
		case m := <-r.queue:
			batch = append(batch, m)
			if len(batch) >= r.batchSize {
				r.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

// Stats returns the recorder counters.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Written: r.written.Load(),
		Dropped: r.dropped.Load(),
		Failed:  r.failed.Load(),
	}
}

func (r *Recorder) enqueue(m traffic.Metric) {
	if m.Synthetic && !r.recordSynthetic {
		return
	}
	select {
	case r.queue <- m:
	default:
		if r.dropped.Add(1)%100 == 1 {
			r.logger.Warn().
				Uint64("dropped", r.dropped.Load()).
				Msg("recorder buffer full, dropping measurements")
		}
	}
}

func (r *Recorder) flush(ctx context.Context, batch []traffic.Metric) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout)
	defer cancel()

	if err := r.repo.Insert(ctx, batch...); err != nil {
		r.failed.Add(uint64(len(batch)))
		r.logger.Error().Err(err).Int("records", len(batch)).Msg("failed to store traffic measurements")
		return
	}
	r.written.Add(uint64(len(batch)))
	r.logger.Debug().Int("records", len(batch)).Msg("stored traffic measurements")
}
