package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: size of the internal channel (default 4096).
//   - MaxBatchEvents: flush once this many events queue (default 1000).
//   - MaxBatchWait: flush this long after the first event of a batch (default 500ms).
//   - SinkTimeout: per-sink timeout while flushing (default 10s).
//   - CoalesceProgress: a WATCH_PROGRESS event replaces the pending one of the
//     same session when nothing else was batched for it in between.
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize       int
	MaxBatchEvents   int
	MaxBatchWait     time.Duration
	SinkTimeout      time.Duration
	CoalesceProgress bool
	BaseContext      context.Context
	Logger           *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Stats counts what the Hub did with emitted events.
type Stats struct {
	Accepted  int64 `json:"accepted"`
	Dropped   int64 `json:"dropped"`
	Coalesced int64 `json:"coalesced"`
	Flushes   int64 `json:"flushes"`
}

// Hub aggregates session events and fans them out to registered sinks. Many
// sessions share one Hub; Emit never blocks a session loop.
type Hub struct {
	cfg     Config
	sinks   []Sink
	events  chan Event
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  *zap.Logger
	dropLog rate.Sometimes

	accepted  atomic.Int64
	dropped   atomic.Int64
	sinceLog  atomic.Int64
	coalesced atomic.Int64
	flushes   atomic.Int64
	closed    atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the batching goroutine; the Hub accepts events immediately.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:     cfg,
		sinks:   append([]Sink(nil), sinks...),
		events:  make(chan Event, cfg.BufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  logger,
		dropLog: rate.Sometimes{Interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit enqueues an Event for batching. It never blocks; if the buffer is full
// the event is dropped and a rate-limited warning is logged.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
		h.accepted.Add(1)
	default:
		h.dropped.Add(1)
		h.sinceLog.Add(1)
		h.dropLog.Do(func() {
			h.logger.Warn("progress events dropped due to backpressure",
				zap.Int64("dropped", h.sinceLog.Swap(0)),
				zap.String("job_id", evt.JobID),
			)
		})
	}
}

// Dropped returns how many events were discarded due to backpressure.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Stats reports counters since the Hub started.
func (h *Hub) Stats() Stats {
	if h == nil {
		return Stats{}
	}
	return Stats{
		Accepted:  h.accepted.Load(),
		Dropped:   h.dropped.Load(),
		Coalesced: h.coalesced.Load(),
		Flushes:   h.flushes.Load(),
	}
}

// Close drains remaining events, flushes and closes the sinks, and waits for
// the batching goroutine. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

// batch is the pending slice plus, per session, the index of its last event.
type batch struct {
	events   []Event
	last     map[[16]byte]int
	coalesce bool
}

func newBatch(size int, coalesce bool) *batch {
	return &batch{
		events:   make([]Event, 0, size),
		last:     make(map[[16]byte]int),
		coalesce: coalesce,
	}
}

// add appends evt and reports whether it was merged into a pending event.
func (b *batch) add(evt Event) bool {
	if b.coalesce && evt.Stage == StageWatchProgress {
		if i, ok := b.last[evt.SessionID]; ok && b.events[i].Stage == StageWatchProgress {
			b.events[i] = evt
			return true
		}
	}
	b.last[evt.SessionID] = len(b.events)
	b.events = append(b.events, evt)
	return false
}

func (b *batch) take() []Event {
	out := append([]Event(nil), b.events...)
	b.events = b.events[:0]
	clear(b.last)
	return out
}

func (b *batch) len() int {
	return len(b.events)
}

func (h *Hub) run() {
	defer close(h.doneCh)
	pending := newBatch(h.cfg.MaxBatchEvents, h.cfg.CoalesceProgress)
	// deadline is nil while the batch is empty.
	var timer *time.Timer
	var deadline <-chan time.Time
	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, deadline = nil, nil
		}
		h.flush(pending.take())
	}

	for {
		select {
		case evt := <-h.events:
			if pending.add(evt) {
				h.coalesced.Add(1)
			}
			switch {
			case pending.len() >= h.cfg.MaxBatchEvents:
				flush()
			case timer == nil:
				timer = time.NewTimer(h.cfg.MaxBatchWait)
				deadline = timer.C
			}
		case <-deadline:
			timer, deadline = nil, nil
			h.flush(pending.take())
		case <-h.stopCh:
			h.drain(pending)
			if timer != nil {
				timer.Stop()
			}
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) drain(pending *batch) {
	for {
		select {
		case evt := <-h.events:
			if pending.add(evt) {
				h.coalesced.Add(1)
			}
			if pending.len() >= h.cfg.MaxBatchEvents {
				h.flush(pending.take())
			}
		default:
			h.flush(pending.take())
			return
		}
	}
}

func (h *Hub) flush(events []Event) {
	if len(events) == 0 {
		return
	}
	h.flushes.Add(1)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, events); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Int("events", len(events)), zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
	stats := h.Stats()
	h.logger.Info("progress hub closed",
		zap.Int64("accepted", stats.Accepted),
		zap.Int64("dropped", stats.Dropped),
		zap.Int64("coalesced", stats.Coalesced),
		zap.Int64("flushes", stats.Flushes),
	)
}
