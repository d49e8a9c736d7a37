package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/wubwatch/internal/progress"
)

// PrometheusSink exports watch-session metrics via Prometheus. It owns all
// collectors for sessions started/finished/running, reconnects and dropped
// messages.
type PrometheusSink struct {
	sessionsStarted  prometheus.Counter
	sessionsFinished *prometheus.CounterVec
	sessionsRunning  prometheus.Gauge
	jobDuration      *prometheus.HistogramVec

	channelOpens    prometheus.Counter
	channelDrops    prometheus.Counter
	messagesDropped prometheus.Counter
	expiries        prometheus.Counter

	tracker *sessionTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wubwatch_sessions_started_total",
			Help: "Total watch sessions that have started.",
		}),
		sessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wubwatch_sessions_finished_total",
			Help: "Total watch sessions finished partitioned by result.",
		}, []string{"result"}),
		sessionsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wubwatch_sessions_running",
			Help: "Current number of running watch sessions.",
		}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wubwatch_job_duration_seconds",
			Help:    "Time from session start until the job reached a terminal state.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		channelOpens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wubwatch_channel_opens_total",
			Help: "Progress channel connections, including reconnects.",
		}),
		channelDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wubwatch_channel_disconnects_total",
			Help: "Progress channel disconnects observed by sessions.",
		}),
		messagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wubwatch_messages_dropped_total",
			Help: "Malformed status messages skipped by sessions.",
		}),
		expiries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wubwatch_countdown_expired_total",
			Help: "Finished remixes whose download window elapsed.",
		}),
		tracker: newSessionTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.sessionsStarted,
		s.sessionsFinished,
		s.sessionsRunning,
		s.jobDuration,
		s.channelOpens,
		s.channelDrops,
		s.messagesDropped,
		s.expiries,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageSessionStart:
		s.sessionsStarted.Inc()
		if s.tracker.start(evt.SessionID) {
			s.sessionsRunning.Inc()
		}
	case progress.StageWatchDone:
		s.finish(evt, "done")
	case progress.StageWatchFailed:
		s.finish(evt, "failed")
	case progress.StageSessionStop:
		if s.tracker.complete(evt.SessionID) {
			s.sessionsRunning.Dec()
		}
	case progress.StageChannelOpen:
		s.channelOpens.Inc()
	case progress.StageChannelClosed:
		s.channelDrops.Inc()
	case progress.StageMessageDropped:
		s.messagesDropped.Inc()
	case progress.StageCountdownExpired:
		s.expiries.Inc()
	}
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.sessionsFinished.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.jobDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type sessionTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{running: make(map[[16]byte]struct{})}
}

func (t *sessionTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *sessionTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
