package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wubwatch/internal/clock"
	"github.com/JakeFAU/wubwatch/internal/metrics"
)

// DefaultPollInterval is how often the graph is refreshed.
const DefaultPollInterval = 10 * time.Minute

// Backend is the part of Client a Dashboard needs.
type Backend interface {
	Graph(ctx context.Context) (Graph, error)
	Timespan(ctx context.Context, start, end time.Time) (string, error)
}

// Snapshot is the dashboard state at one instant.
type Snapshot struct {
	Graph Graph `json:"graph"`
	// Focus holds the markup of the selected timespan; Latest is hidden while
	// it is shown.
	Focus   string     `json:"focus,omitempty"`
	Focused bool       `json:"focused"`
	Latest  []Fragment `json:"latest"`
	LastErr string     `json:"last_error,omitempty"`
}

// Dashboard combines the periodically refreshed graph, the timespan focus
// panel and the live feed.
type Dashboard struct {
	backend  Backend
	feed     *Feed
	clock    clock.Clock
	interval time.Duration
	logger   *zap.Logger

	mu      sync.RWMutex
	graph   Graph
	focus   string
	focused bool
	lastErr error
}

// NewDashboard wires a dashboard. feed may be nil for a graph-only view.
func NewDashboard(backend Backend, feed *Feed, clk clock.Clock, interval time.Duration, logger *zap.Logger) *Dashboard {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if feed == nil {
		feed = NewFeed(0, logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dashboard{
		backend:  backend,
		feed:     feed,
		clock:    clk,
		interval: interval,
		logger:   logger,
	}
}

// Feed returns the live feed the dashboard shows.
func (d *Dashboard) Feed() *Feed {
	return d.feed
}

// Refresh fetches the graph once. A failed refresh keeps the previous graph.
func (d *Dashboard) Refresh(ctx context.Context) error {
	g, err := d.backend.Graph(ctx)
	d.mu.Lock()
	d.lastErr = err
	if err == nil {
		d.graph = g
	}
	d.mu.Unlock()
	if err != nil {
		metrics.ObserveMonitorPoll("error")
		return fmt.Errorf("refresh graph: %w", err)
	}
	metrics.ObserveMonitorPoll("ok")
	return nil
}

// Run refreshes immediately and then once per interval until ctx ends.
// Refresh failures are logged and retried on the next tick.
func (d *Dashboard) Run(ctx context.Context) error {
	ticker := d.clock.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		if err := d.Refresh(ctx); err != nil {
			d.logger.Warn("monitor graph refresh failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("monitor dashboard: %w", ctx.Err())
		case <-ticker.C():
		}
	}
}

// Select focuses the panel on tracks between start and end. An empty
// response leaves the panel unchanged; the result reports whether it changed.
func (d *Dashboard) Select(ctx context.Context, start, end time.Time) (bool, error) {
	markup, err := d.backend.Timespan(ctx, start, end)
	if err != nil {
		return false, fmt.Errorf("select timespan: %w", err)
	}
	if markup == "" {
		return false, nil
	}
	d.mu.Lock()
	d.focus = markup
	d.focused = true
	d.mu.Unlock()
	return true, nil
}

// ClearSelection empties the focus panel and shows the latest list again.
func (d *Dashboard) ClearSelection() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.focus = ""
	d.focused = false
}

// Snapshot copies the current state.
func (d *Dashboard) Snapshot() Snapshot {
	d.mu.RLock()
	snap := Snapshot{
		Graph:   d.graph,
		Focus:   d.focus,
		Focused: d.focused,
	}
	if d.lastErr != nil {
		snap.LastErr = d.lastErr.Error()
	}
	d.mu.RUnlock()
	snap.Latest = d.feed.Entries()
	return snap
}
