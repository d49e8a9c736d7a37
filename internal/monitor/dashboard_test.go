package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/wubwatch/internal/clock/fake"
)

type fakeBackend struct {
	mu       sync.Mutex
	graphs   int
	fail     bool
	timespan string
}

func (b *fakeBackend) Graph(context.Context) (Graph, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.graphs++
	if b.fail {
		return Graph{}, errors.New("unavailable")
	}
	return BuildGraph(map[string][]Point{
		"remixTrue": {{Count: b.graphs}},
	}, time.Time{}), nil
}

func (b *fakeBackend) Timespan(context.Context, time.Time, time.Time) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timespan, nil
}

func (b *fakeBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.graphs
}

func (b *fakeBackend) setFail(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = v
}

func TestDashboardPolls(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	clk := fake.New(time.Unix(0, 0))
	d := NewDashboard(backend, nil, clk, 0, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return backend.calls() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return clk.Tickers() == 1 }, time.Second, time.Millisecond)
	clk.Advance(DefaultPollInterval - time.Second)
	require.Never(t, func() bool { return backend.calls() > 1 }, 20*time.Millisecond, time.Millisecond)
	clk.Advance(time.Second)
	require.Eventually(t, func() bool {
		snap := d.Snapshot()
		return len(snap.Graph.Series) > 0 && snap.Graph.Series[0].Total() == 2
	}, time.Second, time.Millisecond)

	backend.setFail(true)
	clk.Advance(DefaultPollInterval)
	require.Eventually(t, func() bool { return d.Snapshot().LastErr != "" }, time.Second, time.Millisecond)
	require.Equal(t, 2, d.Snapshot().Graph.Series[0].Total())

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestDashboardSelection(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	feed := NewFeed(0, nil)
	_, err := feed.Apply(`<div id="t1">one</div>`)
	require.NoError(t, err)
	d := NewDashboard(backend, feed, fake.New(time.Unix(0, 0)), time.Minute, nil)

	changed, err := d.Select(context.Background(), time.Unix(0, 0), time.Unix(60, 0))
	require.NoError(t, err)
	require.False(t, changed)
	require.False(t, d.Snapshot().Focused)

	backend.timespan = `<div id="t9">old</div>`
	changed, err = d.Select(context.Background(), time.Unix(0, 0), time.Unix(60, 0))
	require.NoError(t, err)
	require.True(t, changed)
	snap := d.Snapshot()
	require.True(t, snap.Focused)
	require.Equal(t, `<div id="t9">old</div>`, snap.Focus)
	require.Len(t, snap.Latest, 1)

	d.ClearSelection()
	snap = d.Snapshot()
	require.False(t, snap.Focused)
	require.Empty(t, snap.Focus)
	require.Same(t, feed, d.Feed())
}
