package watch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/wubwatch/internal/channel"
	"github.com/JakeFAU/wubwatch/internal/clock/fake"
	"github.com/JakeFAU/wubwatch/internal/countdown"
	"github.com/JakeFAU/wubwatch/internal/progress"
	"github.com/JakeFAU/wubwatch/internal/render"
)

const waitFor = 5 * time.Second

type fakeStream struct {
	ch     chan channel.Event
	closes atomic.Int32
}

func newFakeStream() *fakeStream {
	return &fakeStream{ch: make(chan channel.Event, 16)}
}

func (f *fakeStream) Events() <-chan channel.Event { return f.ch }

func (f *fakeStream) Close() error {
	f.closes.Add(1)
	return nil
}

func (f *fakeStream) send(payload string) {
	f.ch <- channel.Event{Kind: channel.Message, Payload: []byte(payload)}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Stage)
	}
	return out
}

func (r *recordingEmitter) count(stage progress.Stage) int {
	n := 0
	for _, s := range r.stages() {
		if s == stage {
			n++
		}
	}
	return n
}

type harness struct {
	stream   *fakeStream
	view     *render.View
	clock    *fake.Clock
	emitter  *recordingEmitter
	recorder *tracetest.SpanRecorder
	hooks    atomic.Int32
	session  *Session
	result   chan error
}

func newHarness(t *testing.T, jobID string, cd countdown.Config) *harness {
	t.Helper()
	h := &harness{
		stream:   newFakeStream(),
		view:     render.NewView(),
		clock:    fake.New(time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)),
		emitter:  &recordingEmitter{},
		recorder: tracetest.NewSpanRecorder(),
		result:   make(chan error, 1),
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(h.recorder))
	opener := OpenerFunc(func(context.Context, string) (Stream, error) { return h.stream, nil })
	s, err := NewSession(jobID, opener, Options{
		Renderer:  h.view,
		Clock:     h.clock,
		Countdown: cd,
		Hooks:     []Hook{func(context.Context, string) { h.hooks.Add(1) }},
		Emitter:   h.emitter,
		Tracer:    tp.Tracer("test"),
		Logger:    zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	h.session = s
	return h
}

func (h *harness) run(ctx context.Context) {
	go func() { h.result <- h.session.Run(ctx) }()
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.result:
		return err
	case <-time.After(waitFor):
		t.Fatal("session did not finish")
		return nil
	}
}

// TestSessionCompletionAndExpiry walks a job from queue to expiry.
func TestSessionCompletionAndExpiry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "abc", countdown.Config{Window: 3 * time.Minute, Period: time.Minute})
	h.run(context.Background())

	h.stream.ch <- channel.Event{Kind: channel.Opened, Attempt: 1}
	h.stream.send(`{"status":0,"text":"Queued"}`)
	require.Eventually(t, func() bool { return h.view.Snapshot().Title == TitleWaiting }, waitFor, time.Millisecond)
	require.Equal(t, "Queued", h.view.Snapshot().Text)

	h.stream.send(`{"status":1,"progress":0.42,"text":"Analyzing","tag":{"title":"Foo","artist":"Bar"}}`)
	require.Eventually(t, func() bool { return h.view.Visible(render.RegionPreContent) }, waitFor, time.Millisecond)
	snap := h.view.Snapshot()
	require.InDelta(t, 42.0, snap.Progress, 1e-9)
	require.Equal(t, "42% - Analyzing", snap.Title)
	require.Contains(t, h.view.Markup(render.RegionPreContent), "<strong>Foo</strong> by Bar")

	h.stream.send(`{"status":1,"progress":1.0,"text":"Done","uid":"ignored",` +
		`"tag":{"title":"Foo","new_title":"Foo (Wub Mix)","artist":"Bar","album":"Baz","remixed":"r/1"}}`)
	require.Eventually(t, func() bool { return h.session.Info().State == Done }, waitFor, time.Millisecond)

	require.Equal(t, int32(1), h.stream.closes.Load())
	require.Equal(t, int32(1), h.hooks.Load())
	require.Equal(t, "Foo (Wub Mix)", h.view.Snapshot().Title)
	require.Equal(t, "download/abc", h.view.Href(render.RegionDownload))
	require.True(t, h.view.Visible(render.RegionPlayer))
	require.False(t, h.view.Visible(render.RegionProgress))
	require.True(t, h.view.Visible(render.RegionPost))
	require.False(t, h.view.Exists(render.RegionPreContent))
	require.False(t, h.view.Exists(render.RegionError))
	require.False(t, h.view.Exists(render.RegionCheckout))
	require.Contains(t, h.view.Markup(render.RegionPlayer), `href="r/1"`)

	info := h.session.Info()
	require.Equal(t, "download/abc", info.Download)
	require.Equal(t, "Foo (Wub Mix)", info.FilenameHint)
	require.Equal(t, 180, info.RemainingSeconds)
	require.True(t, info.Running)

	h.clock.Advance(time.Minute)
	require.Eventually(t, func() bool {
		return h.view.Markup(render.RegionLinkNote) == "This remix will be deleted in 2 minutes."
	}, waitFor, time.Millisecond)

	// Two more remaining ticks, then expiry.
	h.clock.Advance(3 * time.Minute)
	require.NoError(t, h.wait(t))

	require.False(t, h.view.Visible(render.RegionDownload))
	require.False(t, h.view.Visible(render.RegionShare))
	require.False(t, h.view.Visible(render.RegionLink))
	require.Equal(t, "This remix will be deleted in 0 minutes.", h.view.Markup(render.RegionLinkNote))
	require.True(t, h.session.Info().Expired)
	require.False(t, h.session.Info().Running)
	require.Equal(t, 1, h.emitter.count(progress.StageCountdownExpired))
	require.Equal(t, 1, h.emitter.count(progress.StageWatchDone))
	require.Equal(t, 1, h.emitter.count(progress.StageSessionStop))

	spans := h.recorder.Ended()
	require.Len(t, spans, 1)
	var milestones []string
	for _, e := range spans[0].Events() {
		milestones = append(milestones, e.Name)
	}
	require.Contains(t, milestones, "insert_artifact")
	require.Contains(t, milestones, "expire")
}

// TestSessionFailure ends Run with ErrJobFailed and ignores late messages.
func TestSessionFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "abc", countdown.Config{})
	h.run(context.Background())

	h.stream.send(`{"status":1,"progress":0.5,"text":"Remixing"}`)
	h.stream.send(`{"status":-1,"progress":0,"text":"Sorry, that song didn't work. Try another!"}`)
	h.stream.send(`{"status":1,"progress":1.0}`)

	err := h.wait(t)
	require.ErrorIs(t, err, ErrJobFailed)
	require.Contains(t, err.Error(), "Sorry, that song didn't work.")

	snap := h.view.Snapshot()
	require.Zero(t, snap.Progress)
	require.Equal(t, TitleError, snap.Title)
	require.Equal(t, "Sorry, that song didn't work. Try another!", snap.Text)
	require.Zero(t, h.view.Inserts())
	require.Equal(t, int32(1), h.stream.closes.Load())
	require.Zero(t, h.hooks.Load())
	require.Equal(t, Failed, h.session.Info().State)
	require.Equal(t, 1, h.emitter.count(progress.StageWatchFailed))
	require.Zero(t, h.emitter.count(progress.StageWatchDone))
	require.ErrorIs(t, h.session.Err(), ErrJobFailed)
}

// TestSessionSkipsMalformedMessages keeps going after undecodable frames.
func TestSessionSkipsMalformedMessages(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "abc", countdown.Config{})
	h.run(context.Background())

	h.stream.send(`not json`)
	h.stream.send(`{"status":4}`)
	h.stream.send(`{"text":"no status"}`)
	h.stream.send(`{"status":1,"progress":0.25,"text":"Analyzing"}`)

	require.Eventually(t, func() bool { return h.session.Info().Percent == 25 }, waitFor, time.Millisecond)
	require.Equal(t, 3, h.session.Info().Dropped)
	require.Equal(t, 3, h.emitter.count(progress.StageMessageDropped))

	h.session.Stop()
	require.NoError(t, h.wait(t))
	require.Equal(t, int32(1), h.stream.closes.Load())
}

// TestSessionChannelLost fails the session when the stream ends on its own.
func TestSessionChannelLost(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "abc", countdown.Config{})
	h.run(context.Background())

	h.stream.ch <- channel.Event{Kind: channel.Opened, Attempt: 1}
	h.stream.ch <- channel.Event{Kind: channel.Closed, Attempt: 1, Err: errors.New("read: EOF")}
	h.stream.ch <- channel.Event{Kind: channel.Closed, Attempt: 1, Err: channel.ErrGaveUp}
	close(h.stream.ch)

	err := h.wait(t)
	require.ErrorIs(t, err, channel.ErrGaveUp)
	require.Equal(t, LostConnectionText, h.view.Snapshot().Text)
	info := h.session.Info()
	require.Equal(t, Failed, info.State)
	require.Equal(t, 1, info.Connects)
	require.False(t, info.Connected)
	require.Equal(t, 2, h.emitter.count(progress.StageChannelClosed))
}

// TestSessionStopCancelsCountdown leaves no ticking work behind.
func TestSessionStopCancelsCountdown(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "abc", countdown.Config{})
	h.run(context.Background())

	h.stream.send(`{"status":1,"progress":1.0}`)
	require.Eventually(t, func() bool { return h.session.Info().State == Done }, waitFor, time.Millisecond)
	require.Equal(t, 1, h.clock.Tickers())

	h.session.Stop()
	h.session.Stop()
	require.NoError(t, h.wait(t))

	before := h.view.Markup(render.RegionLinkNote)
	h.clock.Advance(10 * time.Minute)
	require.Equal(t, before, h.view.Markup(render.RegionLinkNote))
	require.True(t, h.view.Visible(render.RegionDownload))
	require.Zero(t, h.emitter.count(progress.StageCountdownExpired))
}

func TestSessionStopBeforeRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "abc", countdown.Config{})
	h.session.Stop()
	h.run(context.Background())
	require.NoError(t, h.wait(t))
	require.Zero(t, h.stream.closes.Load())
	require.ErrorIs(t, h.session.Run(context.Background()), ErrAlreadyRunning)
}

func TestSessionContextCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "abc", countdown.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	h.run(ctx)
	h.stream.send(`{"status":0}`)
	require.Eventually(t, func() bool { return h.view.Snapshot().Title == TitleWaiting }, waitFor, time.Millisecond)
	cancel()
	require.ErrorIs(t, h.wait(t), context.Canceled)
	<-h.session.Done()
	require.False(t, h.session.Info().Running)
}

func TestSessionOpenFailure(t *testing.T) {
	t.Parallel()

	opener := OpenerFunc(func(context.Context, string) (Stream, error) { return nil, errors.New("refused") })
	s, err := NewSession("abc", opener, Options{})
	require.NoError(t, err)
	err = s.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "refused")
}

func TestNewSessionValidates(t *testing.T) {
	t.Parallel()

	_, err := NewSession("", OpenerFunc(nil), Options{})
	require.Error(t, err)
	_, err = NewSession("abc", nil, Options{})
	require.Error(t, err)
}
