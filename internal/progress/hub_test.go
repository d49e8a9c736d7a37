package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"
)

// TestHubBatchBySize verifies the hub flushes immediately once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	evt := sampleEvent(StageSessionStart)
	hub.Emit(evt)
	hub.Emit(evt)
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1 && len(sink.Batches()[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies the timer-based flush kicks in when the batch is small.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageSessionStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubBatchDeadlineStartsWithFirstEvent keeps a steady trickle from
// postponing the flush forever.
func TestHubBatchDeadlineStartsWithFirstEvent(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 1000, MaxBatchWait: 50 * time.Millisecond}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	stop := time.After(300 * time.Millisecond)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
loop:
	for {
		select {
		case <-tick.C:
			hub.Emit(sampleEvent(StageSessionStart))
		case <-stop:
			break loop
		}
	}
	require.GreaterOrEqual(t, len(sink.Batches()), 2)
}

// TestHubCoalescesProgress keeps only the newest progress per session run.
func TestHubCoalescesProgress(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 100, MaxBatchWait: time.Minute, CoalesceProgress: true}, sink)

	a := sampleEvent(StageWatchProgress)
	b := sampleEvent(StageWatchProgress)
	b.SessionID = UUIDToBytes(uuid.New())
	emit := func(evt Event, pct float64) {
		evt.Percent = pct
		hub.Emit(evt)
	}
	emit(a, 10)
	emit(b, 5)
	emit(a, 20)
	emit(a, 30)
	done := a
	done.Stage = StageWatchDone
	hub.Emit(done)
	emit(a, 100)

	require.NoError(t, hub.Close(context.Background()))
	batches := sink.Batches()
	require.Len(t, batches, 1)
	got := batches[0]
	require.Len(t, got, 4)
	require.Equal(t, 30.0, got[0].Percent)
	require.Equal(t, b.SessionID, got[1].SessionID)
	require.Equal(t, StageWatchDone, got[2].Stage)
	require.Equal(t, 100.0, got[3].Percent)

	stats := hub.Stats()
	require.Equal(t, int64(6), stats.Accepted)
	require.Equal(t, int64(2), stats.Coalesced)
	require.Equal(t, int64(1), stats.Flushes)
}

// TestHubWithoutCoalescingKeepsEveryEvent forwards progress verbatim.
func TestHubWithoutCoalescingKeepsEveryEvent(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)
	evt := sampleEvent(StageWatchProgress)
	for _, pct := range []float64{1, 2, 3} {
		evt.Percent = pct
		hub.Emit(evt)
	}
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches()[0], 3)
	require.Zero(t, hub.Stats().Coalesced)
}

// TestHubEmitNonBlockingWithoutConsumers asserts Emit never blocks callers, even without sinks.
func TestHubEmitNonBlockingWithoutConsumers(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:    Config{},
		events: make(chan Event),
		logger: zap.NewNop(),
	}
	start := time.Now()
	hub.Emit(sampleEvent(StageSessionStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

// TestHubCountsDroppedEvents records backpressure losses.
func TestHubCountsDroppedEvents(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:    Config{},
		events: make(chan Event),
		logger: zap.NewNop(),
	}
	hub.Emit(sampleEvent(StageChannelOpen))
	hub.Emit(sampleEvent(StageChannelOpen))
	require.Equal(t, int64(2), hub.Dropped())
	require.Equal(t, int64(2), hub.Stats().Dropped)
	require.Zero(t, hub.Stats().Accepted)
}

// TestHubDiscardsInvalidEvents never forwards events that fail validation.
func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 1}, sink)
	bad := sampleEvent(StageWatchProgress)
	bad.Percent = 140
	hub.Emit(bad)
	hub.Emit(Event{TS: time.Now(), Stage: StageSessionStart})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())

	// Emit after Close is ignored.
	hub.Emit(sampleEvent(StageSessionStart))
	require.NoError(t, hub.Close(context.Background()))
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	evt := sampleEvent(StageChannelOpen)
	require.NoError(t, evt.Validate())
	evt.Attempt = 0
	require.Error(t, evt.Validate())

	evt = sampleEvent(StageWatchDone)
	evt.JobID = ""
	require.Error(t, evt.Validate())

	evt = sampleEvent("BOGUS")
	require.Error(t, evt.Validate())

	require.True(t, StageWatchFailed.Terminal())
	require.False(t, StageCountdownExpired.Terminal())
}

// TestHubFlushOnClose ensures Close drains any buffered events before returning.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	evt := sampleEvent(StageSessionStart)
	hub.Emit(evt)

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copyBatch := append([]Event(nil), batch...)
	s.batches = append(s.batches, copyBatch)
	return nil
}

func (s *stubSink) Close(context.Context) error {
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(stage Stage) Event {
	return Event{
		SessionID: UUIDToBytes(uuid.New()),
		JobID:     "abc",
		TS:        time.Now(),
		Stage:     stage,
		Attempt:   1,
	}
}
