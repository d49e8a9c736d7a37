package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wubwatch/internal/clock"
)

var _ clock.Clock = Clock{}

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	got := New().Now()
	require.Equal(t, time.UTC, got.Location())
	require.WithinRange(t, got, before, time.Now().Add(time.Second))
}

// TestTickerFiresAndStops drives the countdown's real ticker briefly.
func TestTickerFiresAndStops(t *testing.T) {
	t.Parallel()

	tk := New().NewTicker(5 * time.Millisecond)
	select {
	case <-tk.C():
	case <-time.After(2 * time.Second):
		t.Fatal("ticker never fired")
	}
	tk.Stop()
	select {
	case <-tk.C():
		// At most one tick may already be buffered.
	default:
	}
	select {
	case <-tk.C():
		t.Fatal("ticker fired after Stop")
	case <-time.After(30 * time.Millisecond):
	}
}
