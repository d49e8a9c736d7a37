// Package system provides the wall-clock implementation of clock.Clock.
package system

import (
	"time"

	"github.com/JakeFAU/wubwatch/internal/clock"
)

// Clock reads the real time.
type Clock struct{}

// New returns a system clock.
func New() Clock {
	return Clock{}
}

// Now returns time.Now in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// NewTicker wraps time.NewTicker.
func (Clock) NewTicker(d time.Duration) clock.Ticker {
	return &ticker{t: time.NewTicker(d)}
}

type ticker struct {
	t *time.Ticker
}

func (t *ticker) C() <-chan time.Time {
	return t.t.C
}

func (t *ticker) Stop() {
	t.t.Stop()
}
