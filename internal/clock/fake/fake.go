// Package fake provides a manually advanced clock.Clock for tests.
package fake

import (
	"sync"
	"time"

	"github.com/JakeFAU/wubwatch/internal/clock"
)

// Clock only moves when Advance is called. Tickers created from it fire once
// per elapsed period, delivering on a buffered channel so Advance never blocks
// on a slow reader.
type Clock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*Ticker
}

// New returns a fake clock starting at now.
func New(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// NewTicker registers a ticker with period d.
func (c *Clock) NewTicker(d time.Duration) clock.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &Ticker{
		period: d,
		next:   c.now.Add(d),
		ch:     make(chan time.Time, 4096),
	}
	c.tickers = append(c.tickers, t)
	return t
}

// Advance moves time forward by d, firing any tickers that come due.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	for _, t := range c.tickers {
		t.fire(c.now)
	}
}

// Tickers returns how many tickers were created, stopped or not.
func (c *Clock) Tickers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

// Ticker is a fake clock.Ticker.
type Ticker struct {
	mu      sync.Mutex
	period  time.Duration
	next    time.Time
	ch      chan time.Time
	stopped bool
}

// C returns the tick channel.
func (t *Ticker) C() <-chan time.Time {
	return t.ch
}

// Stop prevents further ticks. Ticks already delivered stay buffered.
func (t *Ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

// Stopped reports whether Stop was called.
func (t *Ticker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *Ticker) fire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for !t.stopped && t.period > 0 && !now.Before(t.next) {
		select {
		case t.ch <- t.next:
		default:
		}
		t.next = t.next.Add(t.period)
	}
}
