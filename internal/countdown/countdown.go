// Package countdown implements the post-completion expiry timer for a
// finished remix. The controller is driven by its owner: the owner selects on
// C and calls Tick for every delivered tick, so all countdown effects happen
// on the owner's goroutine.
package countdown

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/wubwatch/internal/clock"
)

const (
	// DefaultWindow is how long a finished remix stays downloadable.
	DefaultWindow = 30 * time.Minute
	// DefaultPeriod is the tick period.
	DefaultPeriod = time.Second
)

// Kind separates the two kinds of countdown emissions.
type Kind int

// Countdown emission kinds.
const (
	Remaining Kind = iota
	Expired
)

func (k Kind) String() string {
	switch k {
	case Remaining:
		return "remaining"
	case Expired:
		return "expired"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is emitted once per tick.
type Event struct {
	Kind Kind
	// Left is the remaining time after this tick.
	Left time.Duration
	// Minutes is Left in whole minutes, rounded down.
	Minutes int
}

// Config tunes the countdown. Zero values fall back to the defaults.
type Config struct {
	Window time.Duration
	Period time.Duration
}

// Controller owns the remaining time and the ticker.
type Controller struct {
	clock     clock.Clock
	period    time.Duration
	remaining time.Duration
	ticker    clock.Ticker
	started   bool
	done      bool
}

// New builds an idle controller; nothing ticks until Start.
func New(cfg Config, clk clock.Clock) *Controller {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	return &Controller{
		clock:     clk,
		period:    cfg.Period,
		remaining: cfg.Window,
	}
}

// Start begins ticking. Only the first call has an effect; a stopped or
// expired controller cannot be restarted.
func (c *Controller) Start() bool {
	if c.started || c.done {
		return false
	}
	c.started = true
	c.ticker = c.clock.NewTicker(c.period)
	return true
}

// C returns the tick channel, or nil when the controller is not running so a
// select on it blocks forever.
func (c *Controller) C() <-chan time.Time {
	if !c.Running() {
		return nil
	}
	return c.ticker.C()
}

// Running reports whether ticks are still expected.
func (c *Controller) Running() bool {
	return c.started && !c.done
}

// Remaining returns the time left on the countdown.
func (c *Controller) Remaining() time.Duration {
	return c.remaining
}

// Tick advances the countdown by one period. It reports false when the
// controller is not running. Once the remaining time has reached zero the
// next tick stops the ticker and yields the single Expired event.
func (c *Controller) Tick() (Event, bool) {
	if !c.Running() {
		return Event{}, false
	}
	if c.remaining <= 0 {
		c.Stop()
		return Event{Kind: Expired}, true
	}
	c.remaining -= c.period
	if c.remaining < 0 {
		c.remaining = 0
	}
	return Event{
		Kind:    Remaining,
		Left:    c.remaining,
		Minutes: int(c.remaining / time.Minute),
	}, true
}

// Stop cancels the countdown. It is safe to call repeatedly and before Start.
func (c *Controller) Stop() {
	if c.done {
		return
	}
	c.done = true
	if c.ticker != nil {
		c.ticker.Stop()
	}
}

// Run starts the controller and delivers every event to emit until expiry or
// until ctx ends. It is a convenience for owners with no other event source.
func (c *Controller) Run(ctx context.Context, emit func(Event)) error {
	c.Start()
	defer c.Stop()
	for c.Running() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("countdown canceled: %w", ctx.Err())
		case <-c.C():
			if evt, ok := c.Tick(); ok {
				emit(evt)
			}
		}
	}
	return nil
}
