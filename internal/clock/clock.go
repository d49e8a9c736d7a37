// Package clock abstracts wall time and periodic tickers so timers can be
// driven deterministically in tests.
package clock

import "time"

// Clock supplies the current time and tickers.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers ticks on C until Stop is called.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}
