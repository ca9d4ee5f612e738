package opsdeck_streaming

import (
	"sync"
	"time"
)

// manualClock drives stream timers with virtual time. Tickers never fire on
// their own; tests fire them explicitly.
type manualClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
}

func newManualClock() *manualClock {
	return &manualClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *manualClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTicker{period: d, ch: make(chan time.Time)}
	c.tickers = append(c.tickers, t)
	return t
}

// ticker returns the registered ticker with the given period. Streams
// create the flush ticker with the configured interval and the rate ticker
// with a one-second period, so tests address them by period. The stream's
// run goroutine registers its tickers asynchronously after start, so ticker
// waits briefly for the registration to appear.
func (c *manualClock) ticker(period time.Duration) *manualTicker {
	deadline := time.Now().Add(2 * time.Second)
	for {
		c.mu.Lock()
		for _, t := range c.tickers {
			if t.period == period {
				c.mu.Unlock()
				return t
			}
		}
		c.mu.Unlock()
		if time.Now().After(deadline) {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
}

type manualTicker struct {
	period time.Duration
	ch     chan time.Time
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }

func (t *manualTicker) Stop() {}

// fire delivers one tick. The channel is unbuffered, so fire returns once
// the stream's run loop has picked the tick up.
func (t *manualTicker) fire(at time.Time) {
	t.ch <- at
}
