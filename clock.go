package opsdeck_streaming

import "time"

// Clock abstracts wall-clock reads and ticker construction. Streams take
// their timestamps and both periodic schedules (flush, rate) from a Clock,
// so tests can drive timer behavior with virtual time.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is the minimal periodic-tick surface a stream needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

type realTicker struct {
	ticker *time.Ticker
}

func (t *realTicker) C() <-chan time.Time { return t.ticker.C }

func (t *realTicker) Stop() { t.ticker.Stop() }
