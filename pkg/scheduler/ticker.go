package scheduler

import "time"

// Ticker delivers tick times. *time.Ticker satisfies it through
// realTicker.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a Ticker for the given interval.
type TickerFactory func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewRealTicker wraps time.NewTicker.
func NewRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// ManualTicker fires only when Tick is called. Tests use it to drive the
// scheduler one tick at a time.
type ManualTicker struct {
	c chan time.Time
}

// NewManualTicker creates a ManualTicker.
func NewManualTicker() *ManualTicker {
	return &ManualTicker{c: make(chan time.Time)}
}

// Tick delivers one tick and blocks until the scheduler loop receives it.
func (m *ManualTicker) Tick() {
	m.c <- time.Now()
}

func (m *ManualTicker) C() <-chan time.Time { return m.c }
func (m *ManualTicker) Stop()               {}

// Factory returns a TickerFactory that always yields m.
func (m *ManualTicker) Factory() TickerFactory {
	return func(time.Duration) Ticker { return m }
}
