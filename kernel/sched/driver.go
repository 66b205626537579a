package sched

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// TickDriver feeds Scheduler.Tick from a wall-clock ticker. The scheduler
// itself is time-source agnostic; this is the default source for hosts that
// want a periodic tick without wiring their own.
//
// The clock is injectable so tests can drive ticks deterministically with a
// mock.
type TickDriver struct {
	s      *Scheduler
	clk    clock.Clock
	period time.Duration

	mu     sync.Mutex
	ticker *clock.Ticker
	done   chan struct{}
}

// NewTickDriver creates a driver with the given tick period, using the real
// clock.
func NewTickDriver(s *Scheduler, period time.Duration) *TickDriver {
	return NewTickDriverClock(s, period, clock.New())
}

// NewTickDriverClock creates a driver on an explicit clock.
func NewTickDriverClock(s *Scheduler, period time.Duration, clk clock.Clock) *TickDriver {
	return &TickDriver{s: s, clk: clk, period: period}
}

// Run starts delivering ticks until Stop is called.
func (d *TickDriver) Run() {
	d.mu.Lock()
	if d.ticker != nil {
		d.mu.Unlock()
		return
	}
	d.ticker = d.clk.Ticker(d.period)
	d.done = make(chan struct{})
	ticker, done := d.ticker, d.done
	d.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				d.s.Tick()
			case <-done:
				return
			}
		}
	}()
}

// Stop halts tick delivery.
func (d *TickDriver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ticker == nil {
		return
	}
	d.ticker.Stop()
	close(d.done)
	d.ticker = nil
	d.done = nil
}
