package main

import "time"

// clock hands out the timers the daemon goroutine selects on.
// Tests substitute a manual implementation.
type clock interface {
	newTicker(d time.Duration) ticker
	newTimer(d time.Duration) timer
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type timer interface {
	C() <-chan time.Time
	Stop() bool
}

type systemClock struct{}

func (systemClock) newTicker(d time.Duration) ticker { return systemTicker{time.NewTicker(d)} }
func (systemClock) newTimer(d time.Duration) timer   { return systemTimer{time.NewTimer(d)} }

type systemTicker struct{ t *time.Ticker }

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }

type systemTimer struct{ t *time.Timer }

func (s systemTimer) C() <-chan time.Time { return s.t.C }
func (s systemTimer) Stop() bool          { return s.t.Stop() }

// secondsToDuration converts a fractional number of seconds to a Duration.
func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
