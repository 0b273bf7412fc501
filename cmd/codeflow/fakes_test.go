package main

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// fakeClock hands out tickers and timers that only fire when told to.
type fakeClock struct {
	mu      sync.Mutex
	tickers []*fakeTicker
	timers  []*fakeTimer
}

func (c *fakeClock) newTicker(d time.Duration) ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{d: d, c: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *fakeClock) newTimer(d time.Duration) timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, c: make(chan time.Time, 1)}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) lastTicker() *fakeTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tickers) == 0 {
		return nil
	}
	return c.tickers[len(c.tickers)-1]
}

func (c *fakeClock) lastTimer() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		return nil
	}
	return c.timers[len(c.timers)-1]
}

type fakeTicker struct {
	mu      sync.Mutex
	d       time.Duration
	c       chan time.Time
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *fakeTicker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// fire delivers a tick unless the ticker is stopped; like time.Ticker it
// drops the tick when one is already buffered.
func (t *fakeTicker) fire() {
	if t.isStopped() {
		return
	}
	select {
	case t.c <- time.Now():
	default:
	}
}

type fakeTimer struct {
	mu      sync.Mutex
	d       time.Duration
	c       chan time.Time
	stopped bool
	fired   bool
}

func (t *fakeTimer) C() <-chan time.Time { return t.c }

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (t *fakeTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *fakeTimer) fire() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return
	}
	t.fired = true
	t.c <- time.Now()
}

// fakeDevice records volume calls.
type fakeDevice struct {
	mu     sync.Mutex
	volume int
	getErr error
	setErr error
	gets   int
	sets   []int
}

func (d *fakeDevice) GetVolume(context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gets++
	if d.getErr != nil {
		return 0, d.getErr
	}
	return d.volume, nil
}

func (d *fakeDevice) SetVolume(_ context.Context, v int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sets = append(d.sets, v)
	if d.setErr != nil {
		return d.setErr
	}
	d.volume = v
	return nil
}

func (d *fakeDevice) getCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gets
}

func (d *fakeDevice) setCalls() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.sets...)
}

// recordingSink keeps every rendered view.
type recordingSink struct {
	mu     sync.Mutex
	views  []View
	closed bool
}

func (s *recordingSink) Render(v View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views = append(s.views, v)
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) last() (View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.views) == 0 {
		return View{}, false
	}
	return s.views[len(s.views)-1], true
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.views)
}

// mutableConfig is a ConfigSource tests can change between calls.
type mutableConfig struct {
	mu  sync.Mutex
	cfg SamplingConfig
}

func (m *mutableConfig) Sampling() SamplingConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

func (m *mutableConfig) set(fn func(*SamplingConfig)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.cfg)
}

func testSampling() SamplingConfig {
	return SamplingConfig{
		IntervalSeconds:        5,
		MinSpeed:               0,
		MaxSpeedDomain:         15,
		MinVolume:              5,
		MaxVolume:              25,
		MaxStepFraction:        0.2,
		BackgroundPauseEnabled: true,
		BackgroundPauseMinutes: 5,
	}
}

// syncBuffer is a goroutine-safe log destination.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// waitUntil polls cond until it is true or the timeout expires.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}
