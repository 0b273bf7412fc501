package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type sessionHarness struct {
	session *Session
	device  *fakeDevice
	sink    *recordingSink
	edits   *feed[float64]
	clock   *fakeClock
	cfg     *mutableConfig
	logs    *syncBuffer
}

func newSessionHarness(t *testing.T, initialVolume int) *sessionHarness {
	t.Helper()
	logger, logs := newTestLogger()
	h := &sessionHarness{
		device: &fakeDevice{volume: initialVolume},
		sink:   &recordingSink{},
		edits:  newFeed[float64](),
		clock:  &fakeClock{},
		cfg:    &mutableConfig{cfg: testSampling()},
		logs:   logs,
	}
	h.session = NewSession(SessionDeps{
		Config:   h.cfg,
		Device:   h.device,
		Sink:     h.sink,
		Activity: h.edits,
		Clock:    h.clock,
		Logger:   logger,
	})
	return h
}

func TestSession_StartsInactive(t *testing.T) {
	h := newSessionHarness(t, 10)
	if h.session.State() != StateInactive {
		t.Fatalf("state = %v, want inactive", h.session.State())
	}
	if h.session.tickC() != nil {
		t.Fatal("inactive session must not expose a tick channel")
	}
	if h.device.getCount() != 0 || h.sink.count() != 0 {
		t.Fatal("construction must not touch device or sink")
	}
}

func TestSession_Start(t *testing.T) {
	h := newSessionHarness(t, 10)
	ctx := context.Background()

	h.session.Start(ctx, reasonUser)

	if h.session.State() != StateActive {
		t.Fatalf("state = %v, want active", h.session.State())
	}
	if h.session.Volume() != 10 {
		t.Fatalf("volume = %d, want baseline 10 from device", h.session.Volume())
	}
	tk := h.clock.lastTicker()
	if tk == nil || tk.d != 5*time.Second {
		t.Fatalf("ticker = %+v, want 5s ticker", tk)
	}
	if h.edits.Len() != 1 {
		t.Fatalf("edit subscribers = %d, want 1", h.edits.Len())
	}
	v, ok := h.sink.last()
	if !ok || v.State != StateActive || v.Volume != 10 {
		t.Fatalf("last view = %+v, want active with volume 10", v)
	}

	// Second start is a no-op
	h.session.Start(ctx, reasonUser)
	if h.device.getCount() != 1 {
		t.Fatalf("device reads = %d, want 1", h.device.getCount())
	}
	if len(h.clock.tickers) != 1 {
		t.Fatalf("tickers = %d, want 1", len(h.clock.tickers))
	}
}

func TestSession_TickDrivesVolume(t *testing.T) {
	h := newSessionHarness(t, 10)
	ctx := context.Background()
	h.cfg.set(func(c *SamplingConfig) { c.IntervalSeconds = 1 })

	h.session.Start(ctx, reasonUser)
	h.edits.Publish(2)
	h.edits.Publish(1)
	h.session.handleTick(ctx)

	if got := h.session.Speed(); got != 3 {
		t.Fatalf("speed = %v, want 3", got)
	}
	if got := h.device.setCalls(); len(got) != 1 || got[0] != 7 {
		t.Fatalf("device sets = %v, want [7]", got)
	}
	if h.session.Volume() != 7 {
		t.Fatalf("volume = %d, want 7", h.session.Volume())
	}
	v, _ := h.sink.last()
	if v.Speed != 3 || v.Volume != 7 || v.State != StateActive {
		t.Fatalf("last view = %+v", v)
	}
}

func TestSession_TickSlewLimited(t *testing.T) {
	h := newSessionHarness(t, 10)
	ctx := context.Background()
	h.cfg.set(func(c *SamplingConfig) { c.IntervalSeconds = 1 })

	h.session.Start(ctx, reasonUser)
	h.edits.Publish(100)
	h.session.handleTick(ctx)
	if h.session.Volume() != 14 {
		t.Fatalf("volume = %d, want 14 (10 + 20%% of 20)", h.session.Volume())
	}
	h.edits.Publish(100)
	h.session.handleTick(ctx)
	if h.session.Volume() != 18 {
		t.Fatalf("volume = %d, want 18", h.session.Volume())
	}
}

func TestSession_Stop(t *testing.T) {
	h := newSessionHarness(t, 10)
	ctx := context.Background()
	h.session.Start(ctx, reasonUser)
	h.edits.Publish(50)
	tk := h.clock.lastTicker()

	h.session.Stop(ctx, reasonUser)

	if h.session.State() != StateInactive {
		t.Fatalf("state = %v, want inactive", h.session.State())
	}
	if !tk.isStopped() {
		t.Fatal("ticker not stopped")
	}
	if h.session.tickC() != nil {
		t.Fatal("tick channel still exposed after stop")
	}
	if h.edits.Len() != 0 {
		t.Fatalf("edit subscribers = %d, want 0", h.edits.Len())
	}
	if h.session.Speed() != 0 {
		t.Fatalf("speed = %v, want floor 0", h.session.Speed())
	}
	v, _ := h.sink.last()
	if v.State != StateInactive {
		t.Fatalf("last view = %+v, want inactive", v)
	}

	// Activity and a stray tick after stop change nothing
	h.edits.Publish(10)
	h.session.handleTick(ctx)
	if len(h.device.setCalls()) != 0 {
		t.Fatalf("device written after stop: %v", h.device.setCalls())
	}
	if h.session.Speed() != 0 {
		t.Fatalf("speed = %v after stop", h.session.Speed())
	}

	// Stop is idempotent
	n := h.sink.count()
	h.session.Stop(ctx, reasonUser)
	if h.sink.count() != n {
		t.Fatal("second stop rendered again")
	}
}

func TestSession_RestartDropsPendingActivity(t *testing.T) {
	h := newSessionHarness(t, 10)
	ctx := context.Background()
	h.cfg.set(func(c *SamplingConfig) { c.IntervalSeconds = 1 })

	h.session.Start(ctx, reasonUser)
	h.edits.Publish(40)
	h.session.Stop(ctx, reasonUser)
	h.session.Start(ctx, reasonUser)
	h.session.handleTick(ctx)

	if h.session.Speed() != 0 {
		t.Fatalf("speed = %v, want 0", h.session.Speed())
	}
}

func TestSession_Toggle(t *testing.T) {
	h := newSessionHarness(t, 10)
	ctx := context.Background()
	h.session.Toggle(ctx, reasonUser)
	if h.session.State() != StateActive {
		t.Fatal("toggle from inactive should start")
	}
	h.session.Toggle(ctx, reasonUser)
	if h.session.State() != StateInactive {
		t.Fatal("toggle from active should stop")
	}
}

func TestSession_DeviceReadFailure(t *testing.T) {
	h := newSessionHarness(t, 10)
	h.device.getErr = errors.New("mixer busy")

	h.session.Start(context.Background(), reasonUser)

	if h.session.State() != StateActive {
		t.Fatal("session must start despite device failure")
	}
	if h.session.Volume() != 0 {
		t.Fatalf("volume = %d, want 0 after failed read", h.session.Volume())
	}
	if !strings.Contains(h.logs.String(), "mixer busy") {
		t.Fatal("device failure not logged")
	}
}

func TestSession_DeviceWriteFailureKeepsRunning(t *testing.T) {
	h := newSessionHarness(t, 10)
	ctx := context.Background()
	h.device.setErr = errors.New("write failed")
	h.cfg.set(func(c *SamplingConfig) { c.IntervalSeconds = 1 })

	h.session.Start(ctx, reasonUser)
	h.edits.Publish(3)
	h.session.handleTick(ctx)
	if h.session.Volume() != 7 {
		t.Fatalf("volume = %d, want 7 even though the write failed", h.session.Volume())
	}
	h.session.handleTick(ctx)

	if h.session.State() != StateActive {
		t.Fatal("session stopped after write failure")
	}
	if len(h.device.setCalls()) != 2 {
		t.Fatalf("device sets = %v, want 2 attempts", h.device.setCalls())
	}
}

func TestSession_UnsupportedPlatformLoggedOnce(t *testing.T) {
	h := newSessionHarness(t, 0)
	ctx := context.Background()
	h.device.getErr = ErrUnsupportedPlatform
	h.device.setErr = ErrUnsupportedPlatform

	h.session.Start(ctx, reasonUser)
	for i := 0; i < 3; i++ {
		h.session.handleTick(ctx)
	}
	h.session.Stop(ctx, reasonUser)
	h.session.Start(ctx, reasonUser)

	if n := strings.Count(h.logs.String(), "system volume control unavailable"); n != 1 {
		t.Fatalf("unsupported platform logged %d times, want 1", n)
	}
}

func TestSession_InvalidConfigRepairedAndLogged(t *testing.T) {
	h := newSessionHarness(t, 10)
	h.cfg.set(func(c *SamplingConfig) {
		c.MinVolume, c.MaxVolume = 30, 10
		c.IntervalSeconds = -3
	})

	h.session.Start(context.Background(), reasonUser)

	if h.session.State() != StateActive {
		t.Fatal("session must start with repaired config")
	}
	if tk := h.clock.lastTicker(); tk.d != time.Second {
		t.Fatalf("ticker period = %v, want 1s", tk.d)
	}
	if !strings.Contains(h.logs.String(), "invalid configuration") {
		t.Fatal("config problem not logged")
	}
	h.session.handleTick(context.Background())
	if got := h.device.setCalls(); len(got) != 1 || got[0] != 30 {
		t.Fatalf("device sets = %v, want [30] for degenerate range", got)
	}
}

func TestSession_LiveIntervalChange(t *testing.T) {
	h := newSessionHarness(t, 10)
	ctx := context.Background()
	h.session.Start(ctx, reasonUser)
	first := h.clock.lastTicker()

	h.cfg.set(func(c *SamplingConfig) { c.IntervalSeconds = 2 })
	h.session.handleTick(ctx)

	second := h.clock.lastTicker()
	if second == first || second.d != 2*time.Second {
		t.Fatalf("ticker not replaced with 2s period: %+v", second)
	}
	if !first.isStopped() {
		t.Fatal("old ticker not stopped")
	}
}

func TestSession_Dispose(t *testing.T) {
	h := newSessionHarness(t, 10)
	ctx := context.Background()
	h.session.Start(ctx, reasonUser)
	tk := h.clock.lastTicker()

	h.session.Dispose()

	if !tk.isStopped() {
		t.Fatal("ticker not stopped on dispose")
	}
	if h.edits.Len() != 0 {
		t.Fatal("activity subscription survived dispose")
	}
	if !h.sink.closed {
		t.Fatal("sink not closed on dispose")
	}
	h.session.Start(ctx, reasonUser)
	if h.session.State() != StateInactive {
		t.Fatal("disposed session restarted")
	}
	h.session.Dispose()
}
