package main

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// transitionReason records who asked for a session state change.
type transitionReason string

const (
	reasonUser            transitionReason = "user"
	reasonAutostart       transitionReason = "autostart"
	reasonBackgroundPause transitionReason = "background_pause"
	reasonFocusResume     transitionReason = "focus_resume"
)

// sessionObserver is told about every real state change and about disposal.
type sessionObserver interface {
	sessionChanged(state SessionState, reason transitionReason)
	sessionDisposed()
}

// SessionDeps are the collaborators a Session drives.
type SessionDeps struct {
	Config   ConfigSource
	Device   VolumeDevice
	Sink     PresentationSink
	Activity ActivitySource
	Clock    clock
	Metrics  *Metrics
	Logger   *slog.Logger
}

// Session is the activity session: while Active it samples edit activity
// on a fixed interval and drives the output volume from the smoothed speed.
//
// A Session belongs to the daemon goroutine. None of its methods are safe
// for concurrent use, and none of them return errors: device failures are
// logged and the loop keeps going.
type Session struct {
	cfg      ConfigSource
	device   VolumeDevice
	sink     PresentationSink
	activity ActivitySource
	clock    clock
	metrics  *Metrics
	logger   *slog.Logger

	state     SessionState
	estimator velocityEstimator
	volume    int

	ticker       ticker
	tickInterval float64
	sub          Subscription

	observers         []sessionObserver
	unsupportedLogged bool
	lastConfigProblem string
	disposed          bool
}

// NewSession returns an Inactive session. Nothing is rendered and the
// device is not touched until Start.
func NewSession(d SessionDeps) *Session {
	s := &Session{
		cfg:      d.Config,
		device:   d.Device,
		sink:     d.Sink,
		activity: d.Activity,
		clock:    d.Clock,
		metrics:  d.Metrics,
		logger:   d.Logger,
	}
	if s.clock == nil {
		s.clock = systemClock{}
	}
	if s.metrics == nil {
		s.metrics = noopMetrics()
	}
	if s.logger == nil {
		s.logger = discardLogger()
	}
	if s.device == nil {
		s.device = nullDevice{}
	}
	if s.sink == nil {
		s.sink = multiSink{}
	}
	if s.activity == nil {
		s.activity = newFeed[float64]()
	}
	cfg := s.sampling()
	s.estimator = newVelocityEstimator(cfg.MinSpeed)
	return s
}

func (s *Session) State() SessionState { return s.state }
func (s *Session) Speed() float64      { return s.estimator.speed }
func (s *Session) Volume() int         { return s.volume }

// View returns what the sinks were last asked to render.
func (s *Session) View() View {
	return View{State: s.state, Speed: s.estimator.speed, Volume: s.volume}
}

// Start moves an Inactive session to Active: it attaches to edit activity,
// reads the current device volume as the slew baseline and starts the
// sampling ticker. Starting an Active session does nothing.
func (s *Session) Start(ctx context.Context, reason transitionReason) {
	if s.disposed || s.state == StateActive {
		return
	}
	cfg := s.sampling()

	s.state = StateActive
	s.estimator.reset(cfg.MinSpeed)
	s.sub = s.activity.Subscribe(s.estimator.recordActivity)

	v, err := s.device.GetVolume(ctx)
	if err != nil {
		s.deviceFailed(ctx, "get", err)
		v = 0
	}
	s.volume = v

	s.tickInterval = cfg.effectiveInterval()
	s.ticker = s.clock.newTicker(secondsToDuration(s.tickInterval))

	s.logger.Info("session started", "reason", reason, "volume", s.volume, "interval_sec", s.tickInterval)
	s.sink.Render(s.View())
	s.transitioned(ctx, reason)
}

// Stop moves an Active session to Inactive. When Stop returns no tick is
// pending and later activity is ignored. The device volume is left where
// it is. Stopping an Inactive session does nothing.
func (s *Session) Stop(ctx context.Context, reason transitionReason) {
	if s.disposed || s.state != StateActive {
		return
	}
	s.halt()
	s.logger.Info("session stopped", "reason", reason)
	s.sink.Render(s.View())
	s.transitioned(ctx, reason)
}

// Toggle starts an Inactive session or stops an Active one.
func (s *Session) Toggle(ctx context.Context, reason transitionReason) {
	if s.state == StateActive {
		s.Stop(ctx, reason)
		return
	}
	s.Start(ctx, reason)
}

// tickC is the channel the daemon selects on; nil while Inactive.
func (s *Session) tickC() <-chan time.Time {
	if s.ticker == nil {
		return nil
	}
	return s.ticker.C()
}

// handleTick runs one sampling step: advance the speed, map it to a
// volume, write it to the device and render.
func (s *Session) handleTick(ctx context.Context) {
	if s.state != StateActive {
		return
	}
	began := time.Now()
	cfg := s.sampling()

	speed := s.estimator.sample(cfg)
	volume := volumeFromSpeed(speed, s.volume, cfg)
	s.volume = volume

	if err := s.device.SetVolume(ctx, volume); err != nil {
		s.deviceFailed(ctx, "set", err)
	}
	s.sink.Render(s.View())

	s.logger.Debug("tick", "speed", speed, "volume", volume)
	s.metrics.recordTick(ctx, speed, volume, time.Since(began))

	// Live config change of the interval
	if iv := cfg.effectiveInterval(); iv != s.tickInterval {
		s.ticker.Stop()
		s.tickInterval = iv
		s.ticker = s.clock.newTicker(secondsToDuration(iv))
	}
}

// Dispose releases everything the session holds. The session cannot be
// restarted afterwards.
func (s *Session) Dispose() {
	if s.disposed {
		return
	}
	if s.state == StateActive {
		s.halt()
	}
	s.disposed = true
	for _, o := range s.observers {
		o.sessionDisposed()
	}
	s.observers = nil
	if err := s.sink.Close(); err != nil {
		s.logger.Warn("closing presentation failed", "error", err)
	}
}

func (s *Session) observe(o sessionObserver) {
	s.observers = append(s.observers, o)
}

// halt tears down the Active resources and pins the speed to its floor.
func (s *Session) halt() {
	s.state = StateInactive
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	if s.sub != nil {
		s.sub.Dispose()
		s.sub = nil
	}
	cfg := s.sampling()
	s.estimator.reset(cfg.MinSpeed)
}

func (s *Session) transitioned(ctx context.Context, reason transitionReason) {
	s.metrics.recordTransition(ctx, s.state, reason)
	for _, o := range s.observers {
		o.sessionChanged(s.state, reason)
	}
}

// sampling reads and repairs the current config, logging each distinct
// set of problems once.
func (s *Session) sampling() SamplingConfig {
	var raw SamplingConfig
	if s.cfg != nil {
		raw = s.cfg.Sampling()
	} else {
		cfg := DefaultConfig()
		raw = cfg.Sampling()
	}
	cfg, err := raw.Normalize()
	if err == nil {
		s.lastConfigProblem = ""
		return cfg
	}
	if msg := err.Error(); msg != s.lastConfigProblem {
		s.lastConfigProblem = msg
		s.logger.Warn("invalid configuration, using repaired values", "error", err)
	}
	return cfg
}

func (s *Session) deviceFailed(ctx context.Context, op string, err error) {
	if errors.Is(err, ErrUnsupportedPlatform) {
		if !s.unsupportedLogged {
			s.unsupportedLogged = true
			s.logger.Warn("system volume control unavailable, continuing without it", "error", err)
		}
		return
	}
	s.metrics.recordDeviceError(ctx, op)
	s.logger.Warn("volume device call failed", "op", op, "error", err)
}
