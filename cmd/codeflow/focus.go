package main

import (
	"context"
	"log/slog"
	"time"
)

// guardedSession is the part of Session the focus guard drives.
type guardedSession interface {
	State() SessionState
	Start(ctx context.Context, reason transitionReason)
	Stop(ctx context.Context, reason transitionReason)
	observe(o sessionObserver)
}

// FocusGuard pauses an Active session after the editor window has been in
// the background for the grace period, and resumes it when focus returns,
// but only if it was the guard that paused it.
type FocusGuard struct {
	ctx     context.Context
	session guardedSession
	cfg     ConfigSource
	clock   clock
	logger  *slog.Logger

	sub        Subscription
	timer      timer
	focused    bool
	autoPaused bool
	disposed   bool
}

// NewFocusGuard attaches to focus and to session state. ctx bounds the
// device calls made when the guard starts the session.
func NewFocusGuard(ctx context.Context, session guardedSession, focus FocusSource, cfg ConfigSource, clk clock, logger *slog.Logger) *FocusGuard {
	if clk == nil {
		clk = systemClock{}
	}
	if logger == nil {
		logger = discardLogger()
	}
	g := &FocusGuard{
		ctx:     ctx,
		session: session,
		cfg:     cfg,
		clock:   clk,
		logger:  logger,
		focused: true,
	}
	g.sub = focus.Subscribe(g.focusChanged)
	session.observe(g)
	return g
}

func (g *FocusGuard) Focused() bool      { return g.focused }
func (g *FocusGuard) AutoPaused() bool   { return g.autoPaused }
func (g *FocusGuard) GracePending() bool { return g.timer != nil }

// timerC is the grace deadline channel; nil when no deadline is pending.
func (g *FocusGuard) timerC() <-chan time.Time {
	if g.timer == nil {
		return nil
	}
	return g.timer.C()
}

func (g *FocusGuard) focusChanged(focused bool) {
	if g.disposed {
		return
	}
	g.focused = focused

	if !focused {
		cfg := g.sampling()
		if !cfg.BackgroundPauseEnabled || g.session.State() != StateActive {
			return
		}
		// The deadline counts from the first loss of focus
		if g.timer != nil {
			return
		}
		grace := secondsToDuration(cfg.gracePeriodSeconds())
		g.timer = g.clock.newTimer(grace)
		g.logger.Debug("focus lost, background pause armed", "grace", grace)
		return
	}

	if !g.sampling().BackgroundPauseEnabled {
		// A pause left over from before the feature was disabled is forgotten
		g.clearAutoPause()
		return
	}
	if g.timer != nil {
		g.cancelTimer()
		g.logger.Debug("focus regained within grace period")
		return
	}
	if g.autoPaused && g.session.State() == StateInactive {
		g.autoPaused = false
		g.logger.Info("focus regained, resuming session")
		g.session.Start(g.ctx, reasonFocusResume)
	}
}

// expire is called by the daemon when the grace deadline fires.
func (g *FocusGuard) expire() {
	if g.timer == nil || g.disposed {
		return
	}
	g.timer = nil

	cfg := g.sampling()
	if !cfg.BackgroundPauseEnabled || g.focused || g.session.State() != StateActive {
		return
	}
	g.autoPaused = true
	g.logger.Info("editor in background, pausing session", "grace_minutes", cfg.BackgroundPauseMinutes)
	g.session.Stop(g.ctx, reasonBackgroundPause)
}

// clearAutoPause forgets a background pause. An explicit stop always wins
// over a later refocus.
func (g *FocusGuard) clearAutoPause() {
	g.autoPaused = false
	g.cancelTimer()
}

func (g *FocusGuard) sessionChanged(_ SessionState, reason transitionReason) {
	if reason == reasonBackgroundPause || reason == reasonFocusResume {
		return
	}
	g.clearAutoPause()
}

func (g *FocusGuard) sessionDisposed() { g.Dispose() }

// Dispose cancels any pending deadline and detaches from focus.
func (g *FocusGuard) Dispose() {
	if g.disposed {
		return
	}
	g.disposed = true
	g.cancelTimer()
	g.sub.Dispose()
}

func (g *FocusGuard) cancelTimer() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

func (g *FocusGuard) sampling() SamplingConfig {
	if g.cfg == nil {
		cfg := DefaultConfig()
		out, _ := cfg.Sampling().Normalize()
		return out
	}
	out, _ := g.cfg.Sampling().Normalize()
	return out
}
