package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// daemon owns the session, the focus guard and the feeds. Everything they
// do happens on the goroutine running run, so none of them need locks.
type daemon struct {
	session *Session
	guard   *FocusGuard
	edits   *feed[float64]
	focus   *feed[bool]
	logger  *slog.Logger

	running atomic.Bool
}

// daemonDeps are the pieces newDaemon wires together.
type daemonDeps struct {
	Config  ConfigSource
	Device  VolumeDevice
	Sink    PresentationSink
	Clock   clock
	Metrics *Metrics
	Logger  *slog.Logger
}

func newDaemon(ctx context.Context, d daemonDeps) *daemon {
	if d.Logger == nil {
		d.Logger = discardLogger()
	}
	edits := newFeed[float64]()
	focus := newFeed[bool]()
	session := NewSession(SessionDeps{
		Config:   d.Config,
		Device:   d.Device,
		Sink:     d.Sink,
		Activity: edits,
		Clock:    d.Clock,
		Metrics:  d.Metrics,
		Logger:   d.Logger.With("component", "session"),
	})
	guard := NewFocusGuard(ctx, session, focus, d.Config, d.Clock, d.Logger.With("component", "focus"))
	return &daemon{
		session: session,
		guard:   guard,
		edits:   edits,
		focus:   focus,
		logger:  d.Logger,
	}
}

// run is the control loop. It returns when ctx is canceled or events is
// closed, disposing the session on the way out.
func (d *daemon) run(ctx context.Context, events <-chan Event) error {
	d.running.Store(true)
	defer d.running.Store(false)
	defer d.session.Dispose()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("daemon stopping")
			return nil

		case ev, ok := <-events:
			if !ok {
				d.logger.Info("event channel closed, daemon stopping")
				return nil
			}
			d.handleEvent(ctx, ev)

		case <-d.session.tickC():
			d.session.handleTick(ctx)

		case <-d.guard.timerC():
			d.guard.expire()
		}
	}
}

func (d *daemon) handleEvent(ctx context.Context, ev Event) {
	switch ev := ev.(type) {
	case TextChanged:
		d.edits.Publish(ev.Magnitude())
	case EditActivity:
		d.edits.Publish(ev.Magnitude)
	case FocusChanged:
		d.focus.Publish(ev.Focused)
	case RequestStart:
		reason := reasonUser
		if ev.autostart {
			reason = reasonAutostart
		}
		d.session.Start(ctx, reason)
	case RequestStop:
		d.guard.clearAutoPause()
		d.session.Stop(ctx, reasonUser)
	case RequestToggle:
		if d.session.State() == StateActive {
			d.guard.clearAutoPause()
		}
		d.session.Toggle(ctx, reasonUser)
	case RequestStatus:
		if ev.Reply == nil {
			return
		}
		select {
		case ev.Reply <- d.snapshot():
		default:
			d.logger.Warn("status reply channel full, dropping snapshot")
		}
	default:
		d.logger.Warn("unhandled event", "type", fmt.Sprintf("%T", ev))
	}
}

func (d *daemon) snapshot() StateSnapshot {
	v := d.session.View()
	return StateSnapshot{
		State:        v.State.String(),
		Speed:        v.Speed,
		Volume:       v.Volume,
		Focused:      d.guard.Focused(),
		AutoPaused:   d.guard.AutoPaused(),
		GracePending: d.guard.GracePending(),
		Status:       statusFor(v),
		Config:       d.session.sampling(),
	}
}

var errDaemonNotRunning = errors.New("control loop not running")

// readiness reports whether the control loop is accepting events.
func (d *daemon) readiness(context.Context) error {
	if !d.running.Load() {
		return errDaemonNotRunning
	}
	return nil
}
