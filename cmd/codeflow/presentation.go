package main

import (
	"errors"
	"fmt"
	"log/slog"
)

// SessionState is either Inactive or Active.
type SessionState int

const (
	StateInactive SessionState = iota
	StateActive
)

func (s SessionState) String() string {
	if s == StateActive {
		return "active"
	}
	return "inactive"
}

// View is what presentation sinks render.
type View struct {
	State  SessionState
	Speed  float64
	Volume int
}

// PresentationSink renders session views. Render is called on the daemon
// goroutine and must not block for long.
type PresentationSink interface {
	Render(v View)
	Close() error
}

// statusItem is the editor status bar rendering of a View.
type statusItem struct {
	Text    string `json:"text"`
	Tooltip string `json:"tooltip"`
	Command string `json:"command"`
}

func statusFor(v View) statusItem {
	if v.State != StateActive {
		return statusItem{
			Text:    statusIconDashboard + " " + statusIconMute,
			Tooltip: tooltipStart,
			Command: commandPlay,
		}
	}
	return statusItem{
		Text:    fmt.Sprintf("%s %.1f  %s %d", statusIconDashboard, v.Speed, statusIconUnmute, v.Volume),
		Tooltip: tooltipPause,
		Command: commandPause,
	}
}

// logSink writes each view to the logger.
type logSink struct {
	logger *slog.Logger
}

func (s logSink) Render(v View) {
	s.logger.Info("status", "state", v.State.String(), "text", statusFor(v).Text)
}

func (logSink) Close() error { return nil }

// multiSink fans a view out to several sinks.
type multiSink []PresentationSink

func (m multiSink) Render(v View) {
	for _, s := range m {
		s.Render(v)
	}
}

func (m multiSink) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
