package main

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
)

// SamplingConfig is the snapshot of control loop settings read at each
// session start and each tick.
type SamplingConfig struct {
	IntervalSeconds        float64 `json:"interval_seconds" validate:"gt=0"`
	MinSpeed               float64 `json:"min_speed" validate:"gte=0"`
	MaxSpeedDomain         float64 `json:"max_speed_domain" validate:"gtfield=MinSpeed"`
	MinVolume              int     `json:"min_volume" validate:"gte=0,lte=100"`
	MaxVolume              int     `json:"max_volume" validate:"gtfield=MinVolume,lte=100"`
	MaxStepFraction        float64 `json:"max_step_fraction" validate:"gt=0,lte=1"`
	BackgroundPauseEnabled bool    `json:"background_pause_enabled"`
	BackgroundPauseMinutes float64 `json:"background_pause_minutes" validate:"gt=0"`
}

// ConfigSource supplies the current SamplingConfig. Implementations may
// change their answer between calls.
type ConfigSource interface {
	Sampling() SamplingConfig
}

// staticConfig is a ConfigSource that never changes.
type staticConfig SamplingConfig

func (s staticConfig) Sampling() SamplingConfig { return SamplingConfig(s) }

// effectiveInterval returns the sampling interval in seconds, floored at one.
func (c SamplingConfig) effectiveInterval() float64 {
	return math.Max(c.IntervalSeconds, minIntervalSeconds)
}

// gracePeriodSeconds returns the background pause grace period in seconds.
func (c SamplingConfig) gracePeriodSeconds() float64 {
	return c.BackgroundPauseMinutes * 60
}

// Normalize repairs out-of-range settings and reports what it repaired.
// The returned config is always usable; a degenerate volume range
// (MaxVolume == MinVolume) is reported but kept, producing a constant volume.
func (c SamplingConfig) Normalize() (SamplingConfig, error) {
	err := validate.Struct(c)
	if err == nil {
		return c, nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return c, fmt.Errorf("validate sampling config: %w", err)
	}

	out := c
	problems := make([]error, 0, len(verrs))
	for _, e := range verrs {
		problems = append(problems, fmt.Errorf("%s %s (got %v)", e.Field(), formatValidationMessage(e), e.Value()))
	}

	// Order matters: volume and speed floors are fixed before the fields
	// that are compared against them.
	out.MinVolume = clampPercent(out.MinVolume)
	out.MaxVolume = clampPercent(out.MaxVolume)
	if out.MaxVolume < out.MinVolume {
		out.MaxVolume = out.MinVolume
	}
	if out.MinSpeed < 0 || math.IsNaN(out.MinSpeed) {
		out.MinSpeed = 0
	}
	if !(out.MaxSpeedDomain > out.MinSpeed) {
		out.MaxSpeedDomain = out.MinSpeed + defaultMaxSpeedDomain
	}
	if !(out.MaxStepFraction > 0 && out.MaxStepFraction <= 1) {
		out.MaxStepFraction = defaultMaxStepFraction
	}
	if !(out.IntervalSeconds > 0) {
		out.IntervalSeconds = minIntervalSeconds
	}
	if !(out.BackgroundPauseMinutes > 0) {
		out.BackgroundPauseMinutes = defaultBackgroundPauseMinutes
	}

	return out, errors.Join(problems...)
}
