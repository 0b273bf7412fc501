package main

import "math"

// volumeFromSpeed maps a smoothed typing speed onto an integer output volume.
//
// The curve interpolates linearly in the log domain between minVolume (at
// MinSpeed) and maxVolume (at MaxSpeedDomain), so perceived loudness grows
// evenly with speed. Speeds beyond the domain extrapolate, but the result is
// always clamped to MaxVolume.
//
// Upward movement is slew limited: a single call may not exceed the prior
// volume by more than MaxStepFraction of the configured volume range.
// Downward movement is not limited.
func volumeFromSpeed(speed float64, prior int, cfg SamplingConfig) int {
	if cfg.MinVolume == cfg.MaxVolume {
		return cfg.MaxVolume
	}

	// log(0) is -Inf; 0 is used as the floor instead
	minV := logOrZero(cfg.MinVolume)
	maxV := logOrZero(cfg.MaxVolume)

	domain := cfg.MaxSpeedDomain - cfg.MinSpeed
	if domain <= 0 {
		domain = defaultMaxSpeedDomain
	}
	scale := (maxV - minV) / domain

	scaled := math.Round(math.Exp(minV + scale*(speed-cfg.MinSpeed)))

	volumeRange := float64(cfg.MaxVolume - cfg.MinVolume)
	ceiling := math.Round(float64(prior) + volumeRange*cfg.MaxStepFraction)

	v := math.Min(scaled, ceiling)
	v = math.Min(v, float64(cfg.MaxVolume))
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return int(v)
}

// slewCeiling returns the highest volume volumeFromSpeed may produce for the
// given prior volume.
func slewCeiling(prior int, cfg SamplingConfig) int {
	return int(math.Round(float64(prior) + float64(cfg.MaxVolume-cfg.MinVolume)*cfg.MaxStepFraction))
}

func logOrZero(v int) float64 {
	if v <= 0 {
		return 0
	}
	return math.Log(float64(v))
}
