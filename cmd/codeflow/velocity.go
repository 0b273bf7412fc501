package main

import "math"

// velocityEstimator turns raw edit activity into a smoothed speed.
//
// Activity accumulates between samples; each sample moves the speed toward
// the per-second rate of the accumulated activity and then clears it.
// The estimator is owned by the daemon goroutine and is not safe for
// concurrent use.
type velocityEstimator struct {
	speed   float64
	pending float64
}

func newVelocityEstimator(floor float64) velocityEstimator {
	return velocityEstimator{speed: floor}
}

// recordActivity adds a non-negative magnitude to the accumulator.
func (v *velocityEstimator) recordActivity(magnitude float64) {
	if magnitude < 0 || math.IsNaN(magnitude) || math.IsInf(magnitude, 0) {
		return
	}
	v.pending += magnitude
}

// sample advances the speed by one interval and resets the accumulator.
// The returned speed never drops below cfg.MinSpeed.
func (v *velocityEstimator) sample(cfg SamplingConfig) float64 {
	interval := cfg.effectiveInterval()
	v.speed += (v.pending - v.speed) / interval
	v.speed = math.Max(v.speed, cfg.MinSpeed)
	v.pending = 0
	return v.speed
}

// reset drops any pending activity and pins the speed to floor.
func (v *velocityEstimator) reset(floor float64) {
	v.speed = floor
	v.pending = 0
}
