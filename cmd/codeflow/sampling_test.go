package main

import (
	"strings"
	"testing"
)

func TestSamplingConfig_NormalizeValid(t *testing.T) {
	cfg := testSampling()
	got, err := cfg.Normalize()
	if err != nil {
		t.Fatalf("Normalize: unexpected error %v", err)
	}
	if got != cfg {
		t.Fatalf("Normalize changed a valid config: %+v", got)
	}
}

func TestSamplingConfig_NormalizeRepairs(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*SamplingConfig)
		check   func(t *testing.T, c SamplingConfig)
		problem string
		// a degenerate volume range stays reported after repair
		degenerate bool
	}{
		{
			name:   "negative min volume",
			mutate: func(c *SamplingConfig) { c.MinVolume = -4 },
			check: func(t *testing.T, c SamplingConfig) {
				if c.MinVolume != 0 {
					t.Errorf("MinVolume = %d, want 0", c.MinVolume)
				}
			},
			problem: "min_volume",
		},
		{
			name:   "max below min",
			mutate: func(c *SamplingConfig) { c.MinVolume, c.MaxVolume = 40, 20 },
			check: func(t *testing.T, c SamplingConfig) {
				if c.MaxVolume != 40 {
					t.Errorf("MaxVolume = %d, want 40", c.MaxVolume)
				}
			},
			problem:    "max_volume",
			degenerate: true,
		},
		{
			name:   "equal volumes reported but kept",
			mutate: func(c *SamplingConfig) { c.MinVolume, c.MaxVolume = 30, 30 },
			check: func(t *testing.T, c SamplingConfig) {
				if c.MinVolume != 30 || c.MaxVolume != 30 {
					t.Errorf("volumes = %d..%d, want 30..30", c.MinVolume, c.MaxVolume)
				}
			},
			problem:    "max_volume",
			degenerate: true,
		},
		{
			name:   "max volume above 100",
			mutate: func(c *SamplingConfig) { c.MaxVolume = 150 },
			check: func(t *testing.T, c SamplingConfig) {
				if c.MaxVolume != 100 {
					t.Errorf("MaxVolume = %d, want 100", c.MaxVolume)
				}
			},
			problem: "max_volume",
		},
		{
			name:   "both volumes above 100",
			mutate: func(c *SamplingConfig) { c.MinVolume, c.MaxVolume = 120, 150 },
			check: func(t *testing.T, c SamplingConfig) {
				if c.MinVolume != 100 || c.MaxVolume != 100 {
					t.Errorf("volumes = %d..%d, want 100..100", c.MinVolume, c.MaxVolume)
				}
			},
			problem:    "min_volume",
			degenerate: true,
		},
		{
			name:   "step fraction out of range",
			mutate: func(c *SamplingConfig) { c.MaxStepFraction = 1.5 },
			check: func(t *testing.T, c SamplingConfig) {
				if c.MaxStepFraction != defaultMaxStepFraction {
					t.Errorf("MaxStepFraction = %v, want %v", c.MaxStepFraction, defaultMaxStepFraction)
				}
			},
			problem: "max_step_fraction",
		},
		{
			name:   "zero step fraction",
			mutate: func(c *SamplingConfig) { c.MaxStepFraction = 0 },
			check: func(t *testing.T, c SamplingConfig) {
				if c.MaxStepFraction != defaultMaxStepFraction {
					t.Errorf("MaxStepFraction = %v, want %v", c.MaxStepFraction, defaultMaxStepFraction)
				}
			},
			problem: "max_step_fraction",
		},
		{
			name:   "speed domain not above floor",
			mutate: func(c *SamplingConfig) { c.MinSpeed, c.MaxSpeedDomain = 4, 4 },
			check: func(t *testing.T, c SamplingConfig) {
				if c.MaxSpeedDomain != 4+defaultMaxSpeedDomain {
					t.Errorf("MaxSpeedDomain = %v, want %v", c.MaxSpeedDomain, 4+defaultMaxSpeedDomain)
				}
			},
			problem: "max_speed_domain",
		},
		{
			name:   "negative speed floor",
			mutate: func(c *SamplingConfig) { c.MinSpeed = -1 },
			check: func(t *testing.T, c SamplingConfig) {
				if c.MinSpeed != 0 {
					t.Errorf("MinSpeed = %v, want 0", c.MinSpeed)
				}
			},
			problem: "min_speed",
		},
		{
			name:   "zero interval",
			mutate: func(c *SamplingConfig) { c.IntervalSeconds = 0 },
			check: func(t *testing.T, c SamplingConfig) {
				if c.effectiveInterval() != 1 {
					t.Errorf("effective interval = %v, want 1", c.effectiveInterval())
				}
			},
			problem: "interval_seconds",
		},
		{
			name:   "non-positive grace period",
			mutate: func(c *SamplingConfig) { c.BackgroundPauseMinutes = -2 },
			check: func(t *testing.T, c SamplingConfig) {
				if c.BackgroundPauseMinutes != defaultBackgroundPauseMinutes {
					t.Errorf("BackgroundPauseMinutes = %v, want %v", c.BackgroundPauseMinutes, defaultBackgroundPauseMinutes)
				}
			},
			problem: "background_pause_minutes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testSampling()
			tt.mutate(&cfg)
			got, err := cfg.Normalize()
			if err == nil {
				t.Fatal("Normalize: expected a problem report")
			}
			if !strings.Contains(err.Error(), tt.problem) {
				t.Errorf("problem %q does not mention %q", err.Error(), tt.problem)
			}
			tt.check(t, got)
			if _, err := got.Normalize(); err != nil && !tt.degenerate {
				t.Errorf("repaired config still invalid: %v", err)
			}
		})
	}
}

func TestSamplingConfig_EffectiveIntervalFloor(t *testing.T) {
	cfg := testSampling()
	for _, tc := range []struct{ in, want float64 }{{0.2, 1}, {1, 1}, {2.5, 2.5}} {
		cfg.IntervalSeconds = tc.in
		if got := cfg.effectiveInterval(); got != tc.want {
			t.Errorf("effectiveInterval(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
