package main

import "time"

const appName = "codeflow"

// Control loop defaults
const (
	defaultMinVolume       = 10
	defaultMaxVolume       = 60
	defaultIntervalSeconds = 5.0 // Sampling interval (seconds)
	minIntervalSeconds     = 1.0 // Intervals below this are floored
	defaultMinSpeed        = 0.0
	defaultMaxSpeedDomain  = 15.0 // Speed at which the curve reaches maxVolume
	defaultMaxStepFraction = 0.2  // Max upward step per tick, as a fraction of the volume range

	defaultBackgroundPauseEnabled = true
	defaultBackgroundPauseMinutes = 5.0
)

// Device defaults
const (
	defaultDeviceTimeoutMS = 2000
	defaultCamillaWsURL    = "ws://127.0.0.1:1234"
	defaultCamillaMinDB    = -65.0
	defaultCamillaMaxDB    = 0.0
	camillaReadTimeout     = 500 * time.Millisecond
	camillaDialTimeout     = 2 * time.Second
)

// Daemon wiring defaults
const (
	defaultSocketPath       = "/tmp/codeflow.sock"
	defaultHTTPListen       = "127.0.0.1:3002"
	defaultWatchInterval    = 2 * time.Second
	eventQueueSize          = 64
	statusReplyTimeout      = time.Second
	eventEnqueueTimeout     = 250 * time.Millisecond
	defaultStateWSPath      = "/ws/state"
	httpShutdownGracePeriod = 3 * time.Second
)

// Status bar presentation, kept identical to the editor extension's codicons.
const (
	statusIconDashboard = "$(dashboard)"
	statusIconMute      = "$(mute)"
	statusIconUnmute    = "$(unmute)"

	tooltipStart = "Start Codeflow"
	tooltipPause = "Pause Codeflow"
	commandPlay  = "codeflow.play"
	commandPause = "codeflow.pause"
)
