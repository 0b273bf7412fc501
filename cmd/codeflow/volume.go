package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrUnsupportedPlatform is returned by a VolumeDevice that has no way to
// reach the system output volume on this host.
var ErrUnsupportedPlatform = errors.New("volume control not supported on this platform")

// VolumeDevice reads and writes the system output volume as an integer
// percentage.
type VolumeDevice interface {
	GetVolume(ctx context.Context) (int, error)
	SetVolume(ctx context.Context, volume int) error
}

// newVolumeDevice builds the backend named in cfg. "auto" picks the
// platform's command backend.
func newVolumeDevice(cfg DeviceConfig, logger *slog.Logger) (VolumeDevice, error) {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	backend := cfg.Backend
	if backend == "" || backend == "auto" {
		backend = defaultBackend()
	}

	switch backend {
	case "amixer":
		return newCommandDevice("amixer", amixerCommands(), timeout), nil
	case "osascript":
		return newCommandDevice("osascript", osascriptCommands(), timeout), nil
	case "camilladsp":
		return newCamillaDevice(cfg.CamillaDSP, timeout, logger), nil
	case "none":
		return nullDevice{}, nil
	default:
		return nil, fmt.Errorf("unknown volume backend %q", cfg.Backend)
	}
}

// deviceCommands describes how a command-line mixer is driven.
type deviceCommands struct {
	get   []string
	set   func(volume int) []string
	parse func(out []byte) (int, error)
}

// runFunc executes a command and returns its combined output.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// commandDevice shells out to a platform mixer.
type commandDevice struct {
	name    string
	cmds    deviceCommands
	timeout time.Duration
	run     runFunc
}

func newCommandDevice(name string, cmds deviceCommands, timeout time.Duration) *commandDevice {
	return &commandDevice{name: name, cmds: cmds, timeout: timeout, run: execRun}
}

func (d *commandDevice) GetVolume(ctx context.Context) (int, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	out, err := d.exec(ctx, d.cmds.get)
	if err != nil {
		return 0, err
	}
	v, err := d.cmds.parse(out)
	if err != nil {
		return 0, fmt.Errorf("%s: parse volume: %w", d.name, err)
	}
	return clampPercent(v), nil
}

func (d *commandDevice) SetVolume(ctx context.Context, volume int) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	_, err := d.exec(ctx, d.cmds.set(clampPercent(volume)))
	return err
}

func (d *commandDevice) exec(ctx context.Context, argv []string) ([]byte, error) {
	out, err := d.run(ctx, argv[0], argv[1:]...)
	if errors.Is(err, exec.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", d.name, ErrUnsupportedPlatform)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", d.name, err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

func (d *commandDevice) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.timeout)
}

var amixerPercentRe = regexp.MustCompile(`\[(\d{1,3})%\]`)

// amixerCommands drives ALSA's Master control with the mapped (-M) scale.
func amixerCommands() deviceCommands {
	return deviceCommands{
		get: []string{"amixer", "-M", "get", "Master"},
		set: func(v int) []string {
			return []string{"amixer", "-q", "-M", "sset", "Master", strconv.Itoa(v) + "%"}
		},
		parse: parseAmixerVolume,
	}
}

// parseAmixerVolume returns the first channel's percentage.
func parseAmixerVolume(out []byte) (int, error) {
	m := amixerPercentRe.FindSubmatch(out)
	if m == nil {
		return 0, errors.New("no [NN%] field in amixer output")
	}
	return strconv.Atoi(string(m[1]))
}

// osascriptCommands drives the macOS output volume via AppleScript.
func osascriptCommands() deviceCommands {
	return deviceCommands{
		get: []string{"osascript", "-e", "output volume of (get volume settings)"},
		set: func(v int) []string {
			return []string{"osascript", "-e", "set volume output volume " + strconv.Itoa(v)}
		},
		parse: parseOsascriptVolume,
	}
}

func parseOsascriptVolume(out []byte) (int, error) {
	s := strings.TrimSpace(string(out))
	if s == "missing value" {
		return 0, errors.New("output volume unavailable")
	}
	return strconv.Atoi(s)
}

// nullDevice is the "none" backend: every call reports ErrUnsupportedPlatform.
type nullDevice struct{}

func (nullDevice) GetVolume(context.Context) (int, error) { return 0, ErrUnsupportedPlatform }
func (nullDevice) SetVolume(context.Context, int) error   { return ErrUnsupportedPlatform }

func clampPercent(v int) int {
	return max(0, min(v, 100))
}
