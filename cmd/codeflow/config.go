package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the codeflow daemon.
//
// Structural settings (device backend, socket, listeners, logging) are
// checked by Validate and rejected when wrong. Control loop settings are
// never rejected; see SamplingConfig.Normalize.
type Config struct {
	Volume          VolumeConfig          `yaml:"volume"`
	Speed           SpeedConfig           `yaml:"speed"`
	BackgroundPause BackgroundPauseConfig `yaml:"background_pause"`
	Device          DeviceConfig          `yaml:"device"`
	IPC             IPCConfig             `yaml:"ipc"`
	HTTP            HTTPConfig            `yaml:"http"`
	Metrics         MetricsConfig         `yaml:"metrics"`
	Logging         LoggingConfig         `yaml:"logging"`

	// Start the session as soon as the daemon is up
	Autostart bool `yaml:"autostart"`
}

type VolumeConfig struct {
	Min               int     `yaml:"min"`
	Max               int     `yaml:"max"`
	UpdateIntervalSec float64 `yaml:"update_interval_sec"`
	MaxStepFraction   float64 `yaml:"max_step_fraction"`
}

type SpeedConfig struct {
	Min       float64 `yaml:"min"`
	MaxDomain float64 `yaml:"max_domain"`
}

type BackgroundPauseConfig struct {
	Enabled bool    `yaml:"enabled"`
	Minutes float64 `yaml:"minutes"`
}

type DeviceConfig struct {
	Backend    string           `yaml:"backend" validate:"oneof=auto amixer osascript camilladsp none"`
	TimeoutMS  int              `yaml:"timeout_ms" validate:"gt=0"`
	CamillaDSP CamillaDSPConfig `yaml:"camilladsp"`
}

type CamillaDSPConfig struct {
	WsURL string  `yaml:"ws_url" validate:"required,url"`
	MinDB float64 `yaml:"min_db"`
	MaxDB float64 `yaml:"max_db" validate:"gtfield=MinDB"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path" validate:"required"`
}

type HTTPConfig struct {
	// Empty disables the HTTP server
	Listen string `yaml:"listen" validate:"omitempty,hostname_port"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=error warn warning info debug"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Volume: VolumeConfig{
			Min:               defaultMinVolume,
			Max:               defaultMaxVolume,
			UpdateIntervalSec: defaultIntervalSeconds,
			MaxStepFraction:   defaultMaxStepFraction,
		},
		Speed: SpeedConfig{
			Min:       defaultMinSpeed,
			MaxDomain: defaultMaxSpeedDomain,
		},
		BackgroundPause: BackgroundPauseConfig{
			Enabled: defaultBackgroundPauseEnabled,
			Minutes: defaultBackgroundPauseMinutes,
		},
		Device: DeviceConfig{
			Backend:   "auto",
			TimeoutMS: defaultDeviceTimeoutMS,
			CamillaDSP: CamillaDSPConfig{
				WsURL: defaultCamillaWsURL,
				MinDB: defaultCamillaMinDB,
				MaxDB: defaultCamillaMaxDB,
			},
		},
		IPC: IPCConfig{
			SocketPath: defaultSocketPath,
		},
		HTTP: HTTPConfig{
			Listen: defaultHTTPListen,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level: string(LogLevelInfo),
		},
	}
}

// LoadConfigFile reads a YAML config file on top of DefaultConfig.
// Unknown fields and trailing documents are rejected.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, errors.New("decode config yaml: unexpected trailing document")
	}
	return cfg, nil
}

// FlagOverrides holds values from explicitly set flags. A nil pointer means
// the flag was not given and the file (or default) value stands.
type FlagOverrides struct {
	MinVolume         *int
	MaxVolume         *int
	UpdateIntervalSec *float64
	MaxStepFraction   *float64
	MinSpeed          *float64
	MaxSpeedDomain    *float64

	BackgroundPause        *bool
	BackgroundPauseMinutes *float64

	DeviceBackend   *string
	DeviceTimeoutMS *int
	CamillaWsURL    *string

	IPCSocketPath  *string
	HTTPListen     *string
	MetricsEnabled *bool
	LogLevel       *string
	Autostart      *bool
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	setIf(&cfg.Volume.Min, o.MinVolume)
	setIf(&cfg.Volume.Max, o.MaxVolume)
	setIf(&cfg.Volume.UpdateIntervalSec, o.UpdateIntervalSec)
	setIf(&cfg.Volume.MaxStepFraction, o.MaxStepFraction)
	setIf(&cfg.Speed.Min, o.MinSpeed)
	setIf(&cfg.Speed.MaxDomain, o.MaxSpeedDomain)

	setIf(&cfg.BackgroundPause.Enabled, o.BackgroundPause)
	setIf(&cfg.BackgroundPause.Minutes, o.BackgroundPauseMinutes)

	setIf(&cfg.Device.Backend, o.DeviceBackend)
	setIf(&cfg.Device.TimeoutMS, o.DeviceTimeoutMS)
	setIf(&cfg.Device.CamillaDSP.WsURL, o.CamillaWsURL)

	setIf(&cfg.IPC.SocketPath, o.IPCSocketPath)
	setIf(&cfg.HTTP.Listen, o.HTTPListen)
	setIf(&cfg.Metrics.Enabled, o.MetricsEnabled)
	setIf(&cfg.Logging.Level, o.LogLevel)
	setIf(&cfg.Autostart, o.Autostart)
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// validate is the shared validator instance for config checks.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Report the YAML (or JSON) key in messages instead of the Go field name
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, key := range []string{"yaml", "json"} {
			name := strings.SplitN(fld.Tag.Get(key), ",", 2)[0]
			if name == "-" {
				return fld.Name
			}
			if name != "" {
				return name
			}
		}
		return fld.Name
	})
}

// Validate checks the structural settings and returns every problem found.
// Control loop settings are left to SamplingConfig.Normalize.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	errs := make([]error, 0, len(verrs))
	for _, e := range verrs {
		errs = append(errs, fmt.Errorf("%s %s", fieldPath(e), formatValidationMessage(e)))
	}
	return errors.Join(errs...)
}

// Sampling extracts the control loop settings.
func (c *Config) Sampling() SamplingConfig {
	return SamplingConfig{
		IntervalSeconds:        c.Volume.UpdateIntervalSec,
		MinSpeed:               c.Speed.Min,
		MaxSpeedDomain:         c.Speed.MaxDomain,
		MinVolume:              c.Volume.Min,
		MaxVolume:              c.Volume.Max,
		MaxStepFraction:        c.Volume.MaxStepFraction,
		BackgroundPauseEnabled: c.BackgroundPause.Enabled,
		BackgroundPauseMinutes: c.BackgroundPause.Minutes,
	}
}

// fieldPath drops the root struct name from the validator namespace,
// e.g. "Config.device.backend" becomes "device.backend".
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// formatValidationMessage creates a human-readable message from a validator error.
func formatValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "gtfield", "gtefield":
		return fmt.Sprintf("must be greater than %s", e.Param())
	case "url":
		return "must be a valid URL"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "hostname_port":
		return "must be host:port"
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
