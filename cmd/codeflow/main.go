package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "codeflow v%s\n", version)
	fmt.Fprintln(w, "Typing-speed driven system volume daemon")
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	printVersion(w)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  codeflow [OPTIONS]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "DESCRIPTION:")
	fmt.Fprintln(w, "  Samples editor activity reported over the IPC socket, smooths it into")
	fmt.Fprintln(w, "  a typing speed and maps that speed onto the system output volume.")
	fmt.Fprintln(w, "  The editor extension (or codeflow-ctl) reports edits, focus changes")
	fmt.Fprintln(w, "  and start/stop requests.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "OPTIONS:")
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintln(w)
	fmt.Fprintln(w, "EXAMPLES:")
	fmt.Fprintln(w, "  # Start with a config file and begin sampling right away")
	fmt.Fprintln(w, "  codeflow -config ~/.config/codeflow.yaml -autostart")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  # Dry run without touching the mixer")
	fmt.Fprintln(w, "  codeflow -device-backend none -log-level debug")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "NOTES:")
	fmt.Fprintln(w, "  - Flags override values from the config file")
	fmt.Fprintln(w, "  - Volume-curve settings in the config file are reloaded while running")
}

// cliOptions holds the parsed command line.
type cliOptions struct {
	configPath  string
	overrides   FlagOverrides
	showVersion bool
	showHelp    bool
}

// parseFlags parses args into options. Only flags present on the command
// line become overrides.
func parseFlags(args []string, stderr io.Writer) (cliOptions, *flag.FlagSet, error) {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	def := DefaultConfig()
	var opts cliOptions
	var (
		minVolume       = fs.Int("min-volume", def.Volume.Min, "Volume at the slowest typing speed (0-100)")
		maxVolume       = fs.Int("max-volume", def.Volume.Max, "Volume ceiling (0-100)")
		interval        = fs.Float64("interval", def.Volume.UpdateIntervalSec, "Sampling interval in seconds (values below 1 are treated as 1)")
		maxStep         = fs.Float64("max-step-fraction", def.Volume.MaxStepFraction, "Largest upward step per tick as a fraction of the volume range")
		minSpeed        = fs.Float64("min-speed", def.Speed.Min, "Speed floor in edits per second")
		maxSpeedDomain  = fs.Float64("max-speed", def.Speed.MaxDomain, "Speed at which the curve reaches max-volume")
		bgPause         = fs.Bool("background-pause", def.BackgroundPause.Enabled, "Pause while the editor window is in the background")
		bgPauseMinutes  = fs.Float64("background-pause-minutes", def.BackgroundPause.Minutes, "Grace period before a background pause, in minutes")
		deviceBackend   = fs.String("device-backend", def.Device.Backend, "Volume backend: auto|amixer|osascript|camilladsp|none")
		deviceTimeoutMS = fs.Int("device-timeout-ms", def.Device.TimeoutMS, "Timeout for a single volume device call in ms")
		camillaURL      = fs.String("camilladsp-ws-url", def.Device.CamillaDSP.WsURL, "CamillaDSP websocket URL (camilladsp backend)")
		socketPath      = fs.String("ipc-socket", def.IPC.SocketPath, "Unix domain socket path for IPC")
		httpListen      = fs.String("http-listen", def.HTTP.Listen, "HTTP listen address for /ws/state, health and metrics (empty disables)")
		metricsEnabled  = fs.Bool("metrics", def.Metrics.Enabled, "Serve Prometheus metrics on /metrics")
		logLevel        = fs.String("log-level", def.Logging.Level, "Log level: error, warn, info, debug")
		autostart       = fs.Bool("autostart", def.Autostart, "Start the session immediately")
	)
	fs.StringVar(&opts.configPath, "config", "", "Path to YAML config file")
	fs.BoolVar(&opts.showVersion, "version", false, "Print version and exit")
	fs.BoolVar(&opts.showHelp, "help", false, "Print help message")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			opts.showHelp = true
			return opts, fs, nil
		}
		fmt.Fprintln(stderr, err)
		return opts, fs, err
	}

	fs.Visit(func(f *flag.Flag) {
		o := &opts.overrides
		switch f.Name {
		case "min-volume":
			o.MinVolume = minVolume
		case "max-volume":
			o.MaxVolume = maxVolume
		case "interval":
			o.UpdateIntervalSec = interval
		case "max-step-fraction":
			o.MaxStepFraction = maxStep
		case "min-speed":
			o.MinSpeed = minSpeed
		case "max-speed":
			o.MaxSpeedDomain = maxSpeedDomain
		case "background-pause":
			o.BackgroundPause = bgPause
		case "background-pause-minutes":
			o.BackgroundPauseMinutes = bgPauseMinutes
		case "device-backend":
			o.DeviceBackend = deviceBackend
		case "device-timeout-ms":
			o.DeviceTimeoutMS = deviceTimeoutMS
		case "camilladsp-ws-url":
			o.CamillaWsURL = camillaURL
		case "ipc-socket":
			o.IPCSocketPath = socketPath
		case "http-listen":
			o.HTTPListen = httpListen
		case "metrics":
			o.MetricsEnabled = metricsEnabled
		case "log-level":
			o.LogLevel = logLevel
		case "autostart":
			o.Autostart = autostart
		}
	})
	return opts, fs, nil
}

// loadConfig resolves defaults, the optional file and flag overrides.
func loadConfig(opts cliOptions) (Config, error) {
	cfg := DefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = LoadConfigFile(opts.configPath); err != nil {
			return Config{}, err
		}
	}
	opts.overrides.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func main() {
	opts, fs, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}
	if opts.showHelp {
		printUsage(os.Stdout, fs)
		return
	}
	if opts.showVersion {
		printVersion(os.Stdout)
		return
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	level, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger := setupLogger(level, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, logger); err != nil {
		logger.Error("codeflow exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// run wires every component and blocks until ctx is canceled or one of
// the servers fails.
func run(ctx context.Context, cfg Config, opts cliOptions, logger *slog.Logger) error {
	logger.Info("codeflow starting",
		"version", version,
		"device_backend", cfg.Device.Backend,
		"ipc_socket", cfg.IPC.SocketPath,
		"http_listen", cfg.HTTP.Listen,
	)

	metrics := noopMetrics()
	if cfg.Metrics.Enabled {
		mp, shutdown, err := initMetricsProvider(version)
		if err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("metrics shutdown failed", "error", err)
			}
		}()
		if metrics, err = NewMetrics(mp); err != nil {
			return fmt.Errorf("create metrics: %w", err)
		}
	}

	var source ConfigSource = staticConfig(cfg.Sampling())
	var watcher *ConfigWatcher
	if opts.configPath != "" {
		var err error
		watcher, err = NewConfigWatcher(opts.configPath, opts.overrides, defaultWatchInterval, logger.With("component", "config"), nil)
		if err != nil {
			return err
		}
		source = watcher
	}

	device, err := newVolumeDevice(cfg.Device, logger.With("component", "device"))
	if err != nil {
		return err
	}
	if c, ok := device.(io.Closer); ok {
		defer c.Close()
	}

	hub := NewHub(logger.With("component", "ws"))
	events := make(chan Event, eventQueueSize)

	d := newDaemon(ctx, daemonDeps{
		Config:  source,
		Device:  device,
		Sink:    multiSink{logSink{logger: logger.With("component", "status")}, hub},
		Clock:   systemClock{},
		Metrics: metrics,
		Logger:  logger,
	})

	if cfg.Autostart {
		events <- RequestStart{autostart: true}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.run(gctx, events) })
	g.Go(func() error {
		return runIPCServer(gctx, ExpandPath(cfg.IPC.SocketPath), events, logger.With("component", "ipc"))
	})
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	if watcher != nil {
		g.Go(func() error {
			go func() {
				<-gctx.Done()
				watcher.Stop()
			}()
			watcher.Run()
			return nil
		})
	}
	if cfg.HTTP.Listen != "" {
		mux := newHTTPMux(hub, events, cfg.Metrics.Enabled, []readinessCheck{
			{Name: "daemon", Check: d.readiness},
		}, logger.With("component", "http"))
		g.Go(func() error { return runHTTPServer(gctx, cfg.HTTP.Listen, mux, logger.With("component", "http")) })
	}

	return g.Wait()
}
