package main

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ConfigWatcher polls the config file and keeps the last valid Config.
// It implements ConfigSource, so a running session picks up sampling
// changes on its next tick. Settings that need a restart (socket, listener,
// backend) are loaded but not re-applied.
type ConfigWatcher struct {
	path      string
	overrides FlagOverrides
	interval  time.Duration
	logger    *slog.Logger
	onChange  func(old, updated Config)

	mu        sync.Mutex
	current   Config
	lastMtime time.Time
	lastHash  [sha256.Size]byte

	done     chan struct{}
	stopOnce sync.Once
}

// NewConfigWatcher loads path immediately and returns an error if the
// initial load fails. Polling starts with Run.
func NewConfigWatcher(path string, overrides FlagOverrides, interval time.Duration, logger *slog.Logger, onChange func(old, updated Config)) (*ConfigWatcher, error) {
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	if logger == nil {
		logger = discardLogger()
	}
	w := &ConfigWatcher{
		path:      ExpandPath(path),
		overrides: overrides,
		interval:  interval,
		logger:    logger,
		onChange:  onChange,
		done:      make(chan struct{}),
	}
	cfg, hash, mtime, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config watcher initial load: %w", err)
	}
	w.current = cfg
	w.lastHash = hash
	w.lastMtime = mtime
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *ConfigWatcher) Current() Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Sampling implements ConfigSource.
func (w *ConfigWatcher) Sampling() SamplingConfig {
	cfg := w.Current()
	return cfg.Sampling()
}

// Run polls until Stop is called.
func (w *ConfigWatcher) Run() {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-t.C:
			w.check()
		}
	}
}

// Stop ends polling. Safe to call more than once.
func (w *ConfigWatcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *ConfigWatcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn("config watcher: cannot stat file", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	mtime := w.lastMtime
	w.mu.Unlock()
	if info.ModTime().Equal(mtime) {
		return
	}

	cfg, hash, newMtime, err := w.load()
	if err != nil {
		w.logger.Warn("config watcher: keeping previous config", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	if hash == w.lastHash {
		w.lastMtime = newMtime
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = cfg
	w.lastHash = hash
	w.lastMtime = newMtime
	w.mu.Unlock()

	w.logger.Info("config watcher: configuration reloaded", "path", w.path)

	// Outside the lock so the callback may call Current
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

func (w *ConfigWatcher) load() (Config, [sha256.Size]byte, time.Time, error) {
	var zero [sha256.Size]byte

	info, err := os.Stat(w.path)
	if err != nil {
		return Config{}, zero, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return Config{}, zero, time.Time{}, err
	}

	cfg, err := parseConfig(data)
	if err != nil {
		return Config{}, zero, time.Time{}, err
	}
	w.overrides.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, zero, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
