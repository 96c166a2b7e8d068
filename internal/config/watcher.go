package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is the polling interval of a [Watcher].
const DefaultWatchInterval = 5 * time.Second

// ReloadFunc receives the diff between the previous and the newly loaded
// config, and the new config itself.
type ReloadFunc func(d ConfigDiff, cfg *Config)

// Watcher polls a config file and hands every valid edit that changes
// something to a [ReloadFunc]. An invalid edit is logged and the previous
// config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onReload ReloadFunc

	mu      sync.Mutex
	current *Config
	modTime time.Time
	sum     [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Defaults to [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path once. Polling starts with [Watcher.Run].
func NewWatcher(path string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onReload: onReload,
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.modTime, w.sum = snap.cfg, snap.modTime, snap.sum
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls the file until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Check(); err != nil {
				slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

// Check reloads the file if its modification time moved. It reports whether
// the reload callback ran. A file that fails validation returns the error and
// is not re-parsed until it is modified again.
func (w *Watcher) Check() (bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	d, cfg, err := w.reloadLocked(info.ModTime())
	w.mu.Unlock()
	if err != nil || d.Empty() {
		return false, err
	}

	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"speaker_changes", len(d.SpeakerChanges),
		"restart_required", d.RestartRequired,
	)
	// Outside the lock so the callback may call Current.
	if w.onReload != nil {
		w.onReload(d, cfg)
	}
	return true, nil
}

func (w *Watcher) reloadLocked(modTime time.Time) (ConfigDiff, *Config, error) {
	if modTime.Equal(w.modTime) {
		return ConfigDiff{}, nil, nil
	}
	w.modTime = modTime

	snap, err := w.read()
	if err != nil {
		return ConfigDiff{}, nil, err
	}
	w.modTime = snap.modTime
	if snap.sum == w.sum {
		return ConfigDiff{}, nil, nil
	}
	w.sum = snap.sum

	d := Diff(w.current, snap.cfg)
	w.current = snap.cfg
	return d, snap.cfg, nil
}

type snapshot struct {
	cfg     *Config
	modTime time.Time
	sum     [sha256.Size]byte
}

func (w *Watcher) read() (snapshot, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return snapshot{}, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, modTime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
