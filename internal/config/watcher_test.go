package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/babelcast/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
voices:
  active:
    en: alice
`

const watcherUpdatedYAML = `
server:
  log_level: debug
voices:
  active:
    en: carol
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

// writeConfig writes content and moves the mtime forward so coarse file
// system timestamps still register a change.
func writeConfig(t *testing.T, path, content string, age time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	touch(t, path, age)
}

func touch(t *testing.T, path string, age time.Duration) {
	t.Helper()
	mt := time.Now().Add(age)
	if err := os.Chtimes(path, mt, mt); err != nil {
		t.Fatalf("touch %s: %v", path, err)
	}
}

type reloads struct {
	diffs []config.ConfigDiff
	cfgs  []*config.Config
}

func (r *reloads) record(d config.ConfigDiff, cfg *config.Config) {
	r.diffs = append(r.diffs, d)
	r.cfgs = append(r.cfgs, cfg)
}

func newWatched(t *testing.T) (string, *config.Watcher, *reloads) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "babelcast.yaml")
	writeConfig(t, path, watcherValidYAML, -time.Hour)
	r := &reloads{}
	w, err := config.NewWatcher(path, r.record)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return path, w, r
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	_, w, r := newWatched(t)

	if got := w.Current().Voices.Active["en"]; got != "alice" {
		t.Errorf("active en = %q, want alice", got)
	}
	if changed, err := w.Check(); changed || err != nil {
		t.Errorf("Check on unchanged file = %v, %v", changed, err)
	}
	if len(r.diffs) != 0 {
		t.Errorf("reloads = %d, want 0", len(r.diffs))
	}
}

func TestWatcher_CheckAppliesDiff(t *testing.T) {
	t.Parallel()
	path, w, r := newWatched(t)

	writeConfig(t, path, watcherUpdatedYAML, 0)
	changed, err := w.Check()
	if err != nil || !changed {
		t.Fatalf("Check = %v, %v; want reload", changed, err)
	}
	if len(r.diffs) != 1 {
		t.Fatalf("reloads = %d, want 1", len(r.diffs))
	}
	d := r.diffs[0]
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v, want log level debug", d)
	}
	if d.SpeakerChanges["en"] != "carol" {
		t.Errorf("speaker changes = %v, want en=carol", d.SpeakerChanges)
	}
	if d.RestartRequired {
		t.Error("log level and speaker edits must not require a restart")
	}
	if r.cfgs[0] != w.Current() {
		t.Error("callback config differs from Current()")
	}
}

func TestWatcher_InvalidEditKeepsConfig(t *testing.T) {
	t.Parallel()
	path, w, r := newWatched(t)

	writeConfig(t, path, watcherInvalidYAML, -30*time.Minute)
	if changed, err := w.Check(); err == nil || changed {
		t.Fatalf("Check on invalid file = %v, %v; want error", changed, err)
	}
	// Not re-parsed until modified again.
	if _, err := w.Check(); err != nil {
		t.Errorf("second Check re-parsed the broken file: %v", err)
	}
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("log_level = %q, want the previous info", got)
	}

	writeConfig(t, path, watcherUpdatedYAML, 0)
	if changed, err := w.Check(); !changed || err != nil {
		t.Fatalf("Check after fix = %v, %v", changed, err)
	}
	if len(r.diffs) != 1 || w.Current().Voices.Active["en"] != "carol" {
		t.Errorf("reloads = %d, active en = %q", len(r.diffs), w.Current().Voices.Active["en"])
	}
}

func TestWatcher_TouchOrCosmeticEditIgnored(t *testing.T) {
	t.Parallel()
	path, w, r := newWatched(t)

	touch(t, path, -10*time.Minute)
	if changed, err := w.Check(); changed || err != nil {
		t.Errorf("touch: Check = %v, %v", changed, err)
	}

	writeConfig(t, path, "# comment\n"+watcherValidYAML, 0)
	if changed, err := w.Check(); changed || err != nil {
		t.Errorf("comment edit: Check = %v, %v", changed, err)
	}
	if len(r.diffs) != 0 {
		t.Errorf("reloads = %d, want 0", len(r.diffs))
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestWatcher_RunPollsUntilCancelled(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "babelcast.yaml")
	writeConfig(t, path, watcherValidYAML, -time.Hour)

	fired := make(chan config.ConfigDiff, 1)
	w, err := config.NewWatcher(path, func(d config.ConfigDiff, _ *config.Config) {
		fired <- d
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	writeConfig(t, path, watcherUpdatedYAML, 0)
	select {
	case d := <-fired:
		if d.NewLogLevel != config.LogDebug {
			t.Errorf("diff = %+v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not pick up the edit")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
