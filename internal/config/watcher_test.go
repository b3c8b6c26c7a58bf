package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_ReloadOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log-level: info\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *Config, 4)
	w := NewWatcher(path, func(cfg *Config) { reloaded <- cfg })
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("log-level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.LogLevel != "debug" {
			t.Errorf("reloaded log level = %q, want debug", cfg.LogLevel)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload callback never fired")
	}
}

func TestWatcher_StopCancelsPendingReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log-level: info\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *Config, 4)
	w := NewWatcher(path, func(cfg *Config) { reloaded <- cfg })
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Schedule a reload and stop inside the debounce window; the pending
	// reload must not fire.
	w.scheduleReload()
	w.Stop()

	select {
	case cfg := <-reloaded:
		t.Errorf("reload fired after Stop: %+v", cfg)
	case <-time.After(2 * reloadDebounce):
	}
}

func TestWatcher_InvalidConfigKeepsCallbackSilent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log-level: info\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *Config, 4)
	w := NewWatcher(path, func(cfg *Config) { reloaded <- cfg })
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("unsupported-parts: bogus\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		t.Errorf("invalid config triggered a reload: %+v", cfg)
	case <-time.After(1 * time.Second):
		// Previous config stays in effect.
	}
}
