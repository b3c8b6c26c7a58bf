package config

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	log "github.com/inferkit/inferkit/internal/logging"
)

// reloadDebounce coalesces the burst of write events editors produce when
// saving a file.
const reloadDebounce = 300 * time.Millisecond

// Watcher hot-reloads the config file, invoking the callback with the parsed
// result whenever the content hash changes.
type Watcher struct {
	path     string
	onReload func(*Config)

	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	timer    *time.Timer
	lastHash string
	done     chan struct{}
}

// NewWatcher builds a watcher for path. Start must be called to begin
// watching.
func NewWatcher(path string, onReload func(*Config)) *Watcher {
	return &Watcher{
		path:     path,
		onReload: onReload,
		done:     make(chan struct{}),
	}
}

// Start begins watching the config file's directory. Watching the directory
// rather than the file survives the rename-on-save strategy most editors use.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fsw
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return err
	}

	go w.loop()
	return nil
}

// Stop ends watching and releases the underlying watcher. A reload still
// pending in the debounce window is cancelled.
func (w *Watcher) Stop() {
	close(w.done)
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	if w.watcher != nil {
		_ = w.watcher.Close()
	}
}

func (w *Watcher) loop() {
	reloadOps := fsnotify.Write | fsnotify.Create | fsnotify.Rename
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&reloadOps == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("config watcher error")
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *Watcher) reload() {
	// A timer that fired in the window between Stop checking it and the
	// goroutine starting must not invoke the callback.
	select {
	case <-w.done:
		return
	default:
	}

	cfg, err := LoadConfig(w.path)
	if err != nil {
		log.WithError(err).Warn("config reload failed, keeping previous config")
		return
	}

	raw, _ := yamlFingerprint(cfg)
	w.mu.Lock()
	unchanged := raw != "" && raw == w.lastHash
	if !unchanged {
		w.lastHash = raw
	}
	w.mu.Unlock()
	if unchanged {
		return
	}

	log.WithField("path", w.path).Info("config reloaded")
	w.onReload(cfg)
}

func yamlFingerprint(cfg *Config) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
