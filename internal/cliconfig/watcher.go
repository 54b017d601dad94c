package cliconfig

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultReloadDebounce coalesces bursts of file events into one reload.
const DefaultReloadDebounce = 100 * time.Millisecond

// ReloadFunc receives the configuration rebuilt after a file change.
type ReloadFunc func(Config)

// Watcher reloads the config file when it changes. Flags still win over
// the file, and the environment is re-applied on every reload.
type Watcher struct {
	path     string
	base     Config
	changed  map[string]bool
	onReload ReloadFunc
	log      zerolog.Logger
	delay    time.Duration

	mu       sync.Mutex
	debounce *time.Timer
}

// NewWatcher creates a watcher for path. base is the configuration before
// the file was applied (defaults plus flags).
func NewWatcher(path string, base Config, changed map[string]bool, onReload ReloadFunc, log zerolog.Logger) *Watcher {
	return &Watcher{
		path:     path,
		base:     base,
		changed:  changed,
		onReload: onReload,
		log:      log,
		delay:    DefaultReloadDebounce,
	}
}

// Run watches the directory of the config file until ctx is done.
// Editors often replace the file, so events are matched by name.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.log.Debug().Str("path", w.path).Msg("watching config file")

	name := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("config watcher error")
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.delay, w.reload)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
}

func (w *Watcher) reload() {
	cfg, err := w.Load()
	if err != nil {
		w.log.Warn().Err(err).Str("path", w.path).Msg("config reload failed, keeping previous configuration")
		return
	}
	w.log.Info().Str("path", w.path).Msg("configuration reloaded")
	w.onReload(cfg)
}

// Load rebuilds the configuration from base, the file and the environment.
func (w *Watcher) Load() (Config, error) {
	cfg := w.base
	fc, err := LoadFileConfig(w.path)
	if err != nil {
		return Config{}, err
	}
	if err := ApplyFileConfig(&cfg, fc, w.changed); err != nil {
		return Config{}, err
	}
	if err := ApplyEnvConfig(&cfg, w.changed); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
