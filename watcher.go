package hotswap

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher watches a configuration file and live-applies the dynamic
// settings to a running registry and manager when the file changes: the
// global hot-swap switch, the restart ceiling, and the health aggregation
// interval. Static settings (history limits, listen addresses) require a
// restart and are ignored on reload.
type ConfigWatcher struct {
	path     string
	registry *HotReloadRegistry
	manager  *SelfHealingManager
	logger   Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewConfigWatcher creates a watcher for the given config file path.
// Either the registry or the manager may be nil.
func NewConfigWatcher(path string, registry *HotReloadRegistry, manager *SelfHealingManager, logger Logger) *ConfigWatcher {
	if logger == nil {
		logger = noopLogger{}
	}

	return &ConfigWatcher{
		path:     path,
		registry: registry,
		manager:  manager,
		logger:   logger,
	}
}

// Start begins watching. The parent directory is watched rather than the
// file itself so that editors replacing the file via rename are observed.
func (w *ConfigWatcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("config watcher: watch %s: %w", filepath.Dir(w.path), err)
	}

	w.watcher = watcher
	w.done = make(chan struct{})
	go w.loop()

	w.logger.Info("Config watcher started", "path", w.path)
	return nil
}

// Stop halts watching. Idempotent.
func (w *ConfigWatcher) Stop() {
	if w.watcher == nil {
		return
	}
	_ = w.watcher.Close()
	<-w.done
	w.watcher = nil
}

func (w *ConfigWatcher) loop() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.apply()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Error("Config watcher error", "error", err)
			}
		}
	}
}

// apply reloads the file and pushes the dynamic settings out.
func (w *ConfigWatcher) apply() {
	cfg, err := LoadConfig(w.path)
	if err != nil {
		w.logger.Error("Config reload failed, keeping current settings", "path", w.path, "error", err)
		return
	}

	if w.registry != nil {
		w.registry.SetHotSwapEnabled(cfg.Registry.HotSwapEnabled)
	}
	if w.manager != nil {
		w.manager.SetMaxRestarts(cfg.Healing.MaxRestarts)
		w.manager.SetCheckInterval(cfg.Healing.CheckIntervalTicks)
	}

	w.logger.Info("Dynamic config applied",
		"hotSwapEnabled", cfg.Registry.HotSwapEnabled,
		"maxRestarts", cfg.Healing.MaxRestarts,
		"checkIntervalTicks", cfg.Healing.CheckIntervalTicks)
}
