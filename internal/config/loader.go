// Package config defines the node's structured configuration and loads
// it through the layered confloader chain: CLI flags > environment >
// YAML file > coded defaults.
package config

import (
	"fmt"
	"log/slog"

	"github.com/relaymesh/fabric/internal/infra/confloader"
)

// Load loads a NodeConfig from, in ascending priority order: coded
// defaults, the YAML file at path (if non-empty), environment
// variables prefixed RELAYMESH_, and flagOverrides (typically parsed
// CLI flags), which Load applies last via LoadMap so they take the
// highest priority. Verify is run before returning.
func Load(path string, flagOverrides map[string]any) (NodeConfig, error) {
	cfg := Default()

	loader := confloader.NewLoader(confloader.WithConfigFile(path))

	if path != "" {
		if err := loader.LoadFile(path); err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
	}
	if err := loader.LoadEnv(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if len(flagOverrides) > 0 {
		if err := loader.LoadMap(flagOverrides); err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
	}

	if err := loader.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := Verify(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Watch starts a confloader.Watcher on path and invokes onReload with
// the newly loaded config whenever the file changes, skipping reloads
// that touch a structural key (logged instead of applied). The caller
// owns the returned watcher's lifetime via Stop().
func Watch(path string, current NodeConfig, logger *slog.Logger, onReload func(NodeConfig)) (*confloader.Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	if err := w.Watch(path); err != nil {
		return nil, err
	}

	w.OnChange(func(changedPath string) {
		next, err := Load(path, nil)
		if err != nil {
			logger.Error("config: reload failed, keeping previous configuration", "error", err)
			return
		}
		if structural := DiffStructural(current, next); len(structural) > 0 {
			logger.Warn("config: structural keys changed, restart required to apply",
				"keys", structural)
			return
		}
		current = next
		onReload(next)
	})
	w.StartAsync()
	return w, nil
}
