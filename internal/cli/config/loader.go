// Package config defines the CLI configuration structure.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"
)

// DefaultConfigPath returns the default CLI config file path.
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".relaymesh", "cli.yaml")
}

// Load loads CLI configuration from file.
func Load(path string) (*CLIConfig, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Connections == nil {
		cfg.Connections = make(map[string]ConnectionConfig)
	}
	return cfg, nil
}

// Save saves CLI configuration to file.
func Save(cfg *CLIConfig, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("config: mkdir %s: %w", dir, err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Merge overlays environment and flag overrides onto cfg, flags taking
// priority over environment. Recognized keys: server, output.
func Merge(cfg *CLIConfig, env map[string]string, flags map[string]string) *CLIConfig {
	if v, ok := env["RELAYMESH_SERVER"]; ok && v != "" {
		cfg.DefaultServer = v
	}
	if v, ok := env["RELAYMESH_OUTPUT"]; ok && v != "" {
		cfg.DefaultOutput = v
	}
	if v, ok := flags["server"]; ok && v != "" {
		cfg.DefaultServer = v
	}
	if v, ok := flags["output"]; ok && v != "" {
		cfg.DefaultOutput = v
	}
	return cfg
}
