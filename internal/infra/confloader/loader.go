// Package confloader loads a fabricd NodeConfig through koanf, layering
// coded defaults, a YAML file, RELAYMESH_-prefixed environment variables,
// and CLI flag overrides (highest priority) into one target struct, and
// watches the file for changes via fsnotify.
package confloader

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the default environment variable prefix.
const DefaultEnvPrefix = "RELAYMESH_"

// Loader loads configuration from multiple sources into a koanf tree,
// which Unmarshal then decodes into a caller-supplied struct.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
}

// Option is a function that configures the Loader.
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithConfigFile sets the configuration file path.
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
	}
}

// NewLoader creates a new configuration loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// LoadFile loads configuration from a YAML file. An empty path is a no-op,
// so callers can pass through an optional --config flag unconditionally.
func (l *Loader) LoadFile(path string) error {
	if path == "" {
		return nil
	}

	provider := file.Provider(path)
	if err := l.k.Load(provider, yaml.Parser()); err != nil {
		return fmt.Errorf("load file %s: %w", path, err)
	}

	return nil
}

// LoadEnv loads configuration from environment variables.
// Environment variables use the format: RELAYMESH_KEY, the prefix followed
// by the upper-cased flat key. Example: RELAYMESH_BIND_ADDRESS=0.0.0.0
func (l *Loader) LoadEnv() error {
	// RELAYMESH_BIND_ADDRESS -> bind_address
	envTransformer := func(s string) string {
		s = strings.TrimPrefix(s, l.envPrefix)
		return strings.ToLower(s)
	}

	provider := env.Provider(l.envPrefix, ".", envTransformer)
	if err := l.k.Load(provider, nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}

	return nil
}

// LoadMap loads configuration from a map, used to layer parsed CLI flags
// in as the highest-priority source.
func (l *Loader) LoadMap(data map[string]any) error {
	if err := l.k.Load(mapProvider(data), nil); err != nil {
		return fmt.Errorf("load map: %w", err)
	}
	return nil
}

// Unmarshal decodes the loaded configuration into target using koanf
// struct tags.
func (l *Loader) Unmarshal(target any) error {
	return l.k.Unmarshal("", target)
}
