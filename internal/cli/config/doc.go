// Package config provides CLI configuration for RelayMesh.
//
// This package defines CLI-specific configuration:
//
//   - spec.go: CLIConfig struct (~/.relaymesh/cli.yaml)
//   - loader.go: Configuration loading and merging
//
// Configuration includes:
//
//   - Default connection profile
//   - Output format preferences
//
// There are no color or history-file settings.
package config
