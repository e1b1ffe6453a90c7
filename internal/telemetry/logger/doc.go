// Package logger provides structured logging for RelayMesh.
//
// This package wraps log/slog for structured logging:
//
//   - logger.go: slog-backed Logger construction and level control
//   - context.go: Context-aware logging with request and node IDs
//   - redact.go: Sensitive data redaction
//
// Features:
//
//   - JSON and text output formats
//   - Log level filtering
//   - Automatic sensitive data masking
//   - Context propagation for request tracing
package logger
