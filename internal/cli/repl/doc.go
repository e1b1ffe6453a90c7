// Package repl provides interactive mode for RelayMesh CLI.
//
// This package implements the Read-Eval-Print Loop for interactive sessions:
//
//   - repl.go: Main REPL loop and command dispatch
//   - completer.go: Prefix completion of top-level command names
//   - history.go: In-memory command history with Load/Save to a file
//
// The loop reads one plain line at a time from its input. It does not
// call the Completer, has no history search or navigation keys, does
// not join lines into multi-line input, and prints no color.
package repl
