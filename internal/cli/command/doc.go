// Package command provides CLI command definitions for RelayMesh.
//
// This package defines all CLI commands using urfave/cli/v2:
//
//   - root.go: Root command, global flags, connection wiring
//   - connect.go: Connection management commands
//   - status.go: Node health and RPC call commands
//   - config.go: Local fabrictl configuration commands
//
// Commands follow a consistent pattern of parsing flags,
// calling the appropriate service, and formatting output.
package command
