// Package connection provides connection management for RelayMesh CLI.
//
// This package manages connections to RelayMesh servers:
//
//   - manager.go: Connection state and current-connection tracking
//   - http.go: mTLS/bearer-token HTTP and JSON-RPC client implementation
//
// Features:
//
//   - One current connection at a time
//   - TLS certificate validation
//
// A dropped connection is not re-established automatically, and
// connection health is not monitored.
package connection
