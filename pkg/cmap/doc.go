// Package cmap provides a concurrent map implementation for RelayMesh.
//
// This package implements a sharded concurrent map optimized for
// high-throughput lookups keyed by node_id, with the following
// features:
//
//   - Sharding: Configurable shard count for parallelism
//   - Fine-grained Locking: Per-shard RWMutex for minimal contention
//   - Read-modify-write: Update and Upsert run a callback under the
//     shard's write lock
//   - Iteration: Safe iteration while holding read locks
//
// Usage:
//
//	m := cmap.NewWithShards[string, cluster.NodeInfo](32)
//	m.Set("node-1", info)
//	val, ok := m.Get("node-1")
//
// Thread Safety:
//
// All operations are thread-safe. Read operations (Get, Count, Range)
// use RLock, write operations (Set, Delete, Update, Upsert) use Lock.
package cmap
