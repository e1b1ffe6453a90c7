// Package registry implements the flat "{service}/{method}" -> handler
// mapping populated during service initialization and frozen
// thereafter.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/relaymesh/fabric/internal/rpcerr"
)

// Handler executes one registered method. params is the raw JSON-RPC
// params value (nil if omitted); the returned value is marshaled as
// the JSON-RPC result.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// MethodEntry is the registry's value type.
type MethodEntry struct {
	Service     string
	Method      string
	Handler     Handler
	Public      bool
	Description string
}

// Key returns the flat "{service}/{method}" registry key.
func (e MethodEntry) Key() string {
	return e.Service + "/" + e.Method
}

// Registry is a single process-wide method table. Registration is
// guarded by a lock and fails closed on collisions; once Freeze is
// called, registration is rejected and reads proceed lock-free against
// a swapped-in read-only snapshot, so reads are lock-free.
type Registry struct {
	mu      sync.Mutex
	pending map[string]MethodEntry

	frozen  atomic.Bool
	snap    atomic.Pointer[map[string]MethodEntry]
}

// New returns an empty, unfrozen Registry.
func New() *Registry {
	return &Registry{pending: make(map[string]MethodEntry)}
}

// Register adds an entry. Returns a DuplicateMethod error on key
// collision or if the registry is already frozen.
func (r *Registry) Register(entry MethodEntry) error {
	if r.frozen.Load() {
		return rpcerr.New(rpcerr.DuplicateMethod, fmt.Sprintf("registry frozen, cannot register %q", entry.Key()))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := entry.Key()
	if _, exists := r.pending[key]; exists {
		return rpcerr.New(rpcerr.DuplicateMethod, fmt.Sprintf("method %q already registered", key))
	}
	r.pending[key] = entry
	return nil
}

// MustRegister panics on registration failure; used at startup for
// built-in services where a collision is a programming error.
func (r *Registry) MustRegister(entry MethodEntry) {
	if err := r.Register(entry); err != nil {
		panic(err)
	}
}

// Freeze snapshots the current registrations into a read-only map and
// rejects all further Register calls: no registration succeeds once
// LifecycleOrchestrator marks the dispatcher running.
func (r *Registry) Freeze() {
	r.mu.Lock()
	snap := make(map[string]MethodEntry, len(r.pending))
	for k, v := range r.pending {
		snap[k] = v
	}
	r.mu.Unlock()

	r.snap.Store(&snap)
	r.frozen.Store(true)
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Lookup finds the entry for "{service}/{method}". Lock-free once
// frozen; falls back to the locked pending map before freeze (so
// startup-time self-tests can call methods before Freeze runs).
func (r *Registry) Lookup(key string) (MethodEntry, bool) {
	if snap := r.snap.Load(); snap != nil {
		e, ok := (*snap)[key]
		return e, ok
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.pending[key]
	return e, ok
}

// Keys returns every registered "{service}/{method}" key.
func (r *Registry) Keys() []string {
	if snap := r.snap.Load(); snap != nil {
		keys := make([]string, 0, len(*snap))
		for k := range *snap {
			keys = append(keys, k)
		}
		return keys
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.pending))
	for k := range r.pending {
		keys = append(keys, k)
	}
	return keys
}
