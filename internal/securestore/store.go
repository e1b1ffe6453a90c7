// Package securestore defines the opaque key→bytes store used by the
// cluster core for certificates, keys, and persisted directory state.
//
// The core only ever sees this interface (per the data model's
// SecureStore contract); the concrete implementation in badger.go is a
// Badger-backed collaborator, swappable for any other durable KV.
package securestore

import (
	"context"
	"errors"
)

// Namespaces used by the core. No other assumptions are made about
// the values stored under them.
const (
	NamespaceCert   = "cert"
	NamespaceConfig = "config"
	NamespaceState  = "state"
)

// ErrNotFound is returned by Read when no value exists for a key.
var ErrNotFound = errors.New("securestore: key not found")

// Store is an opaque namespaced key→bytes store.
type Store interface {
	// Read returns the bytes stored under (namespace, name), or
	// ErrNotFound if absent.
	Read(ctx context.Context, namespace, name string) ([]byte, error)

	// Write stores value under (namespace, name), overwriting any
	// existing value.
	Write(ctx context.Context, namespace, name string, value []byte) error

	// Delete removes (namespace, name). Deleting an absent key is a no-op.
	Delete(ctx context.Context, namespace, name string) error

	// Flush forces any buffered writes to durable storage.
	Flush(ctx context.Context) error

	// Close releases underlying resources. Implies Flush.
	Close() error
}
