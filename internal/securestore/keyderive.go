package securestore

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"github.com/relaymesh/fabric/pkg/crypto/adaptive"
)

// Key derivation parameters: argon2 cost params tuned for an
// interactive unlock, not a batch job.
const (
	minKeyLength  = 16
	saltLength    = 16
	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
)

// ErrKeyTooShort is returned when a raw key shorter than minKeyLength
// is supplied directly.
var ErrKeyTooShort = errors.New("securestore: encryption key too short (minimum 16 bytes)")

// KeyMaterial configures how a BadgerStore's at-rest cipher key is
// obtained: either a raw Key, or a Passphrase derived via Argon2id
// with Salt (persisted by the caller so decryption is reproducible
// across restarts).
type KeyMaterial struct {
	Key        []byte
	Passphrase []byte
	Salt       []byte
}

// DeriveCipher builds the adaptive.Cipher that encrypts BadgerStore
// values at rest. It returns the salt actually used (generated if km.Salt
// was empty) so the caller can persist it alongside the store for later
// unlocks. A zero-value km disables encryption (nil cipher, nil error).
func DeriveCipher(km KeyMaterial) (adaptive.Cipher, []byte, error) {
	switch {
	case len(km.Passphrase) > 0:
		salt := km.Salt
		if salt == nil {
			salt = make([]byte, saltLength)
			if _, err := rand.Read(salt); err != nil {
				return nil, nil, fmt.Errorf("securestore: generate salt: %w", err)
			}
		}
		key := argon2.IDKey(km.Passphrase, salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
		c, err := adaptive.New(key)
		return c, salt, err

	case len(km.Key) > 0:
		if len(km.Key) < minKeyLength {
			return nil, nil, ErrKeyTooShort
		}
		c, err := adaptive.New(km.Key)
		return c, nil, err

	default:
		return nil, nil, nil
	}
}

// DeriveSubkey stretches masterKey into a length-byte subkey scoped by
// info via HKDF-SHA256, so a single master secret (e.g. unlocked once
// at node startup) can mint independent keys for separate purposes —
// the store's at-rest cipher, a future WAL cipher — without reusing
// key material across them.
func DeriveSubkey(masterKey []byte, info string, length int) ([]byte, error) {
	if len(masterKey) < minKeyLength {
		return nil, ErrKeyTooShort
	}

	reader := hkdf.New(sha256.New, masterKey, nil, []byte(info))
	out := make([]byte, length)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("securestore: derive subkey: %w", err)
	}
	return out, nil
}

// ZeroKey overwrites key in place. Call once a derived key has been
// handed to its cipher and is no longer needed in cleartext.
func ZeroKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}
