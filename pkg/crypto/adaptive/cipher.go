// Package adaptive supplies the at-rest cipher for internal/securestore.
// New selects AES-256-GCM on architectures with hardware AES support
// (amd64, arm64) and falls back to ChaCha20-Poly1305 elsewhere, so a
// coordinator's CA key material and a worker's provisioner state get
// authenticated encryption without an operator having to pick an
// algorithm.
package adaptive

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
	"runtime"
)

// CipherType identifies the cipher algorithm.
type CipherType string

const (
	CipherAESGCM   CipherType = "aes-gcm"
	CipherChaCha20 CipherType = "chacha20-poly1305"
)

// Cipher provides authenticated encryption over a fixed key, with the
// nonce generated internally and prepended to the returned ciphertext.
type Cipher interface {
	Type() CipherType
	Encrypt(plaintext, additionalData []byte) ([]byte, error)
	Decrypt(ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
	Overhead() int
}

// New picks AES-GCM or ChaCha20-Poly1305 based on hardware AES support
// and constructs it with key.
func New(key []byte) (Cipher, error) {
	if hasAESNI() {
		return NewAESGCM(key)
	}
	return NewChaCha20(key)
}

// hasAESNI reports whether the current GOARCH gets a hardware-accelerated
// crypto/aes from the Go runtime (amd64 AES-NI, arm64 crypto extensions).
func hasAESNI() bool {
	switch runtime.GOARCH {
	case "amd64", "arm64":
		return true
	default:
		return false
	}
}

// baseCipher implements the nonce-prepend/strip convention shared by
// AESGCM and ChaCha20 over a plain cipher.AEAD.
type baseCipher struct {
	aead cipher.AEAD
}

func (c *baseCipher) NonceSize() int {
	return c.aead.NonceSize()
}

func (c *baseCipher) Overhead() int {
	return c.aead.Overhead()
}

func (c *baseCipher) encrypt(plaintext, additionalData []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plaintext, additionalData), nil
}

func (c *baseCipher) decrypt(ciphertext, additionalData []byte) ([]byte, error) {
	if len(ciphertext) < c.aead.NonceSize() {
		return nil, errors.New("adaptive: ciphertext too short")
	}
	nonce := ciphertext[:c.aead.NonceSize()]
	ciphertext = ciphertext[c.aead.NonceSize():]
	return c.aead.Open(nil, nonce, ciphertext, additionalData)
}
