// Package token provides the CSPRNG byte generation and constant-time
// comparison the certificate authority uses for challenge tokens.
package token

import "crypto/rand"

// GenerateBytes returns length cryptographically random bytes. The
// authority package hex-encodes the result itself as part of assembling
// a challenge token.
func GenerateBytes(length int) ([]byte, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
