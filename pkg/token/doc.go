// Package token provides token generation and validation utilities.
//
// This package implements cryptographically secure random byte
// generation and constant-time token comparison, used by the
// certificate authority for challenge tokens.
//
// Security:
//
//   - Uses crypto/rand for CSPRNG
//   - Constant-time comparison of token strings (Equal)
//   - No hashing: Equal compares the tokens themselves
package token
