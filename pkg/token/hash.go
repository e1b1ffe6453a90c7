package token

import "crypto/subtle"

// Equal compares two challenge tokens in constant time, so a validator
// callback replaying a guessed token can't be distinguished from one
// replaying the real token by response latency.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
