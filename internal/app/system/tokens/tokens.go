// Package tokens generates opaque single-use tokens (invitations, email
// verification, password reset).
package tokens

import (
	"crypto/rand"
	"encoding/hex"
)

// Size is the token length in bytes (160 bits).
const Size = 20

// New returns a random 160-bit token rendered as 40 lowercase hex characters.
func New() (string, error) {
	b := make([]byte, Size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
