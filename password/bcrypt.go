package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Bcrypt verifies legacy "$2a$", "$2b$" and "$2y$" hashes. It never produces
// new hashes.
type Bcrypt struct{}

// IsBcrypt reports whether encoded looks like a bcrypt hash.
func IsBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

// Verify compares secret against a bcrypt hash.
func (Bcrypt) Verify(secret, encoded string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(secret))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, ErrMalformedHash
	}
}
