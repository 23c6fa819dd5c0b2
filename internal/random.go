package internal

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
)

const (
	sessionIDSize = 24
	csrfTokenSize = 32
)

// ErrInvalidToken is returned when a token does not decode to the expected size.
var ErrInvalidToken = errors.New("invalid token")

// NewSessionID returns a URL-safe session identifier with 192 bits of entropy.
func NewSessionID() (string, error) {
	return randomToken(sessionIDSize)
}

// ValidSessionID reports whether sid has the shape NewSessionID produces.
// Stores use it to reject junk cookie values without a round trip.
func ValidSessionID(sid string) bool {
	if len(sid) != base64.RawURLEncoding.EncodedLen(sessionIDSize) {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(sid)
	return err == nil && len(raw) == sessionIDSize
}

// NewCSRFToken returns a per-session CSRF secret.
func NewCSRFToken() (string, error) {
	return randomToken(csrfTokenSize)
}

// RandomCounter returns a random HOTP counter start below 2^48.
func RandomCounter() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]) >> 16, nil
}

// Redact keeps the first four characters of a secret for log correlation.
func Redact(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
