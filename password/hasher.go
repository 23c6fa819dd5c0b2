package password

import "strings"

// Hasher dispatches verification on the stored hash scheme and always hashes
// new secrets with Argon2id.
type Hasher struct {
	argon  *Argon2
	legacy Bcrypt
	dummy  string
}

// NewHasher builds a Hasher. It precomputes one Argon2id hash that
// VerifyDummy compares against so unknown principals cost the same as known
// ones.
func NewHasher(cfg Config) (*Hasher, error) {
	a, err := NewArgon2(cfg)
	if err != nil {
		return nil, err
	}

	probe := cfg
	probe.MinLength = 0
	pa, _ := NewArgon2(probe)
	dummy, err := pa.Hash("gogate-timing-equalizer")
	if err != nil {
		return nil, err
	}
	return &Hasher{argon: a, dummy: dummy}, nil
}

// Hash returns a new Argon2id hash of secret.
func (h *Hasher) Hash(secret string) (string, error) {
	return h.argon.Hash(secret)
}

// Verify checks secret against encoded, whatever the scheme.
func (h *Hasher) Verify(secret, encoded string) (bool, error) {
	switch {
	case strings.HasPrefix(encoded, argon2Prefix):
		return h.argon.Verify(secret, encoded)
	case IsBcrypt(encoded):
		return h.legacy.Verify(secret, encoded)
	case encoded == "":
		return false, ErrMalformedHash
	default:
		return false, ErrUnsupportedHash
	}
}

// VerifyDummy burns one Argon2id computation and always reports false.
func (h *Hasher) VerifyDummy(secret string) {
	_, _ = h.argon.Verify(secret, h.dummy)
}

// NeedsUpgrade reports true for every bcrypt hash and for Argon2id hashes
// with weaker parameters.
func (h *Hasher) NeedsUpgrade(encoded string) bool {
	if IsBcrypt(encoded) {
		return true
	}
	up, err := h.argon.NeedsUpgrade(encoded)
	return err == nil && up
}
