package password

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHasherVerifiesLegacyBcrypt(t *testing.T) {
	h, err := NewHasher(secureConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy-secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt error: %v", err)
	}

	ok, err := h.Verify("legacy-secret", string(legacy))
	if err != nil || !ok {
		t.Fatalf("expected bcrypt verify to succeed, ok=%v err=%v", ok, err)
	}
	ok, err = h.Verify("nope", string(legacy))
	if err != nil || ok {
		t.Fatalf("expected bcrypt mismatch, ok=%v err=%v", ok, err)
	}
	if !h.NeedsUpgrade(string(legacy)) {
		t.Fatal("bcrypt hashes should always need upgrade")
	}
}

func TestHasherRejectsUnknownScheme(t *testing.T) {
	h, err := NewHasher(secureConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	if _, err := h.Verify("x", "{SSHA}abc"); !errors.Is(err, ErrUnsupportedHash) {
		t.Fatalf("expected ErrUnsupportedHash, got %v", err)
	}
	if _, err := h.Verify("x", ""); !errors.Is(err, ErrMalformedHash) {
		t.Fatalf("expected ErrMalformedHash, got %v", err)
	}
}

func TestHasherRoundTrip(t *testing.T) {
	h, err := NewHasher(secureConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}
	enc, err := h.Hash("correct horse")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if ok, _ := h.Verify("correct horse", enc); !ok {
		t.Fatal("expected verify to succeed")
	}
	if h.NeedsUpgrade(enc) {
		t.Fatal("fresh hash should not need upgrade")
	}
	h.VerifyDummy("anything")
}
