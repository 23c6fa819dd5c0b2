package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"
)

func FuzzParseTicket(f *testing.F) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		f.Fatal(err)
	}
	mgr, err := NewManager(Config{
		TTL:           5 * time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "fuzz-test",
		KeyID:         "k1",
		VerifyKeys:    map[string][]byte{"k1": pub},
	})
	if err != nil {
		f.Fatal(err)
	}

	valid, err := mgr.Issue("c1", "t1", "alice", "Email")
	if err != nil {
		f.Fatal(err)
	}
	f.Add(valid)
	f.Add("")
	f.Add("not.a.jwt")
	f.Add("eyJhbGciOiJub25lIn0.eyJjaWQiOiJ4In0.")

	f.Fuzz(func(t *testing.T, input string) {
		claims, err := mgr.Parse(input)
		if err != nil {
			return
		}
		if claims == nil || claims.ChallengeID == "" {
			t.Fatal("Parse accepted a ticket without a challenge id")
		}
	})
}
