package session

import (
	"testing"
	"time"
)

func FuzzSessionDecode(f *testing.F) {
	now := time.UnixMilli(1700000000000)
	encoded, err := Encode(&Session{
		TenantID:     "t1",
		Principal:    "alice@example.com",
		UserType:     "System User",
		CSRFToken:    "csrf",
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(time.Hour),
		TTL:          time.Hour,
		Data:         map[string]string{"k": "v"},
	})
	if err == nil {
		f.Add(encoded)
		f.Add(encoded[:len(encoded)/2])
	}
	f.Add([]byte{})
	f.Add([]byte{1})
	f.Add([]byte{1, 0xff, 0xff, 0xff, 0xff, 0x0f})
	f.Add([]byte{99})

	f.Fuzz(func(t *testing.T, data []byte) {
		s, err := Decode(data)
		if err != nil {
			return
		}
		if _, err := Encode(s); err != nil {
			t.Fatalf("re-encode of decoded record failed: %v", err)
		}
	})
}

func TestEncodeDecodePreservesFields(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	in := &Session{
		TenantID:     "t1",
		Principal:    "bob",
		UserType:     "Website User",
		FullName:     "Bob B",
		Device:       "mobile",
		Country:      "IN",
		IP:           "10.0.0.1",
		CSRFToken:    "tok",
		CreatedAt:    now,
		LastActivity: now.Add(time.Second),
		ExpiresAt:    now.Add(72 * time.Hour),
		TTL:          72 * time.Hour,
		Data:         map[string]string{"lang": "en", "theme": "dark"},
	}

	raw, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Principal != "bob" || out.Device != "mobile" || out.CSRFToken != "tok" {
		t.Fatalf("unexpected decoded record: %+v", out)
	}
	if !out.ExpiresAt.Equal(in.ExpiresAt) || out.TTL != in.TTL {
		t.Fatalf("timestamps not preserved: %v %v", out.ExpiresAt, out.TTL)
	}
	if out.Get("theme") != "dark" {
		t.Fatalf("data not preserved: %v", out.Data)
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	if _, err := Decode([]byte{42}); err == nil {
		t.Fatal("expected error for unknown schema version")
	}
}
