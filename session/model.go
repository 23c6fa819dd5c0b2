package session

import "time"

// Session is one server-side login record.
//
// A Session never changes owner: a new login always mints a new ID.
type Session struct {
	SchemaVersion uint8

	ID        string
	TenantID  string
	Principal string
	UserType  string
	FullName  string

	CreatedAt    time.Time
	LastActivity time.Time
	ExpiresAt    time.Time
	// TTL is the lifetime the session was created with. Sliding renewal
	// extends ExpiresAt by this amount.
	TTL time.Duration

	Device    string
	Country   string
	IP        string
	CSRFToken string

	Data map[string]string
}

// Metadata is the client information captured at creation.
type Metadata struct {
	UserType string
	FullName string
	Device   string
	Country  string
	IP       string
}

// Expired reports whether s is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Get returns a session-scoped value.
func (s *Session) Get(key string) string {
	if s.Data == nil {
		return ""
	}
	return s.Data[key]
}
