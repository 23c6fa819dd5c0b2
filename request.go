package goGate

import (
	"slices"

	"github.com/MrEthical07/goGate/cookie"
	"github.com/MrEthical07/goGate/principal"
	"github.com/MrEthical07/goGate/session"
)

// DeviceMobile is the device class of native mobile clients.
const DeviceMobile = "mobile"

// Request carries everything the engine needs to know about one inbound
// request. It is built once per request by the transport layer and passed
// to every engine call; the engine updates Session in place.
type Request struct {
	TenantID string
	IP       string
	// Device is the client device class, "desktop" when unknown.
	Device  string
	Country string

	// Cookies receives the staged response cookies. May be nil for
	// callers without a cookie transport.
	Cookies *cookie.Manager
	// Session is the resolved session. Guest requests carry a transient
	// session whose ID is principal.Guest.
	Session *session.Session
}

// NewRequest returns a Request with a fresh cookie manager.
func NewRequest(tenantID, ip, device string, policy cookie.Policy) *Request {
	if device == "" {
		device = "desktop"
	}
	return &Request{
		TenantID: tenantID,
		IP:       ip,
		Device:   device,
		Cookies:  cookie.NewManager(policy),
	}
}

// User returns the principal id of the resolved session, Guest when none.
func (r *Request) User() string {
	if r == nil || r.Session == nil || r.Session.Principal == "" {
		return principal.Guest
	}
	return r.Session.Principal
}

// IsGuest reports whether the request is unauthenticated.
func (r *Request) IsGuest() bool {
	return r.User() == principal.Guest
}

// IsSystemUser reports whether the session belongs to a desk user.
func (r *Request) IsSystemUser() bool {
	if r == nil || r.Session == nil {
		return false
	}
	if r.Session.Principal == principal.Administrator {
		return true
	}
	return principal.ParseKind(r.Session.UserType).IsSystem()
}

// SessionID returns the current session id, empty for guests.
func (r *Request) SessionID() string {
	if r.IsGuest() {
		return ""
	}
	return r.Session.ID
}

func (r *Request) isDevice(classes []string) bool {
	return r != nil && slices.Contains(classes, r.Device)
}

func guestSession(r *Request) *session.Session {
	return &session.Session{
		SchemaVersion: session.CurrentSchemaVersion,
		ID:            principal.Guest,
		TenantID:      r.TenantID,
		Principal:     principal.Guest,
		UserType:      principal.KindGuest.String(),
		FullName:      principal.Guest,
		Device:        r.Device,
		Country:       r.Country,
		IP:            r.IP,
	}
}
