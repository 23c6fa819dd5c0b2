// Package cookie stages the response cookie set for one request and writes
// it out in a single flush.
package cookie

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// Cookie names on the wire.
const (
	SID        = "sid"
	SystemUser = "system_user"
	FullName   = "full_name"
	UserID     = "user_id"
	UserImage  = "user_image"
	Country    = "country"
)

// IdentityCookies are removed on logout.
var IdentityCookies = []string{FullName, UserID, SID, UserImage, SystemUser}

// Policy holds the attributes applied to every cookie written.
type Policy struct {
	Domain   string        `toml:"domain" env:"DOMAIN"`
	Path     string        `toml:"path" env:"PATH"`
	Secure   bool          `toml:"secure" env:"SECURE"`
	SameSite http.SameSite `toml:"-" env:"-"`
	// HTTPOnlySID keeps the session id away from scripts. The identity
	// cookies stay readable because the front end displays them.
	HTTPOnlySID bool `toml:"http_only_sid" env:"HTTP_ONLY_SID"`
}

type staged struct {
	value   string
	expires time.Time
}

// Manager collects cookie writes and deletions for one response. It is safe
// for concurrent use by handlers sharing a request.
type Manager struct {
	policy Policy
	now    func() time.Time

	mu       sync.Mutex
	cookies  map[string]staged
	toDelete map[string]struct{}
	flushed  bool
}

// NewManager returns an empty Manager.
func NewManager(policy Policy) *Manager {
	if policy.Path == "" {
		policy.Path = "/"
	}
	if policy.SameSite == 0 {
		policy.SameSite = http.SameSiteLaxMode
	}
	return &Manager{
		policy:   policy,
		now:      time.Now,
		cookies:  make(map[string]staged),
		toDelete: make(map[string]struct{}),
	}
}

// InitCookies stages the session cookie for an active session. Without a
// session id nothing is staged, not even an empty cookie.
func (m *Manager) InitCookies(sid, country string, expires time.Time) {
	if sid == "" {
		return
	}
	m.Stage(SID, sid, expires)
	if country != "" {
		m.Stage(Country, country, time.Time{})
	}
}

// Stage sets name to value. A zero expires makes a browser-session cookie.
func (m *Manager) Stage(name, value string, expires time.Time) {
	m.mu.Lock()
	m.cookies[name] = staged{value: value, expires: expires}
	m.mu.Unlock()
}

// StageDeletion marks names for removal. Deletions win over staged values.
func (m *Manager) StageDeletion(names ...string) {
	m.mu.Lock()
	for _, n := range names {
		m.toDelete[n] = struct{}{}
	}
	m.mu.Unlock()
}

// ClearIdentity stages deletion of every identity cookie.
func (m *Manager) ClearIdentity() {
	m.StageDeletion(IdentityCookies...)
}

// Value returns a staged value that is not also marked for deletion.
func (m *Manager) Value(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, del := m.toDelete[name]; del {
		return "", false
	}
	c, ok := m.cookies[name]
	return c.value, ok
}

// Flush writes the staged set to w. Values are percent-encoded; deletions
// are written last with an empty value and yesterday's expiry. Only the
// first call writes anything.
func (m *Manager) Flush(w http.ResponseWriter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flushed {
		return
	}
	m.flushed = true

	for _, name := range sortedKeys(m.cookies) {
		if _, del := m.toDelete[name]; del {
			continue
		}
		c := m.cookies[name]
		http.SetCookie(w, m.build(name, Quote(c.value), c.expires))
	}

	yesterday := m.now().Add(-24 * time.Hour)
	for _, name := range sortedKeys(m.toDelete) {
		http.SetCookie(w, m.build(name, "", yesterday))
	}
}

func (m *Manager) build(name, value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     m.policy.Path,
		Domain:   m.policy.Domain,
		Expires:  expires,
		Secure:   m.policy.Secure,
		HttpOnly: name == SID && m.policy.HTTPOnlySID,
		SameSite: m.policy.SameSite,
	}
}

// Quote percent-encodes v, leaving unreserved characters and '/' intact.
func Quote(v string) string {
	q := url.QueryEscape(v)
	q = strings.ReplaceAll(q, "+", "%20")
	return strings.ReplaceAll(q, "%2F", "/")
}

// Unquote reverses Quote. Invalid escapes yield the raw value.
func Unquote(v string) string {
	u, err := url.PathUnescape(v)
	if err != nil {
		return v
	}
	return u
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
