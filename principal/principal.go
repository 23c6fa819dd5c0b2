package principal

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Standard identities that always exist in every tenant.
const (
	Administrator = "Administrator"
	Guest         = "Guest"

	// UnknownUser is recorded in the audit log when a failed attempt cannot be
	// attributed to a resolved principal.
	UnknownUser = "Unknown User"
)

// Field names understood by [Repository] implementations.
const (
	FieldKind                 = "kind"
	FieldEnabled              = "enabled"
	FieldPasswordHash         = "password_hash"
	FieldUsername             = "username"
	FieldMobileNo             = "mobile_no"
	FieldEmail                = "email"
	FieldFirstName            = "first_name"
	FieldLastName             = "last_name"
	FieldUserImage            = "user_image"
	FieldRestrictIP           = "restrict_ip"
	FieldLoginBefore          = "login_before"
	FieldLoginAfter           = "login_after"
	FieldSimultaneousSessions = "simultaneous_sessions"
	FieldOTPSecret            = "otp_secret"
	FieldLastLogin            = "last_login"
	FieldLastIP               = "last_ip"
)

// LoadFields is the field set read by [Load].
var LoadFields = []string{
	FieldKind,
	FieldEnabled,
	FieldEmail,
	FieldMobileNo,
	FieldFirstName,
	FieldLastName,
	FieldUserImage,
	FieldRestrictIP,
	FieldLoginBefore,
	FieldLoginAfter,
	FieldSimultaneousSessions,
}

var (
	// ErrNotFound is returned by repositories when a principal id is unknown.
	ErrNotFound = errors.New("principal not found")
	// ErrUnknownField is returned for field names outside the supported set.
	ErrUnknownField = errors.New("unknown principal field")
	// ErrUnavailable wraps storage failures.
	ErrUnavailable = errors.New("principal repository unavailable")
)

// Kind classifies a principal.
type Kind uint8

const (
	KindGuest Kind = iota
	KindWebsiteUser
	KindSystemUser
	KindAdministrator
)

// String returns the user type label used in session data and cookies.
func (k Kind) String() string {
	switch k {
	case KindGuest:
		return "Guest"
	case KindWebsiteUser:
		return "Website User"
	case KindSystemUser:
		return "System User"
	case KindAdministrator:
		return "Administrator"
	default:
		return "Unknown"
	}
}

// IsSystem reports whether the principal gets desk access.
func (k Kind) IsSystem() bool {
	return k == KindSystemUser || k == KindAdministrator
}

// ParseKind maps a stored label back to a Kind. Unknown labels map to
// KindWebsiteUser, the least privileged authenticated kind.
func ParseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "guest":
		return KindGuest
	case "system user", "system_user", "system":
		return KindSystemUser
	case "administrator", "admin":
		return KindAdministrator
	default:
		return KindWebsiteUser
	}
}

// Fields is a field-name to value mapping as returned by [Repository.GetFields].
type Fields map[string]string

// Repository is the narrow contract over the external model layer.
//
// Implementations must be safe for concurrent use.
type Repository interface {
	// GetFields returns the requested fields for id. Missing values are
	// returned as empty strings; an unknown id returns ErrNotFound.
	GetFields(ctx context.Context, id string, fields ...string) (Fields, error)
	// Exists reports whether a principal with the canonical id exists.
	Exists(ctx context.Context, id string) (bool, error)
	// SetField updates a single field.
	SetField(ctx context.Context, id, field, value string) error
	// FindBy resolves an alias (username, mobile number) to a canonical id.
	// ok is false when no principal carries that value.
	FindBy(ctx context.Context, field, value string) (id string, ok bool, err error)
}

// SystemUserCounter is implemented by repositories that can count enabled
// system users for capacity enforcement.
type SystemUserCounter interface {
	CountEnabledSystemUsers(ctx context.Context) (int, error)
}

// Principal is the read model the auth core works with.
type Principal struct {
	ID                   string
	Kind                 Kind
	Enabled              bool
	Email                string
	MobileNo             string
	FirstName            string
	LastName             string
	UserImage            string
	RestrictIP           []string
	LoginBefore          int
	LoginAfter           int
	SimultaneousSessions int
}

// FullName joins the non-empty name parts.
func (p *Principal) FullName() string {
	parts := make([]string, 0, 2)
	if p.FirstName != "" {
		parts = append(parts, p.FirstName)
	}
	if p.LastName != "" {
		parts = append(parts, p.LastName)
	}
	return strings.Join(parts, " ")
}

// IsStandard reports whether id is one of the built-in identities that can
// never be disabled.
func IsStandard(id string) bool {
	return id == Administrator || id == Guest
}

// Load reads the standard field set for id.
func Load(ctx context.Context, repo Repository, id string) (*Principal, error) {
	if id == Guest {
		return &Principal{ID: Guest, Kind: KindGuest, Enabled: true, FirstName: Guest}, nil
	}

	f, err := repo.GetFields(ctx, id, LoadFields...)
	if err != nil {
		return nil, err
	}
	return FromFields(id, f), nil
}

// FromFields builds a Principal from raw repository values.
func FromFields(id string, f Fields) *Principal {
	p := &Principal{
		ID:                   id,
		Kind:                 ParseKind(f[FieldKind]),
		Enabled:              ParseBool(f[FieldEnabled]),
		Email:                f[FieldEmail],
		MobileNo:             f[FieldMobileNo],
		FirstName:            f[FieldFirstName],
		LastName:             f[FieldLastName],
		UserImage:            f[FieldUserImage],
		RestrictIP:           SplitIPList(f[FieldRestrictIP]),
		LoginBefore:          atoi(f[FieldLoginBefore]),
		LoginAfter:           atoi(f[FieldLoginAfter]),
		SimultaneousSessions: atoi(f[FieldSimultaneousSessions]),
	}
	if id == Administrator {
		p.Kind = KindAdministrator
	}
	return p
}

// SplitIPList splits a stored allow-list on commas and newlines.
func SplitIPList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	raw = strings.ReplaceAll(raw, ",", "\n")
	out := make([]string, 0, 4)
	for _, item := range strings.Split(raw, "\n") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ParseBool accepts the truthy spellings used by the model layer.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// FormatBool is the inverse of ParseBool for writes.
func FormatBool(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// FormatTime renders timestamps written back to the repository.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
