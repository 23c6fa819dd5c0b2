package goGate

import "errors"

// Client-facing failures. Each is returned only after the matching audit
// event has been written.
var (
	// ErrInvalidCredentials covers unknown identifiers, wrong passwords,
	// disabled principals and lockout alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidOTP covers wrong, expired and replayed codes and invalid
	// challenge tickets.
	ErrInvalidOTP = errors.New("invalid verification code")
	// ErrPolicyRejected is an IP allow-list or login-hours violation.
	ErrPolicyRejected = errors.New("login not allowed")
	// ErrCSRFToken is a missing or mismatched CSRF token.
	ErrCSRFToken = errors.New("invalid request")
	// ErrSessionExpired is never returned by Resume, which demotes to Guest
	// instead. Handlers that require a live session use it.
	ErrSessionExpired = errors.New("session expired")
	// ErrMaxUsersReached is the tenant capacity limit.
	ErrMaxUsersReached = errors.New("maximum number of users reached")
	// ErrLoginRateLimited is the per-identifier and per-IP login throttle.
	ErrLoginRateLimited = errors.New("too many login attempts")
	// ErrOTPDeliveryFailed means the second factor could not be sent.
	ErrOTPDeliveryFailed = errors.New("verification code could not be sent")
)

// Operational errors.
var (
	ErrEngineNotReady    = errors.New("engine not initialized")
	ErrStandardPrincipal = errors.New("standard principal cannot be disabled")
	ErrNotPermitted      = errors.New("not permitted")
	ErrSessionsStopped   = errors.New("sessions stopped")
	ErrSessionBackend    = errors.New("session backend unavailable")
	ErrUnknownHook       = errors.New("unknown hook")
	ErrNotLoggedIn       = errors.New("not logged in")
)
