package flows

import (
	"context"
	"errors"
)

// LogoutSessionStore is the subset of the session store used by logout.
type LogoutSessionStore interface {
	DeleteSession(ctx context.Context, tenantID, sessionID, reason string) error
	ClearAllFor(ctx context.Context, tenantID, principalID, keep, reason string) (int, error)
}

// LogoutHookRunner runs registered logout hooks in order.
type LogoutHookRunner func(ctx context.Context, tenantID, principalID string) error

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	Sessions LogoutSessionStore
	RunHooks LogoutHookRunner
}

// LogoutRequest names the requester's own session and the target principal.
type LogoutRequest struct {
	TenantID string
	// RequesterSession and RequesterPrincipal identify the caller.
	RequesterSession   string
	RequesterPrincipal string
	// Target defaults to the requester.
	Target string
	Reason string
}

// LogoutResult reports what was removed.
type LogoutResult struct {
	// Self is true when the requester's own session was deleted and the
	// caller must clear identity cookies.
	Self    bool
	Removed int
}

// ReasonManualLogout is recorded for a user-initiated logout.
const ReasonManualLogout = "User Manually Logged Out"

// ReasonForcedLogout is recorded when an administrator logs another
// principal out.
const ReasonForcedLogout = "Logged Out By Administrator"

// RunLogout runs logout hooks first and then deletes. For the requester it
// deletes the current session only; for another principal it deletes every
// session of that principal and leaves the requester untouched.
func RunLogout(ctx context.Context, req LogoutRequest, deps LogoutDeps) (LogoutResult, error) {
	if deps.Sessions == nil {
		return LogoutResult{}, ErrNotReady
	}
	target := req.Target
	if target == "" {
		target = req.RequesterPrincipal
	}
	if target == "" {
		return LogoutResult{}, errors.New("logout target missing")
	}

	if deps.RunHooks != nil {
		if err := deps.RunHooks(ctx, req.TenantID, target); err != nil {
			return LogoutResult{}, err
		}
	}

	if target == req.RequesterPrincipal {
		reason := req.Reason
		if reason == "" {
			reason = ReasonManualLogout
		}
		if err := deps.Sessions.DeleteSession(ctx, req.TenantID, req.RequesterSession, reason); err != nil {
			return LogoutResult{}, err
		}
		return LogoutResult{Self: true, Removed: 1}, nil
	}

	reason := req.Reason
	if reason == "" {
		reason = ReasonForcedLogout
	}
	n, err := deps.Sessions.ClearAllFor(ctx, req.TenantID, target, "", reason)
	if err != nil {
		return LogoutResult{}, err
	}
	return LogoutResult{Removed: n}, nil
}
