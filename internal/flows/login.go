package flows

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goGate/credential"
	"github.com/MrEthical07/goGate/internal/rate"
	"github.com/MrEthical07/goGate/otp"
	"github.com/MrEthical07/goGate/principal"
)

// CredentialVerifier is the subset of credential.Verifier used by login.
type CredentialVerifier interface {
	Resolve(ctx context.Context, identifier string) (string, error)
	Verify(ctx context.Context, identifier, secret string) (credential.Result, error)
}

// LoginThrottle is the subset of rate.Limiter used by login.
type LoginThrottle interface {
	CheckLogin(ctx context.Context, tenantID, identifier, ip string) error
	IncrementLogin(ctx context.Context, tenantID, identifier, ip string) error
}

// LoginRequest is one primary-credential attempt.
type LoginRequest struct {
	TenantID   string
	Identifier string
	Password   string
	IP         string
}

// LoginDeps captures login dependencies. Optional function fields may be
// nil.
type LoginDeps struct {
	Verifier CredentialVerifier
	Throttle LoginThrottle

	// CountFailures enables audit-driven lockout when LockoutThreshold > 0.
	CountFailures    func(ctx context.Context, tenantID, principalID string, since time.Time) (int, error)
	LockoutThreshold int
	LockoutWindow    time.Duration
	DummyVerify      func(secret string)

	TwoFactorRequired              func(ctx context.Context, tenantID string, p *principal.Principal) (bool, error)
	BypassTwoFactorForRestrictedIP bool
	IssueChallenge                 func(ctx context.Context, tenantID string, p *principal.Principal) (*otp.Issued, error)

	Location *time.Location
	Now      func() time.Time
	Warn     func(msg string, args ...any)
}

// RunLogin drives Anonymous through Authenticating and, when required,
// stops in SecondFactorPending. Otherwise it runs the policy check and
// reports SessionEstablished or Rejected.
func RunLogin(ctx context.Context, req LoginRequest, deps LoginDeps) (LoginOutcome, error) {
	if deps.Verifier == nil {
		return LoginOutcome{}, ErrNotReady
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Warn == nil {
		deps.Warn = func(string, ...any) {}
	}
	now := deps.Now()
	identifier := strings.TrimSpace(req.Identifier)

	if deps.Throttle != nil && identifier != "" {
		if err := deps.Throttle.CheckLogin(ctx, req.TenantID, identifier, req.IP); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				return rejected(RejectRateLimited, ReasonRateLimited, ""), nil
			}
			return LoginOutcome{}, err
		}
	}

	if locked, user := lockedOut(ctx, req, identifier, now, deps); locked {
		if deps.DummyVerify != nil {
			deps.DummyVerify(req.Password)
		}
		recordThrottleFailure(ctx, req, identifier, deps)
		return rejected(RejectCredentials, ReasonLocked, user), nil
	}

	res, err := deps.Verifier.Verify(ctx, identifier, req.Password)
	if err != nil {
		return LoginOutcome{}, err
	}
	if res.Failure != nil {
		recordThrottleFailure(ctx, req, identifier, deps)
		return rejected(RejectCredentials, res.Failure.Reason, res.Failure.User), nil
	}

	out := LoginOutcome{
		State:        StateAuthenticating,
		Principal:    res.Principal,
		HashUpgraded: res.Upgraded,
	}

	required, err := secondFactorRequired(ctx, req, out.Principal, deps)
	if err != nil {
		return LoginOutcome{}, err
	}
	if required {
		if deps.IssueChallenge == nil {
			return LoginOutcome{}, ErrNotReady
		}
		issued, err := deps.IssueChallenge(ctx, req.TenantID, out.Principal)
		if err != nil {
			if errors.Is(err, otp.ErrDeliveryUnavailable) ||
				errors.Is(err, otp.ErrNoRecipient) ||
				errors.Is(err, otp.ErrUnsupportedChannel) {
				return rejected(RejectDelivery, ReasonDeliveryFailed, out.Principal.ID), nil
			}
			return LoginOutcome{}, err
		}
		out.State = StateSecondFactorPending
		out.Challenge = issued
		return out, nil
	}

	return finishWithPolicy(out, req.IP, now, deps.Location), nil
}

func lockedOut(ctx context.Context, req LoginRequest, identifier string, now time.Time, deps LoginDeps) (bool, string) {
	if deps.CountFailures == nil || deps.LockoutThreshold <= 0 || identifier == "" || req.Password == "" {
		return false, ""
	}
	id, err := deps.Verifier.Resolve(ctx, identifier)
	if err != nil || id == principal.Administrator {
		return false, ""
	}
	window := deps.LockoutWindow
	if window <= 0 {
		window = time.Hour
	}
	n, err := deps.CountFailures(ctx, req.TenantID, id, now.Add(-window))
	if err != nil {
		deps.Warn("lockout check failed", "error", err)
		return false, ""
	}
	return n >= deps.LockoutThreshold, id
}

func recordThrottleFailure(ctx context.Context, req LoginRequest, identifier string, deps LoginDeps) {
	if deps.Throttle == nil || identifier == "" {
		return
	}
	if err := deps.Throttle.IncrementLogin(ctx, req.TenantID, identifier, req.IP); err != nil &&
		!errors.Is(err, rate.ErrRateLimited) {
		deps.Warn("login throttle increment failed", "error", err)
	}
}

func secondFactorRequired(ctx context.Context, req LoginRequest, p *principal.Principal, deps LoginDeps) (bool, error) {
	if deps.TwoFactorRequired == nil || p.ID == principal.Guest {
		return false, nil
	}
	required, err := deps.TwoFactorRequired(ctx, req.TenantID, p)
	if err != nil || !required {
		return false, err
	}
	if deps.BypassTwoFactorForRestrictedIP && len(p.RestrictIP) > 0 && CheckIPAllowList(req.IP, p.RestrictIP) {
		return false, nil
	}
	return true, nil
}
