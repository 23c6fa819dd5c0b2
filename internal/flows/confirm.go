package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goGate/otp"
	"github.com/MrEthical07/goGate/principal"
)

// ConfirmRequest submits a code for a challenge. Principal and TenantID
// come from the signed challenge ticket.
type ConfirmRequest struct {
	TenantID    string
	ChallengeID string
	Principal   string
	Code        string
	IP          string
}

// ConfirmDeps captures OTP confirmation dependencies.
type ConfirmDeps struct {
	VerifyChallenge func(ctx context.Context, challengeID, code string) (*otp.Verified, error)
	LoadPrincipal   func(ctx context.Context, id string) (*principal.Principal, error)

	Location *time.Location
	Now      func() time.Time
}

// RunConfirmOTP moves SecondFactorPending to PolicyCheck on a valid code.
// Wrong, expired and replayed codes are all reported as one rejection.
func RunConfirmOTP(ctx context.Context, req ConfirmRequest, deps ConfirmDeps) (LoginOutcome, error) {
	if deps.VerifyChallenge == nil || deps.LoadPrincipal == nil {
		return LoginOutcome{}, ErrNotReady
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	v, err := deps.VerifyChallenge(ctx, req.ChallengeID, req.Code)
	if err != nil {
		if errors.Is(err, otp.ErrInvalidCode) ||
			errors.Is(err, otp.ErrChallengeNotFound) ||
			errors.Is(err, otp.ErrChallengeExpired) ||
			errors.Is(err, otp.ErrReplay) {
			return rejected(RejectOTP, ReasonInvalidOTP, req.Principal), nil
		}
		return LoginOutcome{}, err
	}
	if v.Principal != req.Principal || v.TenantID != req.TenantID {
		return rejected(RejectOTP, ReasonInvalidOTP, req.Principal), nil
	}

	p, err := deps.LoadPrincipal(ctx, v.Principal)
	if err != nil {
		if errors.Is(err, principal.ErrNotFound) {
			return rejected(RejectCredentials, ReasonUserDisabled, v.Principal), nil
		}
		return LoginOutcome{}, err
	}
	if !p.Enabled && p.ID != principal.Administrator {
		return rejected(RejectCredentials, ReasonUserDisabled, p.ID), nil
	}

	out := LoginOutcome{State: StateSecondFactorPending, Principal: p}
	return finishWithPolicy(out, req.IP, deps.Now(), deps.Location), nil
}
