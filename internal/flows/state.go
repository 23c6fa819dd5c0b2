package flows

import (
	"errors"

	"github.com/MrEthical07/goGate/otp"
	"github.com/MrEthical07/goGate/principal"
)

// State is a login state machine position.
type State uint8

const (
	StateAnonymous State = iota
	StateAuthenticating
	StateSecondFactorPending
	StatePolicyCheck
	StateSessionEstablished
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticating:
		return "authenticating"
	case StateSecondFactorPending:
		return "second_factor_pending"
	case StatePolicyCheck:
		return "policy_check"
	case StateSessionEstablished:
		return "session_established"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// RejectKind classifies a rejection for error mapping.
type RejectKind uint8

const (
	RejectCredentials RejectKind = iota + 1
	RejectRateLimited
	RejectOTP
	RejectPolicy
	RejectDelivery
	RejectCapacity
)

// Audit reasons written for rejections raised inside this package.
// Credential reasons come from the credential package.
const (
	ReasonRateLimited    = "Too many login attempts"
	ReasonLocked         = "Account locked after repeated failures"
	ReasonInvalidOTP     = "Invalid verification code"
	ReasonDeliveryFailed = "Verification code could not be sent"
	ReasonIPNotAllowed   = "Not allowed from this IP Address"
	ReasonHourNotAllowed = "Login not allowed at this time"
	ReasonUserDisabled   = "User disabled or missing"
)

// ErrNotReady is returned when a flow is called without its required deps.
var ErrNotReady = errors.New("flow dependencies not wired")

// Rejection is a terminal authentication failure. Reason and User are for
// the audit log only.
type Rejection struct {
	Kind   RejectKind
	Reason string
	User   string
}

// LoginOutcome is the result of a login or OTP confirmation step.
type LoginOutcome struct {
	State     State
	Principal *principal.Principal
	Rejection *Rejection
	// Challenge is set in StateSecondFactorPending.
	Challenge *otp.Issued
	// HashUpgraded reports a transparent legacy hash rewrite.
	HashUpgraded bool
}

func rejected(kind RejectKind, reason, user string) LoginOutcome {
	if user == "" {
		user = principal.UnknownUser
	}
	return LoginOutcome{
		State:     StateRejected,
		Rejection: &Rejection{Kind: kind, Reason: reason, User: user},
	}
}
