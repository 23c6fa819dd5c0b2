// Package credential verifies identifier and password pairs against the
// principal repository.
package credential

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/MrEthical07/goGate/password"
	"github.com/MrEthical07/goGate/principal"
)

// Audit reasons for rejected credentials.
const (
	ReasonIncomplete        = "Incomplete login details"
	ReasonIncorrectPassword = "Incorrect password"
	ReasonDisabled          = "User disabled or missing"
)

// ErrInvalidCredentials is what every Failure unwraps to.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Failure is the rejected outcome of Verify. Reason and User are for the
// audit log only and must not reach the client.
type Failure struct {
	Reason string
	User   string
}

func (f *Failure) Error() string { return "credential rejected: " + f.Reason }

func (f *Failure) Unwrap() error { return ErrInvalidCredentials }

// Result is the outcome of Verify: exactly one of Principal or Failure is set.
type Result struct {
	Principal *principal.Principal
	Failure   *Failure
	// Upgraded is true when a legacy hash was rewritten.
	Upgraded bool
}

// Options toggles alias resolution.
type Options struct {
	AllowMobileLogin   bool
	AllowUsernameLogin bool
}

// Verifier checks credentials.
type Verifier struct {
	repo   principal.Repository
	hasher *password.Hasher
	opts   Options
	logger *slog.Logger
}

// NewVerifier builds a Verifier.
func NewVerifier(repo principal.Repository, hasher *password.Hasher, opts Options, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{repo: repo, hasher: hasher, opts: opts, logger: logger}
}

// Resolve maps identifier to a canonical principal id, trying mobile number
// then username (each only when enabled) before taking it as given.
func (v *Verifier) Resolve(ctx context.Context, identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	if v.opts.AllowMobileLogin {
		id, ok, err := v.repo.FindBy(ctx, principal.FieldMobileNo, identifier)
		if err != nil {
			return "", err
		}
		if ok {
			return id, nil
		}
	}
	if v.opts.AllowUsernameLogin {
		id, ok, err := v.repo.FindBy(ctx, principal.FieldUsername, identifier)
		if err != nil {
			return "", err
		}
		if ok {
			return id, nil
		}
	}
	return identifier, nil
}

// Verify checks identifier and secret. A rejection is returned in
// Result.Failure; the error is reserved for repository failures.
func (v *Verifier) Verify(ctx context.Context, identifier, secret string) (Result, error) {
	if strings.TrimSpace(identifier) == "" || secret == "" {
		return Result{Failure: &Failure{Reason: ReasonIncomplete, User: principal.UnknownUser}}, nil
	}

	id, err := v.Resolve(ctx, identifier)
	if err != nil {
		return Result{}, err
	}
	if id == principal.Guest {
		v.hasher.VerifyDummy(secret)
		return Result{Failure: &Failure{Reason: ReasonIncorrectPassword, User: principal.UnknownUser}}, nil
	}

	fields, err := v.repo.GetFields(ctx, id, append([]string{principal.FieldPasswordHash}, principal.LoadFields...)...)
	if errors.Is(err, principal.ErrNotFound) {
		v.hasher.VerifyDummy(secret)
		return Result{Failure: &Failure{Reason: ReasonIncorrectPassword, User: principal.UnknownUser}}, nil
	}
	if err != nil {
		return Result{}, err
	}

	p := principal.FromFields(id, fields)
	if !p.Enabled && id != principal.Administrator {
		// Equalize cost with a real comparison without touching the stored hash.
		v.hasher.VerifyDummy(secret)
		return Result{Failure: &Failure{Reason: ReasonDisabled, User: id}}, nil
	}

	stored := fields[principal.FieldPasswordHash]
	ok, err := v.hasher.Verify(secret, stored)
	if err != nil {
		if !errors.Is(err, password.ErrMalformedHash) && !errors.Is(err, password.ErrUnsupportedHash) {
			return Result{}, err
		}
		v.logger.Warn("stored password hash unusable", "principal", id, "error", err)
		ok = false
	}
	if !ok {
		return Result{Failure: &Failure{Reason: ReasonIncorrectPassword, User: id}}, nil
	}

	res := Result{Principal: p}
	if v.hasher.NeedsUpgrade(stored) {
		if upgraded, err := v.hasher.Hash(secret); err != nil {
			v.logger.Warn("password rehash failed", "principal", id, "error", err)
		} else if err := v.repo.SetField(ctx, id, principal.FieldPasswordHash, upgraded); err != nil {
			v.logger.Warn("password hash upgrade not persisted", "principal", id, "error", err)
		} else {
			res.Upgraded = true
		}
	}
	return res, nil
}
