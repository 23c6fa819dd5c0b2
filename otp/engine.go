package otp

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goGate/internal"
	"github.com/MrEthical07/goGate/principal"
	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"github.com/pquerna/otp/totp"
)

var (
	// ErrInvalidCode is returned for a wrong code on a live challenge.
	ErrInvalidCode = errors.New("invalid otp code")
	// ErrDeliveryUnavailable is returned by Issue when the code could not be
	// handed to the delivery channel. No challenge is left behind.
	ErrDeliveryUnavailable = errors.New("otp delivery unavailable")
	// ErrNoRecipient is returned when the principal has no address for the channel.
	ErrNoRecipient = errors.New("otp recipient missing")
	// ErrUnsupportedChannel is returned for channels without a delivery path.
	ErrUnsupportedChannel = errors.New("otp channel unsupported")
)

// Deliverer hands rendered codes to an outbound channel. Implementations
// must return quickly; actual transmission may happen later.
type Deliverer interface {
	EnqueueMail(ctx context.Context, to, subject, body string) error
	EnqueueSMS(ctx context.Context, to, body string) error
}

// Config tunes code generation and challenge lifetime.
type Config struct {
	Issuer       string
	Digits       int
	Period       time.Duration
	Skew         int
	ChallengeTTL time.Duration
	MaxAttempts  int
}

// Issued describes a challenge returned to the caller.
type Issued struct {
	ID        string
	Channel   Channel
	ExpiresAt time.Time
	// ProvisioningURI is set for first-time App enrollment only.
	ProvisioningURI string
	Prompt          string
}

// Verified describes a challenge that passed.
type Verified struct {
	Principal string
	TenantID  string
	Channel   Channel
	Enrolled  bool
}

// Engine issues and verifies challenges.
type Engine struct {
	store   *ChallengeStore
	repo    principal.Repository
	deliver Deliverer
	cfg     Config
	now     func() time.Time
}

// NewEngine wires an Engine. deliver may be nil when only the App channel
// is used.
func NewEngine(store *ChallengeStore, repo principal.Repository, deliver Deliverer, cfg Config) *Engine {
	if cfg.Digits == 0 {
		cfg.Digits = 6
	}
	if cfg.Period <= 0 {
		cfg.Period = 30 * time.Second
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 5 * time.Minute
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "goGate"
	}
	return &Engine{store: store, repo: repo, deliver: deliver, cfg: cfg, now: time.Now}
}

func (e *Engine) digits() otp.Digits {
	if e.cfg.Digits == 8 {
		return otp.DigitsEight
	}
	return otp.DigitsSix
}

func (e *Engine) opts() hotp.ValidateOpts {
	return hotp.ValidateOpts{Digits: e.digits(), Algorithm: otp.AlgorithmSHA1}
}

// Issue creates a challenge for p. A principal without a bound secret gets a
// fresh one that is bound when the challenge verifies.
func (e *Engine) Issue(ctx context.Context, tenantID string, p *principal.Principal, channel Channel) (*Issued, error) {
	fields, err := e.repo.GetFields(ctx, p.ID, principal.FieldOTPSecret)
	if err != nil {
		return nil, err
	}

	now := e.now()
	ch := &Challenge{
		Principal: p.ID,
		TenantID:  tenantID,
		Channel:   channel,
		Secret:    fields[principal.FieldOTPSecret],
		ExpiresAt: now.Add(e.cfg.ChallengeTTL).UnixMilli(),
	}
	issued := &Issued{
		ID:        uuid.NewString(),
		Channel:   channel,
		ExpiresAt: now.Add(e.cfg.ChallengeTTL),
	}

	var recipient string
	switch channel {
	case ChannelApp:
		if ch.Secret == "" {
			key, err := totp.Generate(totp.GenerateOpts{
				Issuer:      e.cfg.Issuer,
				AccountName: p.ID,
				Period:      uint(e.cfg.Period / time.Second),
				Digits:      e.digits(),
				Algorithm:   otp.AlgorithmSHA1,
			})
			if err != nil {
				return nil, err
			}
			ch.Secret = key.Secret()
			ch.Enroll = true
			issued.ProvisioningURI = key.URL()
			issued.Prompt = "Scan the QR code with your authentication app and enter the code shown."
		} else {
			issued.Prompt = "Enter the code displayed in your authentication app."
		}
	case ChannelEmail, ChannelSMS:
		if channel == ChannelEmail {
			recipient = p.Email
		} else {
			recipient = p.MobileNo
		}
		if recipient == "" {
			return nil, ErrNoRecipient
		}
		if e.deliver == nil {
			return nil, ErrDeliveryUnavailable
		}
		if ch.Secret == "" {
			key, err := hotp.Generate(hotp.GenerateOpts{Issuer: e.cfg.Issuer, AccountName: p.ID, Digits: e.digits()})
			if err != nil {
				return nil, err
			}
			ch.Secret = key.Secret()
			ch.Enroll = true
		}
		if ch.Counter, err = internal.RandomCounter(); err != nil {
			return nil, err
		}
		issued.Prompt = "Verification code has been sent to " + maskRecipient(channel, recipient) + "."
	default:
		return nil, ErrUnsupportedChannel
	}

	if err := e.store.Save(ctx, issued.ID, ch, e.cfg.ChallengeTTL); err != nil {
		return nil, err
	}

	if recipient != "" {
		if err := e.send(ctx, ch, recipient); err != nil {
			_, _ = e.store.Delete(ctx, issued.ID)
			return nil, err
		}
	}

	return issued, nil
}

func (e *Engine) send(ctx context.Context, ch *Challenge, recipient string) error {
	code, err := hotp.GenerateCodeCustom(ch.Secret, ch.Counter, e.opts())
	if err != nil {
		return err
	}

	body := "Your verification code is " + code
	switch ch.Channel {
	case ChannelEmail:
		err = e.deliver.EnqueueMail(ctx, recipient, "Login Verification Code from "+e.cfg.Issuer, body)
	case ChannelSMS:
		err = e.deliver.EnqueueSMS(ctx, recipient, body)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryUnavailable, err)
	}
	return nil
}

// Verify checks code against challenge id. Wrong codes leave the challenge
// live until MaxAttempts is reached.
func (e *Engine) Verify(ctx context.Context, id, code string) (*Verified, error) {
	ch, err := e.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrChallengeExpired) {
			return nil, ErrChallengeNotFound
		}
		return nil, err
	}

	step, ok := e.match(ch, strings.TrimSpace(code))
	if !ok {
		if _, err := e.store.RecordFailure(ctx, id, e.cfg.MaxAttempts); err != nil &&
			!errors.Is(err, ErrChallengeNotFound) && !errors.Is(err, ErrChallengeExpired) {
			return nil, err
		}
		return nil, ErrInvalidCode
	}

	window := time.Duration(2*e.cfg.Skew+2) * e.cfg.Period
	if err := e.store.Consume(ctx, id, ch, step, window); err != nil {
		return nil, err
	}

	if ch.Enroll {
		if err := e.repo.SetField(ctx, ch.Principal, principal.FieldOTPSecret, ch.Secret); err != nil {
			return nil, fmt.Errorf("bind otp secret: %w", err)
		}
	}

	return &Verified{
		Principal: ch.Principal,
		TenantID:  ch.TenantID,
		Channel:   ch.Channel,
		Enrolled:  ch.Enroll,
	}, nil
}

// Reset discards a pending challenge.
func (e *Engine) Reset(ctx context.Context, id string) error {
	_, err := e.store.Delete(ctx, id)
	return err
}

// ResetSecret unbinds the principal's secret so the next App challenge
// starts a new enrollment.
func (e *Engine) ResetSecret(ctx context.Context, principalID string) error {
	return e.repo.SetField(ctx, principalID, principal.FieldOTPSecret, "")
}

// match returns the matched time step for TOTP challenges.
func (e *Engine) match(ch *Challenge, code string) (int64, bool) {
	if len(code) != e.cfg.Digits || !numeric(code) {
		return 0, false
	}

	if !ch.Channel.TimeBased() {
		ok, err := hotp.ValidateCustom(code, ch.Counter, ch.Secret, e.opts())
		return int64(ch.Counter), err == nil && ok
	}

	base := e.now().Unix() / int64(e.cfg.Period/time.Second)
	for delta := -e.cfg.Skew; delta <= e.cfg.Skew; delta++ {
		step := base + int64(delta)
		if step < 0 {
			continue
		}
		want, err := hotp.GenerateCodeCustom(ch.Secret, uint64(step), e.opts())
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return step, true
		}
	}
	return 0, false
}

func numeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func maskRecipient(ch Channel, r string) string {
	if ch == ChannelEmail {
		local, domain, ok := strings.Cut(r, "@")
		if !ok || local == "" {
			return "your registered email address"
		}
		return local[:1] + "***@" + domain
	}
	if len(r) <= 4 {
		return "your registered mobile number"
	}
	return strings.Repeat("*", len(r)-4) + r[len(r)-4:]
}
