package goGate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goGate/cookie"
	"github.com/MrEthical07/goGate/internal/audit"
	"github.com/MrEthical07/goGate/internal/flows"
	"github.com/MrEthical07/goGate/jwt"
	"github.com/MrEthical07/goGate/principal"
	"github.com/MrEthical07/goGate/session"
	"github.com/redis/go-redis/v9"
)

// Login response messages.
const (
	MessageLoggedIn = "Logged In"
	MessageNoApp    = "No App"
)

const (
	reasonLoginSuccess     = "Login"
	reasonOTPSuccess       = "Verification code accepted"
	reasonMaxUsers         = "Maximum number of users reached"
	reasonHookFailed       = "Login hook failed"
	reasonOtherSession     = "Logged In From Another Session"
	reasonSessionLimit     = "Simultaneous session limit reached"
	redirectAfterLoginHash = "gogate:redirect_after_login"
)

// LoginCredentials is the primary login request.
type LoginCredentials struct {
	Identifier string
	Password   string
}

// ConfirmCredentials submits a second-factor code for a pending login.
type ConfirmCredentials struct {
	// Ticket is the signed challenge reference returned by Login.
	Ticket string
	Code   string
}

// TwoFactorPrompt is returned by Login while a second factor is pending.
type TwoFactorPrompt struct {
	Ticket    string    `json:"tmp_id"`
	Method    string    `json:"method"`
	Prompt    string    `json:"prompt"`
	Setup     bool      `json:"setup"`
	QRCodeURI string    `json:"qrcode_uri,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LoginResponse is the client-facing result of a completed or paused login.
type LoginResponse struct {
	Message    string           `json:"message,omitempty"`
	HomePage   string           `json:"home_page,omitempty"`
	FullName   string           `json:"full_name,omitempty"`
	RedirectTo string           `json:"redirect_to,omitempty"`
	TwoFactor  *TwoFactorPrompt `json:"verification,omitempty"`

	// SessionID is carried by the sid cookie; it is exposed here for
	// transports without cookies.
	SessionID string `json:"-"`
}

// Pending reports whether the login waits for ConfirmOTP.
func (r *LoginResponse) Pending() bool {
	return r != nil && r.TwoFactor != nil
}

// Login authenticates creds. On success the new session is stored in
// req.Session and its cookies are staged. When a second factor is required
// the response carries a TwoFactorPrompt and no session exists yet. Every
// rejection is audited before the error is returned.
func (e *Engine) Login(ctx context.Context, req *Request, creds LoginCredentials) (*LoginResponse, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricLoginLatency, time.Since(start))
	}()

	out, err := e.flow.Login(ctx, flows.LoginRequest{
		TenantID:   req.TenantID,
		Identifier: creds.Identifier,
		Password:   creds.Password,
		IP:         req.IP,
	})
	if err != nil {
		e.logger.Error("login failed", "error", err)
		return nil, err
	}
	if out.HashUpgraded {
		e.metricInc(MetricPasswordHashUpgraded)
	}

	switch out.State {
	case flows.StateRejected:
		return nil, e.reject(ctx, req, audit.OperationLogin, out.Rejection)

	case flows.StateSecondFactorPending:
		ticket, err := e.tickets.Issue(out.Challenge.ID, req.TenantID, out.Principal.ID, out.Challenge.Channel.String())
		if err != nil {
			_ = e.otp.Reset(ctx, out.Challenge.ID)
			return nil, err
		}
		e.metricInc(MetricTwoFactorRequired)
		return &LoginResponse{
			TwoFactor: &TwoFactorPrompt{
				Ticket:    ticket,
				Method:    out.Challenge.Channel.String(),
				Prompt:    out.Challenge.Prompt,
				Setup:     out.Challenge.ProvisioningURI != "",
				QRCodeURI: out.Challenge.ProvisioningURI,
				ExpiresAt: out.Challenge.ExpiresAt,
			},
		}, nil

	case flows.StateSessionEstablished:
		return e.establish(ctx, req, out.Principal, strings.TrimSpace(creds.Identifier), audit.OperationLogin)

	default:
		return nil, fmt.Errorf("login ended in state %s", out.State)
	}
}

// ConfirmOTP completes a login paused by Login. Wrong, expired and replayed
// codes and tampered tickets all yield ErrInvalidOTP.
func (e *Engine) ConfirmOTP(ctx context.Context, req *Request, creds ConfirmCredentials) (*LoginResponse, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	claims, err := e.tickets.Parse(creds.Ticket)
	if err != nil {
		if !errors.Is(err, jwt.ErrInvalidTicket) {
			return nil, err
		}
		return nil, e.reject(ctx, req, audit.OperationOTP, &flows.Rejection{
			Kind:   flows.RejectOTP,
			Reason: flows.ReasonInvalidOTP,
			User:   principal.UnknownUser,
		})
	}
	if claims.TenantID != req.TenantID {
		return nil, e.reject(ctx, req, audit.OperationOTP, &flows.Rejection{
			Kind:   flows.RejectOTP,
			Reason: flows.ReasonInvalidOTP,
			User:   claims.Subject,
		})
	}

	out, err := e.flow.ConfirmOTP(ctx, flows.ConfirmRequest{
		TenantID:    claims.TenantID,
		ChallengeID: claims.ChallengeID,
		Principal:   claims.Subject,
		Code:        creds.Code,
		IP:          req.IP,
	})
	if err != nil {
		e.logger.Error("otp confirmation failed", "error", err)
		return nil, err
	}
	if out.State == flows.StateRejected {
		op := audit.OperationLogin
		if out.Rejection.Kind == flows.RejectOTP {
			op = audit.OperationOTP
		}
		return nil, e.reject(ctx, req, op, out.Rejection)
	}

	e.metricInc(MetricOTPSuccess)
	e.auditSuccess(ctx, req, audit.OperationOTP, out.Principal.ID, reasonOTPSuccess, "")
	return e.establish(ctx, req, out.Principal, out.Principal.ID, audit.OperationLogin)
}

// reject audits r and converts it to the client-facing error.
func (e *Engine) reject(ctx context.Context, req *Request, op audit.Operation, r *flows.Rejection) error {
	e.auditFailure(ctx, req, op, r.User, r.Reason)

	switch r.Kind {
	case flows.RejectRateLimited:
		e.metricInc(MetricLoginRateLimited)
		return ErrLoginRateLimited
	case flows.RejectOTP:
		e.metricInc(MetricOTPFailure)
		return ErrInvalidOTP
	case flows.RejectPolicy:
		e.metricInc(MetricPolicyRejected)
		return ErrPolicyRejected
	case flows.RejectDelivery:
		e.metricInc(MetricOTPDeliveryFailed)
		return ErrOTPDeliveryFailed
	case flows.RejectCapacity:
		e.metricInc(MetricMaxUsersReached)
		return ErrMaxUsersReached
	default:
		if r.Reason == flows.ReasonLocked {
			e.metricInc(MetricLoginLocked)
		}
		e.metricInc(MetricLoginFailure)
		return ErrInvalidCredentials
	}
}

// establish runs login hooks, creates the session, applies the
// multi-session policy, audits success and stages cookies.
func (e *Engine) establish(ctx context.Context, req *Request, p *principal.Principal, identifier string, op audit.Operation) (*LoginResponse, error) {
	if err := e.runLoginHooks(ctx, LoginEvent{Request: req, Principal: p, Identifier: identifier}); err != nil {
		if errors.Is(err, ErrMaxUsersReached) {
			return nil, e.reject(ctx, req, op, &flows.Rejection{
				Kind:   flows.RejectCapacity,
				Reason: reasonMaxUsers,
				User:   p.ID,
			})
		}
		e.auditFailure(ctx, req, op, p.ID, reasonHookFailed)
		e.metricInc(MetricLoginFailure)
		e.logger.Error("login hook failed", "principal", p.ID, "error", err)
		return nil, err
	}

	ttl := e.config.Session.TTL
	if req.Device == DeviceMobile && e.config.Session.MobileTTL > 0 {
		ttl = e.config.Session.MobileTTL
	}
	sess, err := e.sessions.Create(ctx, req.TenantID, p.ID, ttl, session.Metadata{
		UserType: p.Kind.String(),
		FullName: displayName(p),
		Device:   req.Device,
		Country:  req.Country,
		IP:       req.IP,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	e.metricInc(MetricSessionCreated)

	e.enforceSessionLimit(ctx, req, p, sess)

	e.metricInc(MetricLoginSuccess)
	e.auditSuccess(ctx, req, op, p.ID, reasonLoginSuccess, sess.ID)

	req.Session = sess
	e.stageLoginCookies(req, p, sess)

	resp := &LoginResponse{
		FullName:  displayName(p),
		SessionID: sess.ID,
	}
	if p.Kind.IsSystem() {
		resp.Message = MessageLoggedIn
		resp.HomePage = e.config.Login.DeskHomePage
	} else {
		resp.Message = MessageNoApp
		resp.HomePage = e.websiteHomePage(ctx, p)
	}
	resp.RedirectTo = e.popRedirectAfterLogin(ctx, req.TenantID, p.ID)
	return resp, nil
}

// enforceSessionLimit removes older sessions after sess was created. It
// never fails the login.
func (e *Engine) enforceSessionLimit(ctx context.Context, req *Request, p *principal.Principal, sess *session.Session) {
	if e.config.Session.DenyMultipleSessions {
		if _, err := e.ClearSessions(ctx, req.TenantID, p.ID, sess.ID, reasonOtherSession); err != nil {
			e.logger.Warn("single session enforcement failed", "principal", p.ID, "error", err)
		}
		return
	}
	if p.SimultaneousSessions <= 0 {
		return
	}

	live, err := e.sessions.ListForPrincipal(ctx, req.TenantID, p.ID)
	if err != nil {
		e.logger.Warn("session limit check failed", "principal", p.ID, "error", err)
		return
	}
	excess := len(live) - p.SimultaneousSessions
	for _, old := range live {
		if excess <= 0 {
			break
		}
		if old.ID == sess.ID {
			continue
		}
		if err := e.DeleteSession(ctx, req.TenantID, old.ID, reasonSessionLimit); err != nil {
			e.logger.Warn("session limit eviction failed", "principal", p.ID, "error", err)
			return
		}
		excess--
	}
}

func (e *Engine) stageLoginCookies(req *Request, p *principal.Principal, sess *session.Session) {
	if req.Cookies == nil {
		return
	}
	req.Cookies.InitCookies(sess.ID, sess.Country, sess.ExpiresAt)
	systemUser := "no"
	if p.Kind.IsSystem() {
		systemUser = "yes"
	}
	req.Cookies.Stage(cookie.SystemUser, systemUser, time.Time{})
	req.Cookies.Stage(cookie.FullName, displayName(p), time.Time{})
	req.Cookies.Stage(cookie.UserID, p.ID, time.Time{})
	req.Cookies.Stage(cookie.UserImage, p.UserImage, time.Time{})
}

func (e *Engine) websiteHomePage(ctx context.Context, p *principal.Principal) string {
	if e.homePage != nil {
		if page := e.homePage(ctx, p); page != "" {
			return page
		}
	}
	return e.config.Login.WebsiteHomePage
}

/*
====================================
REDIRECT AFTER LOGIN
====================================
*/

func redirectField(tenantID, principalID string) string {
	if tenantID == "" {
		tenantID = "0"
	}
	return tenantID + ":" + principalID
}

// SetRedirectAfterLogin stores a one-shot path returned by the next
// successful login of principalID.
func (e *Engine) SetRedirectAfterLogin(ctx context.Context, tenantID, principalID, path string) error {
	if !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") {
		return fmt.Errorf("redirect path %q must be site-relative", path)
	}
	if err := e.redis.HSet(ctx, redirectAfterLoginHash, redirectField(tenantID, principalID), path).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	return nil
}

func (e *Engine) popRedirectAfterLogin(ctx context.Context, tenantID, principalID string) string {
	field := redirectField(tenantID, principalID)
	var get *redis.StringCmd
	_, err := e.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.HGet(ctx, redirectAfterLoginHash, field)
		pipe.HDel(ctx, redirectAfterLoginHash, field)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		e.logger.Warn("redirect after login lookup failed", "principal", principalID, "error", err)
		return ""
	}
	path, err := get.Result()
	if err != nil {
		return ""
	}
	return path
}

func displayName(p *principal.Principal) string {
	if name := p.FullName(); name != "" {
		return name
	}
	return p.ID
}
