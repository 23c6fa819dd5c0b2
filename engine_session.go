package goGate

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goGate/internal"
	"github.com/MrEthical07/goGate/internal/audit"
	"github.com/MrEthical07/goGate/internal/flows"
	"github.com/MrEthical07/goGate/principal"
	"github.com/MrEthical07/goGate/session"
)

const (
	reasonSessionPurged = "Session Expired"
	reasonUserDisabled  = "User Disabled"
)

// Resume resolves sid into req.Session and re-stages the session cookie.
// Unknown, expired and corrupt sessions demote the request to Guest and
// are not errors; only a backend failure is returned. A session stored
// without a country takes the request's geo header value.
func (e *Engine) Resume(ctx context.Context, req *Request, sid string) error {
	if sid == "" || sid == principal.Guest {
		req.Session = guestSession(req)
		return nil
	}

	sess, err := e.sessions.Resume(ctx, req.TenantID, sid)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrExpired), errors.Is(err, session.ErrCorrupt):
		e.metricInc(MetricSessionDemoted)
		e.logger.Debug("session demoted to guest", "sid", redactSID(sid), "cause", err)
		req.Session = guestSession(req)
		return nil
	default:
		return fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}

	e.metricInc(MetricSessionResumed)
	req.Session = sess
	country := sess.Country
	if country == "" {
		country = req.Country
	}
	req.Country = country
	if req.Cookies != nil {
		req.Cookies.InitCookies(sess.ID, country, sess.ExpiresAt)
	}
	return nil
}

// BootstrapGuest makes req a Guest request without touching the store.
// Guest sessions are transient, so no cookie is staged or deleted. A stale
// sid left in the browser is overwritten by the next login.
func (e *Engine) BootstrapGuest(req *Request) {
	req.Session = guestSession(req)
}

// Logout ends sessions. With an empty target or the requester's own id it
// deletes the current session and clears identity cookies. Otherwise it
// removes every session of target, which requires a system user.
func (e *Engine) Logout(ctx context.Context, req *Request, target string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if req.IsGuest() {
		return ErrNotLoggedIn
	}
	if target != "" && target != req.User() && !req.IsSystemUser() {
		return ErrNotPermitted
	}

	res, err := e.flow.Logout(ctx, flows.LogoutRequest{
		TenantID:           req.TenantID,
		RequesterSession:   req.Session.ID,
		RequesterPrincipal: req.User(),
		Target:             target,
	})
	if err != nil {
		return err
	}

	if res.Self {
		e.metricInc(MetricLogout)
		if req.Cookies != nil {
			req.Cookies.ClearIdentity()
		}
		req.Session = guestSession(req)
		return nil
	}
	e.metricInc(MetricForcedLogout)
	return nil
}

// DeleteSession removes one session and audits it with reason. Deleting an
// absent session is a no-op and writes no event.
func (e *Engine) DeleteSession(ctx context.Context, tenantID, sid, reason string) error {
	sess, err := e.sessions.Delete(ctx, tenantID, sid)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	if sess == nil {
		return nil
	}
	e.auditSuccess(ctx, &Request{TenantID: tenantID, IP: sess.IP}, audit.OperationLogout, sess.Principal, reason, sess.ID)
	return nil
}

// ClearSessions removes every session of principalID except keep, and
// audits each removal. Sessions created after the call starts survive.
func (e *Engine) ClearSessions(ctx context.Context, tenantID, principalID, keep, reason string) (int, error) {
	ids, err := e.sessions.ClearAllFor(ctx, tenantID, principalID, keep)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	for _, sid := range ids {
		e.auditSuccess(ctx, &Request{TenantID: tenantID}, audit.OperationLogout, principalID, reason, sid)
	}
	e.metrics.Add(MetricSessionsCleared, len(ids))
	return len(ids), nil
}

// sessionReaper adapts the engine to the logout flow.
type sessionReaper struct{ e *Engine }

func (r sessionReaper) DeleteSession(ctx context.Context, tenantID, sid, reason string) error {
	return r.e.DeleteSession(ctx, tenantID, sid, reason)
}

func (r sessionReaper) ClearAllFor(ctx context.Context, tenantID, principalID, keep, reason string) (int, error) {
	return r.e.ClearSessions(ctx, tenantID, principalID, keep, reason)
}

// PurgeExpiredSessions is the expiry sweep. It is not called on the request
// path.
func (e *Engine) PurgeExpiredSessions(ctx context.Context) (int, error) {
	n, err := e.sessions.PurgeExpired(ctx)
	e.metrics.Add(MetricSessionsPurged, n)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	if n > 0 {
		e.logger.Info("expired sessions purged", "count", n, "reason", reasonSessionPurged)
	}
	return n, nil
}

// ListSessions returns the live sessions of principalID, oldest first.
func (e *Engine) ListSessions(ctx context.Context, tenantID, principalID string) ([]*session.Session, error) {
	return e.sessions.ListForPrincipal(ctx, tenantID, principalID)
}

// SetSessionData stores a session-scoped value on the current session. An
// empty value removes the key.
func (e *Engine) SetSessionData(ctx context.Context, req *Request, key, value string) error {
	if req.IsGuest() {
		return ErrNotLoggedIn
	}
	if err := e.sessions.SetData(ctx, req.TenantID, req.Session.ID, key, value); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrSessionExpired
		}
		return err
	}
	if value == "" {
		delete(req.Session.Data, key)
		return nil
	}
	if req.Session.Data == nil {
		req.Session.Data = make(map[string]string)
	}
	req.Session.Data[key] = value
	return nil
}

func redactSID(sid string) string {
	if sid == "" {
		return ""
	}
	return internal.Redact(sid)
}
