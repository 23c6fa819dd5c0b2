package goGate

import (
	"context"
	"fmt"

	"github.com/MrEthical07/goGate/internal/flows"
	"github.com/MrEthical07/goGate/principal"
)

// SetPrincipalEnabled enables or disables id. Disabling force-logs-out every
// session of id after running logout hooks. Administrator and Guest cannot
// be disabled.
func (e *Engine) SetPrincipalEnabled(ctx context.Context, req *Request, id string, enabled bool) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if !req.IsSystemUser() {
		return ErrNotPermitted
	}
	if !enabled && principal.IsStandard(id) {
		return ErrStandardPrincipal
	}

	if err := e.repo.SetField(ctx, id, principal.FieldEnabled, principal.FormatBool(enabled)); err != nil {
		return err
	}
	if enabled {
		return nil
	}

	e.metricInc(MetricPrincipalDisabled)
	if id == req.User() {
		// The requester disabled themselves; every session goes, this one
		// included.
		if err := e.runLogoutHooks(ctx, req.TenantID, id); err != nil {
			return err
		}
		if _, err := e.ClearSessions(ctx, req.TenantID, id, "", reasonUserDisabled); err != nil {
			return err
		}
		if req.Cookies != nil {
			req.Cookies.ClearIdentity()
		}
		req.Session = guestSession(req)
		return nil
	}

	_, err := e.flow.Logout(ctx, flows.LogoutRequest{
		TenantID:           req.TenantID,
		RequesterSession:   req.Session.ID,
		RequesterPrincipal: req.User(),
		Target:             id,
		Reason:             reasonUserDisabled,
	})
	if err != nil {
		return err
	}
	e.metricInc(MetricForcedLogout)
	return nil
}

// ResetOTPSecret unbinds the authenticator secret of id so the next login
// enrolls again, and notifies id by mail when possible. Only Administrator
// or id itself may do this.
func (e *Engine) ResetOTPSecret(ctx context.Context, req *Request, id string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if req.User() != principal.Administrator && req.User() != id {
		return ErrNotPermitted
	}

	p, err := principal.Load(ctx, e.repo, id)
	if err != nil {
		return err
	}
	if err := e.otp.ResetSecret(ctx, id); err != nil {
		return err
	}
	e.logger.Info("otp secret reset", "principal", id, "by", req.User())

	if p.Email == "" || e.deliverer == nil {
		return nil
	}
	issuer := e.config.TwoFactor.Issuer
	subject := "OTP Secret Reset - " + issuer
	body := fmt.Sprintf("Your OTP secret on %s has been reset. If you did not perform this reset "+
		"and did not request it, please contact your System Administrator immediately.", issuer)
	if err := e.deliverer.EnqueueMail(ctx, p.Email, subject, body); err != nil {
		e.logger.Warn("otp reset notice not queued", "principal", id, "error", err)
	}
	return nil
}
