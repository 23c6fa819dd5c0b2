package goGate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goGate/principal"
)

// Built-in hook names.
const (
	HookResetLoginThrottle       = "reset-login-throttle"
	HookMaxUsers                 = "max-users"
	HookRecordLastLogin          = "record-last-login"
	HookNotifyAdministratorLogin = "notify-administrator-login"
)

// LoginEvent is passed to login hooks after every check has passed and
// before the session is created.
type LoginEvent struct {
	Request    *Request
	Principal  *principal.Principal
	Identifier string
}

// LoginHook runs on every successful login, in configured order. An error
// aborts the login; return ErrMaxUsersReached to report a capacity limit.
type LoginHook interface {
	OnLogin(ctx context.Context, ev LoginEvent) error
}

// LogoutHook runs before sessions are deleted. An error aborts the logout.
type LogoutHook interface {
	OnLogout(ctx context.Context, tenantID, principalID string) error
}

// LoginHookFunc adapts a function to LoginHook.
type LoginHookFunc func(ctx context.Context, ev LoginEvent) error

func (f LoginHookFunc) OnLogin(ctx context.Context, ev LoginEvent) error { return f(ctx, ev) }

// LogoutHookFunc adapts a function to LogoutHook.
type LogoutHookFunc func(ctx context.Context, tenantID, principalID string) error

func (f LogoutHookFunc) OnLogout(ctx context.Context, tenantID, principalID string) error {
	return f(ctx, tenantID, principalID)
}

type namedLoginHook struct {
	name string
	hook LoginHook
}

type namedLogoutHook struct {
	name string
	hook LogoutHook
}

// hookRegistry maps names to implementations until Build resolves the
// configured lists.
type hookRegistry struct {
	login  map[string]LoginHook
	logout map[string]LogoutHook
}

func newHookRegistry() *hookRegistry {
	return &hookRegistry{
		login:  make(map[string]LoginHook),
		logout: make(map[string]LogoutHook),
	}
}

func (r *hookRegistry) addLogin(name string, h LoginHook) error {
	name = strings.TrimSpace(name)
	if name == "" || h == nil {
		return errors.New("login hook requires a name and implementation")
	}
	if _, dup := r.login[name]; dup {
		return fmt.Errorf("login hook %q registered twice", name)
	}
	r.login[name] = h
	return nil
}

func (r *hookRegistry) addLogout(name string, h LogoutHook) error {
	name = strings.TrimSpace(name)
	if name == "" || h == nil {
		return errors.New("logout hook requires a name and implementation")
	}
	if _, dup := r.logout[name]; dup {
		return fmt.Errorf("logout hook %q registered twice", name)
	}
	r.logout[name] = h
	return nil
}

func (r *hookRegistry) resolve(cfg HooksConfig) ([]namedLoginHook, []namedLogoutHook, error) {
	login := make([]namedLoginHook, 0, len(cfg.Login))
	for _, name := range cfg.Login {
		h, ok := r.login[name]
		if !ok {
			return nil, nil, fmt.Errorf("%w: login hook %q", ErrUnknownHook, name)
		}
		login = append(login, namedLoginHook{name: name, hook: h})
	}
	logout := make([]namedLogoutHook, 0, len(cfg.Logout))
	for _, name := range cfg.Logout {
		h, ok := r.logout[name]
		if !ok {
			return nil, nil, fmt.Errorf("%w: logout hook %q", ErrUnknownHook, name)
		}
		logout = append(logout, namedLogoutHook{name: name, hook: h})
	}
	return login, logout, nil
}

/*
====================================
BUILT-IN HOOKS
====================================
*/

func (e *Engine) registerBuiltinHooks(r *hookRegistry) {
	r.login[HookResetLoginThrottle] = LoginHookFunc(e.resetLoginThrottleHook)
	r.login[HookMaxUsers] = LoginHookFunc(e.maxUsersHook)
	r.login[HookRecordLastLogin] = LoginHookFunc(e.recordLastLoginHook)
	r.login[HookNotifyAdministratorLogin] = LoginHookFunc(e.notifyAdministratorHook)
}

func (e *Engine) resetLoginThrottleHook(ctx context.Context, ev LoginEvent) error {
	identifier := ev.Identifier
	if identifier == "" {
		identifier = ev.Principal.ID
	}
	if err := e.limiter.ResetLogin(ctx, ev.Request.TenantID, identifier, ev.Request.IP); err != nil {
		e.logger.Warn("login throttle reset failed", "principal", ev.Principal.ID, "error", err)
	}
	return nil
}

// maxUsersHook rejects system users once the tenant has more enabled system
// users than allowed. Administrator is never counted against the limit.
func (e *Engine) maxUsersHook(ctx context.Context, ev LoginEvent) error {
	limit := e.config.Login.MaxSystemUsers
	if limit <= 0 || ev.Principal.ID == principal.Administrator || !ev.Principal.Kind.IsSystem() {
		return nil
	}
	counter, ok := e.repo.(principal.SystemUserCounter)
	if !ok {
		return nil
	}
	n, err := counter.CountEnabledSystemUsers(ctx)
	if err != nil {
		return err
	}
	if n > limit {
		return ErrMaxUsersReached
	}
	return nil
}

func (e *Engine) recordLastLoginHook(ctx context.Context, ev LoginEvent) error {
	id := ev.Principal.ID
	if err := e.repo.SetField(ctx, id, principal.FieldLastLogin, principal.FormatTime(e.now())); err != nil {
		e.logger.Warn("last login not recorded", "principal", id, "error", err)
		return nil
	}
	if err := e.repo.SetField(ctx, id, principal.FieldLastIP, ev.Request.IP); err != nil {
		e.logger.Warn("last ip not recorded", "principal", id, "error", err)
	}
	return nil
}

func (e *Engine) notifyAdministratorHook(ctx context.Context, ev LoginEvent) error {
	if ev.Principal.ID != principal.Administrator || len(e.config.Login.AdminLoginRecipients) == 0 {
		return nil
	}
	if e.deliverer == nil {
		e.logger.Warn("administrator login notification skipped: no mail delivery configured")
		return nil
	}
	site := e.config.Login.SiteURL
	if site == "" {
		site = "the site"
	}
	body := fmt.Sprintf("Administrator accessed %s on %s via IP Address %s.",
		site, e.now().In(e.location).Format(time.RFC1123), ev.Request.IP)
	for _, to := range e.config.Login.AdminLoginRecipients {
		if err := e.deliverer.EnqueueMail(ctx, to, "Administrator Logged In", body); err != nil {
			e.logger.Warn("administrator login notification not queued", "error", err)
		}
	}
	return nil
}

func (e *Engine) runLoginHooks(ctx context.Context, ev LoginEvent) error {
	for _, h := range e.loginHooks {
		if err := h.hook.OnLogin(ctx, ev); err != nil {
			if errors.Is(err, ErrMaxUsersReached) {
				return err
			}
			return fmt.Errorf("login hook %s: %w", h.name, err)
		}
	}
	return nil
}

func (e *Engine) runLogoutHooks(ctx context.Context, tenantID, principalID string) error {
	for _, h := range e.logoutHooks {
		if err := h.hook.OnLogout(ctx, tenantID, principalID); err != nil {
			return fmt.Errorf("logout hook %s: %w", h.name, err)
		}
	}
	return nil
}
