package goGate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goGate/cookie"
	"github.com/MrEthical07/goGate/credential"
	"github.com/MrEthical07/goGate/internal/audit"
	"github.com/MrEthical07/goGate/internal/flows"
	"github.com/MrEthical07/goGate/password"
	"github.com/MrEthical07/goGate/principal"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "correct-horse-battery"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{now: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentMessage struct {
	to, subject, body string
}

type recordingDeliverer struct {
	mu   sync.Mutex
	fail bool
	mail []sentMessage
	sms  []sentMessage
}

func (d *recordingDeliverer) EnqueueMail(_ context.Context, to, subject, body string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return errors.New("smtp relay down")
	}
	d.mail = append(d.mail, sentMessage{to: to, subject: subject, body: body})
	return nil
}

func (d *recordingDeliverer) EnqueueSMS(_ context.Context, to, body string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return errors.New("gateway down")
	}
	d.sms = append(d.sms, sentMessage{to: to, body: body})
	return nil
}

func (d *recordingDeliverer) lastMail() sentMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.mail) == 0 {
		return sentMessage{}
	}
	return d.mail[len(d.mail)-1]
}

type testEnv struct {
	engine *Engine
	repo   *principal.MemoryRepository
	log    *audit.MemoryLog
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	mail   *recordingDeliverer
	clock  *testClock
	hash   string
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password = password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
		MinLength:   8,
	}
	cfg.Metrics.Enabled = true
	cfg.Login.TimeZone = "UTC"
	cfg.Ticket.SigningKey = strings.Repeat("k", 32)
	return cfg
}

func newTestEnv(t *testing.T, mutate func(*Config), opts ...func(*Builder)) *testEnv {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	hash, err := hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	repo := principal.NewMemoryRepository()
	repo.Put(principal.Administrator, principal.Fields{
		principal.FieldEnabled:      "1",
		principal.FieldPasswordHash: hash,
		principal.FieldFirstName:    "Administrator",
		principal.FieldEmail:        "admin@example.com",
	})
	repo.Put("alice@example.com", principal.Fields{
		principal.FieldKind:         "System User",
		principal.FieldEnabled:      "1",
		principal.FieldPasswordHash: hash,
		principal.FieldUsername:     "alice",
		principal.FieldMobileNo:     "+15550100",
		principal.FieldEmail:        "alice@example.com",
		principal.FieldFirstName:    "Alice",
		principal.FieldLastName:     "Smith",
		principal.FieldUserImage:    "/files/alice.png",
	})
	repo.Put("bob@example.com", principal.Fields{
		principal.FieldKind:         "Website User",
		principal.FieldEnabled:      "1",
		principal.FieldPasswordHash: hash,
		principal.FieldEmail:        "bob@example.com",
		principal.FieldFirstName:    "Bob",
	})
	repo.Put("carol@example.com", principal.Fields{
		principal.FieldKind:         "System User",
		principal.FieldEnabled:      "0",
		principal.FieldPasswordHash: hash,
	})

	clock := newTestClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	log := audit.NewMemoryLog()
	mail := &recordingDeliverer{}

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithRepository(repo).
		WithAuditLog(log).
		WithDeliverer(mail).
		WithClock(clock.Now)
	for _, opt := range opts {
		opt(b)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{
		engine: engine,
		repo:   repo,
		log:    log,
		mr:     mr,
		rdb:    rdb,
		mail:   mail,
		clock:  clock,
		hash:   hash,
	}
}

func (env *testEnv) request() *Request {
	return NewRequest("acme", "203.0.113.7", "desktop", cookie.Policy{Secure: true, HTTPOnlySID: true})
}

func (env *testEnv) login(t *testing.T, identifier string) (*Request, *LoginResponse) {
	t.Helper()
	req := env.request()
	resp, err := env.engine.Login(context.Background(), req, LoginCredentials{Identifier: identifier, Password: testPassword})
	if err != nil {
		t.Fatalf("login %s: %v", identifier, err)
	}
	return req, resp
}

func (env *testEnv) events(op audit.Operation, outcome audit.Outcome) []audit.Event {
	var out []audit.Event
	for _, ev := range env.log.Events() {
		if ev.Operation == op && ev.Outcome == outcome {
			out = append(out, ev)
		}
	}
	return out
}

func flushCookies(req *Request) map[string]*http.Cookie {
	rec := httptest.NewRecorder()
	req.Cookies.Flush(rec)
	out := make(map[string]*http.Cookie)
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func TestBuildRequiresRedisAndRepository(t *testing.T) {
	if _, err := New().WithConfig(testConfig()).Build(); err == nil {
		t.Fatal("expected error without redis")
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	if _, err := New().WithConfig(testConfig()).WithRedis(rdb).Build(); err == nil {
		t.Fatal("expected error without repository")
	}
}

func TestBuilderSingleUse(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	b := New().WithConfig(testConfig()).WithRedis(rdb).WithRepository(principal.NewMemoryRepository())
	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer e.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestLoginSystemUser(t *testing.T) {
	env := newTestEnv(t, nil)
	req, resp := env.login(t, "alice@example.com")

	if resp.Message != MessageLoggedIn || resp.HomePage != "/desk" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.FullName != "Alice Smith" {
		t.Fatalf("unexpected full name %q", resp.FullName)
	}
	if req.User() != "alice@example.com" || req.Session.ID != resp.SessionID {
		t.Fatal("request session not updated")
	}

	cookies := flushCookies(req)
	sid := cookies[cookie.SID]
	if sid == nil || sid.Value != resp.SessionID {
		t.Fatalf("sid cookie missing: %+v", cookies)
	}
	wantExpiry := env.clock.Now().Add(72 * time.Hour)
	if d := sid.Expires.Sub(wantExpiry); d > time.Second || d < -time.Second {
		t.Fatalf("sid expiry %v, want about %v", sid.Expires, wantExpiry)
	}
	if !sid.HttpOnly || !sid.Secure {
		t.Fatal("sid cookie must be secure and http-only")
	}
	if cookies[cookie.SystemUser].Value != "yes" {
		t.Fatal("system_user cookie should be yes")
	}
	if cookies[cookie.FullName].Value != "Alice%20Smith" {
		t.Fatalf("full_name not percent-encoded: %q", cookies[cookie.FullName].Value)
	}
	if cookies[cookie.UserImage].Value != "/files/alice.png" {
		t.Fatalf("unexpected user_image %q", cookies[cookie.UserImage].Value)
	}

	if got := len(env.events(audit.OperationLogin, audit.OutcomeSuccess)); got != 1 {
		t.Fatalf("expected 1 login success event, got %d", got)
	}
	if env.engine.metrics.Value(MetricLoginSuccess) != 1 || env.engine.metrics.Value(MetricSessionCreated) != 1 {
		t.Fatal("login metrics not recorded")
	}
}

func TestLoginWebsiteUser(t *testing.T) {
	env := newTestEnv(t, nil)
	req, resp := env.login(t, "bob@example.com")

	if resp.Message != MessageNoApp || resp.HomePage != "/me" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if flushCookies(req)[cookie.SystemUser].Value != "no" {
		t.Fatal("system_user cookie should be no")
	}
}

func TestLoginWebsiteUserHomePageResolver(t *testing.T) {
	env := newTestEnv(t, nil, func(b *Builder) {
		b.WithHomePageResolver(func(_ context.Context, p *principal.Principal) string {
			return "/portal/" + p.FirstName
		})
	})
	_, resp := env.login(t, "bob@example.com")
	if resp.HomePage != "/portal/Bob" {
		t.Fatalf("unexpected home page %q", resp.HomePage)
	}
}

func TestLoginAliases(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Login.AllowUsernameLogin = true
		c.Login.AllowMobileLogin = true
	})

	for _, identifier := range []string{"alice", "+15550100", "alice@example.com"} {
		req, _ := env.login(t, identifier)
		if req.User() != "alice@example.com" {
			t.Fatalf("%s resolved to %q", identifier, req.User())
		}
	}
}

func TestLoginAliasesDisabled(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.engine.Login(context.Background(), env.request(), LoginCredentials{Identifier: "alice", Password: testPassword})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginFailuresAreAuditedOnceAndGeneric(t *testing.T) {
	tests := []struct {
		name       string
		identifier string
		password   string
		wantUser   string
		wantReason string
	}{
		{"wrong password", "alice@example.com", "wrong-password", "alice@example.com", credential.ReasonIncorrectPassword},
		{"unknown user", "nobody@example.com", testPassword, principal.UnknownUser, credential.ReasonIncorrectPassword},
		{"disabled user", "carol@example.com", testPassword, "carol@example.com", credential.ReasonDisabled},
		{"empty password", "alice@example.com", "", principal.UnknownUser, credential.ReasonIncomplete},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			req := env.request()

			resp, err := env.engine.Login(context.Background(), req, LoginCredentials{Identifier: tc.identifier, Password: tc.password})
			if !errors.Is(err, ErrInvalidCredentials) || resp != nil {
				t.Fatalf("expected ErrInvalidCredentials, got %v %+v", err, resp)
			}
			if err.Error() != ErrInvalidCredentials.Error() {
				t.Fatalf("error leaks detail: %q", err.Error())
			}

			events := env.log.Events()
			if len(events) != 1 {
				t.Fatalf("expected exactly one audit event, got %d", len(events))
			}
			ev := events[0]
			if ev.Outcome != audit.OutcomeFailure || ev.Principal != tc.wantUser || ev.Reason != tc.wantReason {
				t.Fatalf("unexpected event %+v", ev)
			}
			if ev.IP != "203.0.113.7" || ev.TenantID != "acme" {
				t.Fatalf("event missing request context: %+v", ev)
			}
			if !req.IsGuest() {
				t.Fatal("rejected login must not set a session")
			}
			if len(flushCookies(req)) != 0 {
				t.Fatal("rejected login must not stage cookies")
			}
		})
	}
}

func TestLoginAdministratorExemptFromEnabledCheck(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := env.repo.SetField(context.Background(), principal.Administrator, principal.FieldEnabled, "0"); err != nil {
		t.Fatal(err)
	}
	if _, resp := env.login(t, principal.Administrator); resp.Message != MessageLoggedIn {
		t.Fatalf("unexpected response %+v", resp)
	}

	_, err := env.engine.Login(context.Background(), env.request(), LoginCredentials{Identifier: principal.Administrator, Password: "nope-nope"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("administrator still needs the right password, got %v", err)
	}
}

func TestLoginUpgradesLegacyHash(t *testing.T) {
	env := newTestEnv(t, nil)
	legacy, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := env.repo.SetField(ctx, "bob@example.com", principal.FieldPasswordHash, string(legacy)); err != nil {
		t.Fatal(err)
	}

	env.login(t, "bob@example.com")

	f, _ := env.repo.GetFields(ctx, "bob@example.com", principal.FieldPasswordHash)
	if !strings.HasPrefix(f[principal.FieldPasswordHash], "$argon2id$") {
		t.Fatalf("hash not upgraded: %q", f[principal.FieldPasswordHash])
	}
	if env.engine.metrics.Value(MetricPasswordHashUpgraded) != 1 {
		t.Fatal("upgrade metric not recorded")
	}
	env.login(t, "bob@example.com")
}

func TestLoginIPAllowList(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	if err := env.repo.SetField(ctx, "alice@example.com", principal.FieldRestrictIP, "10.0.0.0/8, 192.168."); err != nil {
		t.Fatal(err)
	}

	req := env.request()
	_, err := env.engine.Login(ctx, req, LoginCredentials{Identifier: "alice@example.com", Password: testPassword})
	if !errors.Is(err, ErrPolicyRejected) {
		t.Fatalf("expected ErrPolicyRejected, got %v", err)
	}
	failures := env.events(audit.OperationLogin, audit.OutcomeFailure)
	if len(failures) != 1 || failures[0].Reason != flows.ReasonIPNotAllowed {
		t.Fatalf("unexpected failures %+v", failures)
	}
	if !req.IsGuest() {
		t.Fatal("policy rejection must not create a session")
	}

	for _, ip := range []string{"10.20.30.40", "192.168.1.9"} {
		req := NewRequest("acme", ip, "", cookie.Policy{})
		if _, err := env.engine.Login(ctx, req, LoginCredentials{Identifier: "alice@example.com", Password: testPassword}); err != nil {
			t.Fatalf("login from %s: %v", ip, err)
		}
	}
}

func TestLoginHoursWindow(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	_ = env.repo.SetField(ctx, "alice@example.com", principal.FieldLoginAfter, "9")
	_ = env.repo.SetField(ctx, "alice@example.com", principal.FieldLoginBefore, "17")

	env.clock.Advance(-9 * time.Hour) // 03:00 UTC
	_, err := env.engine.Login(ctx, env.request(), LoginCredentials{Identifier: "alice@example.com", Password: testPassword})
	if !errors.Is(err, ErrPolicyRejected) {
		t.Fatalf("expected ErrPolicyRejected, got %v", err)
	}

	env.clock.Advance(9 * time.Hour) // 12:00 UTC
	env.login(t, "alice@example.com")

	env.clock.Advance(6 * time.Hour) // 18:00 UTC
	_, err = env.engine.Login(ctx, env.request(), LoginCredentials{Identifier: "alice@example.com", Password: testPassword})
	if !errors.Is(err, ErrPolicyRejected) {
		t.Fatalf("expected ErrPolicyRejected after hours, got %v", err)
	}
}

func TestLoginThrottle(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.RateLimit.MaxLoginAttempts = 2
	})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := env.engine.Login(ctx, env.request(), LoginCredentials{Identifier: "alice@example.com", Password: "wrong-password"})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	_, err := env.engine.Login(ctx, env.request(), LoginCredentials{Identifier: "alice@example.com", Password: testPassword})
	if !errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("expected ErrLoginRateLimited, got %v", err)
	}
	if n := len(env.log.Events()); n != 3 {
		t.Fatalf("expected 3 audit events, got %d", n)
	}
}

func TestLoginResetsThrottleOnSuccess(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.RateLimit.MaxLoginAttempts = 2
	})
	ctx := context.Background()
	_, _ = env.engine.Login(ctx, env.request(), LoginCredentials{Identifier: "alice@example.com", Password: "wrong-password"})
	env.login(t, "alice@example.com")

	n, err := env.engine.limiter.Attempts(ctx, "acme", "alice@example.com")
	if err != nil || n != 0 {
		t.Fatalf("expected reset counter, got %d %v", n, err)
	}
}

func TestLoginLockoutFromAuditLog(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.RateLimit.Enabled = false
		c.Lockout.Threshold = 3
		c.Lockout.Window = time.Hour
	})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = env.engine.Login(ctx, env.request(), LoginCredentials{Identifier: "alice@example.com", Password: "wrong-password"})
	}

	_, err := env.engine.Login(ctx, env.request(), LoginCredentials{Identifier: "alice@example.com", Password: testPassword})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected lockout, got %v", err)
	}
	failures := env.events(audit.OperationLogin, audit.OutcomeFailure)
	if last := failures[len(failures)-1]; last.Reason != flows.ReasonLocked {
		t.Fatalf("expected lockout reason, got %q", last.Reason)
	}

	env.clock.Advance(2 * time.Hour)
	env.login(t, "alice@example.com")
}

func TestLoginMobileSessionTTL(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Session.MobileTTL = 30 * 24 * time.Hour
	})
	req := NewRequest("acme", "203.0.113.7", DeviceMobile, cookie.Policy{})
	if _, err := env.engine.Login(context.Background(), req, LoginCredentials{Identifier: "alice@example.com", Password: testPassword}); err != nil {
		t.Fatal(err)
	}
	if req.Session.TTL != 30*24*time.Hour {
		t.Fatalf("expected mobile ttl, got %v", req.Session.TTL)
	}
}

func TestLoginRedirectAfterLoginIsOneShot(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	if err := env.engine.SetRedirectAfterLogin(ctx, "acme", "alice@example.com", "/app/todo"); err != nil {
		t.Fatal(err)
	}
	if err := env.engine.SetRedirectAfterLogin(ctx, "acme", "alice@example.com", "https://evil.example"); err == nil {
		t.Fatal("absolute redirect must be refused")
	}

	if _, resp := env.login(t, "alice@example.com"); resp.RedirectTo != "/app/todo" {
		t.Fatalf("expected redirect, got %q", resp.RedirectTo)
	}
	if _, resp := env.login(t, "alice@example.com"); resp.RedirectTo != "" {
		t.Fatalf("redirect must be consumed, got %q", resp.RedirectTo)
	}
}

func TestLoginNotReady(t *testing.T) {
	var e Engine
	if _, err := e.Login(context.Background(), &Request{}, LoginCredentials{}); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}

func TestAuditUnavailableMatchesBackendErrors(t *testing.T) {
	err := fmt.Errorf("%w: %v", audit.ErrUnavailable, errors.New("disk I/O error"))
	if !errors.Is(err, ErrAuditUnavailable) {
		t.Fatalf("backend error %v does not match ErrAuditUnavailable", err)
	}
}
