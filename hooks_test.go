package goGate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goGate/internal/audit"
	"github.com/MrEthical07/goGate/principal"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestBuildRejectsUnknownHook(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cfg := testConfig()
	cfg.Hooks.Login = append(cfg.Hooks.Login, "send-welcome-pack")
	_, err := New().WithConfig(cfg).WithRedis(rdb).WithRepository(principal.NewMemoryRepository()).Build()
	if !errors.Is(err, ErrUnknownHook) {
		t.Fatalf("expected ErrUnknownHook, got %v", err)
	}
}

func TestBuildRejectsDuplicateHook(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	noop := LoginHookFunc(func(context.Context, LoginEvent) error { return nil })
	_, err := New().
		WithConfig(testConfig()).
		WithRedis(rdb).
		WithRepository(principal.NewMemoryRepository()).
		RegisterLoginHook(HookMaxUsers, noop).
		Build()
	if err == nil {
		t.Fatal("expected duplicate hook error")
	}
}

func TestMaxUsersHook(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Login.MaxSystemUsers = 1 })
	ctx := context.Background()
	env.login(t, "alice@example.com")

	env.repo.Put("dave@example.com", principal.Fields{
		principal.FieldKind:         "System User",
		principal.FieldEnabled:      "1",
		principal.FieldPasswordHash: env.hash,
	})

	req := env.request()
	_, err := env.engine.Login(ctx, req, LoginCredentials{Identifier: "alice@example.com", Password: testPassword})
	if !errors.Is(err, ErrMaxUsersReached) {
		t.Fatalf("expected ErrMaxUsersReached, got %v", err)
	}
	if !req.IsGuest() {
		t.Fatal("capacity rejection must not create a session")
	}
	failures := env.events(audit.OperationLogin, audit.OutcomeFailure)
	if len(failures) != 1 || failures[0].Reason != reasonMaxUsers {
		t.Fatalf("unexpected failures %+v", failures)
	}

	env.login(t, principal.Administrator)
	env.login(t, "bob@example.com")
}

func TestRecordLastLoginHook(t *testing.T) {
	env := newTestEnv(t, nil)
	env.login(t, "bob@example.com")

	f, err := env.repo.GetFields(context.Background(), "bob@example.com", principal.FieldLastLogin, principal.FieldLastIP)
	if err != nil {
		t.Fatal(err)
	}
	if f[principal.FieldLastLogin] != env.clock.Now().UTC().Format(time.RFC3339) {
		t.Fatalf("unexpected last login %q", f[principal.FieldLastLogin])
	}
	if f[principal.FieldLastIP] != "203.0.113.7" {
		t.Fatalf("unexpected last ip %q", f[principal.FieldLastIP])
	}
}

func TestNotifyAdministratorLoginHook(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Login.AdminLoginRecipients = []string{"ops@example.com", "sec@example.com"}
		c.Login.SiteURL = "https://erp.example.com"
	})
	env.login(t, "alice@example.com")
	if len(env.mail.mail) != 0 {
		t.Fatal("non-administrator login must not notify")
	}

	env.login(t, principal.Administrator)
	if len(env.mail.mail) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(env.mail.mail))
	}
	for _, m := range env.mail.mail {
		if m.subject != "Administrator Logged In" {
			t.Fatalf("unexpected subject %q", m.subject)
		}
	}
}

func TestCustomLoginHookFailure(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Hooks.Login = append(c.Hooks.Login, "crm-sync")
	}, func(b *Builder) {
		b.RegisterLoginHook("crm-sync", LoginHookFunc(func(context.Context, LoginEvent) error {
			return errors.New("crm unavailable")
		}))
	})

	req := env.request()
	_, err := env.engine.Login(context.Background(), req, LoginCredentials{Identifier: "bob@example.com", Password: testPassword})
	if err == nil || errors.Is(err, ErrMaxUsersReached) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if !req.IsGuest() {
		t.Fatal("hook failure must not create a session")
	}
	failures := env.events(audit.OperationLogin, audit.OutcomeFailure)
	if len(failures) != 1 || failures[0].Reason != reasonHookFailed {
		t.Fatalf("unexpected failures %+v", failures)
	}
}

func TestLoginHooksRunInConfiguredOrder(t *testing.T) {
	var order []string
	record := func(name string) LoginHook {
		return LoginHookFunc(func(context.Context, LoginEvent) error {
			order = append(order, name)
			return nil
		})
	}
	env := newTestEnv(t, func(c *Config) {
		c.Hooks.Login = []string{"second", "first"}
	}, func(b *Builder) {
		b.RegisterLoginHook("first", record("first")).RegisterLoginHook("second", record("second"))
	})
	env.login(t, "bob@example.com")
	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Fatalf("unexpected order %v", order)
	}
}
