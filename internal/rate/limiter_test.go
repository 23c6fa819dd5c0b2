package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, cfg), mr
}

func TestLoginBudget(t *testing.T) {
	l, _ := newTestLimiter(t, Config{Enabled: true, MaxLoginAttempts: 3, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.CheckLogin(ctx, "t1", "alice", ""); err != nil {
			t.Fatalf("attempt %d: unexpected %v", i, err)
		}
		if err := l.IncrementLogin(ctx, "t1", "alice", ""); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}
	if err := l.CheckLogin(ctx, "t1", "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.CheckLogin(ctx, "t2", "alice", ""); err != nil {
		t.Fatalf("other tenant must not share the budget: %v", err)
	}

	n, err := l.Attempts(ctx, "t1", "ALICE ")
	if err != nil || n != 3 {
		t.Fatalf("Attempts = %d, %v; identifier must be normalized", n, err)
	}

	if err := l.ResetLogin(ctx, "t1", "alice", ""); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := l.CheckLogin(ctx, "t1", "alice", ""); err != nil {
		t.Fatalf("after reset: %v", err)
	}
}

func TestWindowExpires(t *testing.T) {
	l, mr := newTestLimiter(t, Config{Enabled: true, MaxLoginAttempts: 1, Window: time.Minute})
	ctx := context.Background()

	_ = l.IncrementLogin(ctx, "t", "bob", "")
	if err := l.CheckLogin(ctx, "t", "bob", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected limit, got %v", err)
	}
	mr.FastForward(61 * time.Second)
	if err := l.CheckLogin(ctx, "t", "bob", ""); err != nil {
		t.Fatalf("window should have reset: %v", err)
	}
}

func TestIPThrottle(t *testing.T) {
	l, _ := newTestLimiter(t, Config{Enabled: true, EnableIPThrottle: true, MaxLoginAttempts: 2})
	ctx := context.Background()

	_ = l.IncrementLogin(ctx, "t", "a", "10.0.0.1")
	_ = l.IncrementLogin(ctx, "t", "b", "10.0.0.1")
	if err := l.CheckLogin(ctx, "t", "c", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected IP limit, got %v", err)
	}
	if err := l.CheckLogin(ctx, "t", "c", "10.0.0.2"); err != nil {
		t.Fatalf("other IP: %v", err)
	}
}

func TestDisabledLimiterIsNoop(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxLoginAttempts: 1})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := l.IncrementLogin(ctx, "t", "x", "1.1.1.1"); err != nil {
			t.Fatal(err)
		}
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("disabled limiter wrote keys: %v", mr.Keys())
	}
	var nilLimiter *Limiter
	if err := nilLimiter.CheckLogin(ctx, "t", "x", ""); err != nil {
		t.Fatal(err)
	}
}

func TestRedisDown(t *testing.T) {
	l, mr := newTestLimiter(t, Config{Enabled: true, MaxLoginAttempts: 1})
	mr.Close()
	if err := l.CheckLogin(context.Background(), "t", "x", ""); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
