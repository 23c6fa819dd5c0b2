package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	Enabled          bool
	EnableIPThrottle bool
	MaxLoginAttempts int
	Window           time.Duration
}

// Limiter enforces per-identifier and per-IP login budgets using Redis
// counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

func loginUserKey(tenantID, identifier string) string {
	return "gl:" + tenantID + ":" + strings.ToLower(strings.TrimSpace(identifier))
}

func loginIPKey(ip string) string {
	return "gli:" + ip
}

// CheckLogin reports ErrRateLimited when either budget is already spent.
// It does not consume budget.
func (l *Limiter) CheckLogin(ctx context.Context, tenantID, identifier, ip string) error {
	if l == nil || !l.config.Enabled {
		return nil
	}
	if err := l.checkCounter(ctx, loginUserKey(tenantID, identifier), l.config.MaxLoginAttempts); err != nil {
		return err
	}

	if l.config.EnableIPThrottle && ip != "" {
		if err := l.checkCounter(ctx, loginIPKey(ip), l.config.MaxLoginAttempts); err != nil {
			return err
		}
	}

	return nil
}

// IncrementLogin records a failed attempt for the identifier and IP.
func (l *Limiter) IncrementLogin(ctx context.Context, tenantID, identifier, ip string) error {
	if l == nil || !l.config.Enabled {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, loginUserKey(tenantID, identifier), l.config.Window)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxLoginAttempts) {
		return ErrRateLimited
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.incrementWithTTL(ctx, loginIPKey(ip), l.config.Window)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxLoginAttempts) {
			return ErrRateLimited
		}
	}

	return nil
}

// ResetLogin clears the counters after a successful login.
func (l *Limiter) ResetLogin(ctx context.Context, tenantID, identifier, ip string) error {
	if l == nil || !l.config.Enabled {
		return nil
	}
	keys := []string{loginUserKey(tenantID, identifier)}
	if l.config.EnableIPThrottle && ip != "" {
		keys = append(keys, loginIPKey(ip))
	}

	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Attempts returns the current counter for an identifier. Missing keys
// return zero.
func (l *Limiter) Attempts(ctx context.Context, tenantID, identifier string) (int, error) {
	if l == nil {
		return 0, nil
	}
	count, err := l.redis.Get(ctx, loginUserKey(tenantID, identifier)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(maxAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
