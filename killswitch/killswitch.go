// Package killswitch answers one question per request: are sessions
// stopped? Operators flip the switch for maintenance; the gate rejects
// every request while it is set, whatever the caller's authentication.
package killswitch

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps backend failures. Callers decide whether an
// unreadable switch fails open or closed.
var ErrUnavailable = errors.New("kill-switch backend unavailable")

// Switch reports whether request processing is halted.
type Switch interface {
	Stopped(ctx context.Context) (bool, error)
}

// Static is a switch fixed at construction, e.g. from site config.
type Static bool

func (s Static) Stopped(context.Context) (bool, error) { return bool(s), nil }

// DefaultRedisKey is the flag key used by `gogate sessions stop|start`.
const DefaultRedisKey = "gogate:sessions_stopped"

// Redis keeps the flag in a single key so every node sees the same state.
type Redis struct {
	rdb redis.UniversalClient
	key string
}

func NewRedis(rdb redis.UniversalClient, key string) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{rdb: rdb, key: key}
}

func (r *Redis) Stopped(ctx context.Context) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

// Stop sets the flag.
func (r *Redis) Stop(ctx context.Context) error {
	if err := r.rdb.Set(ctx, r.key, "1", 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Start clears the flag.
func (r *Redis) Start(ctx context.Context) error {
	if err := r.rdb.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Any is stopped when any member is stopped. The first backend error wins
// over later members.
type Any []Switch

func (a Any) Stopped(ctx context.Context) (bool, error) {
	for _, s := range a {
		if s == nil {
			continue
		}
		stopped, err := s.Stopped(ctx)
		if err != nil {
			return false, err
		}
		if stopped {
			return true, nil
		}
	}
	return false, nil
}
