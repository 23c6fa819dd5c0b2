package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/goGate/internal"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrRedisUnavailable wraps every Redis transport failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrNotFound is returned by Resume for unknown or malformed ids.
	ErrNotFound = errors.New("session not found")
	// ErrExpired is returned by Resume for records past their expiry.
	ErrExpired = errors.New("session expired")
	// ErrCorrupt is returned by Resume for records that fail to decode.
	ErrCorrupt = errors.New("session record corrupt")
)

const (
	memberSep        = "\x1f"
	defaultPurgeSize = 500
	maxWatchRetries  = 8
)

// Sessions at or below ARGV[1] in the principal's index are removed, except
// ARGV[2]. Returns the removed ids.
var clearForPrincipalLua = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
local removed = {}
for _, sid in ipairs(ids) do
  if sid ~= ARGV[2] then
    redis.call("DEL", ARGV[3] .. sid)
    redis.call("ZREM", KEYS[1], sid)
    redis.call("ZREM", KEYS[2], ARGV[4] .. sid)
    table.insert(removed, sid)
  end
end
return removed
`)

var deleteSessionLua = redis.NewScript(`
local existed = redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("ZREM", KEYS[3], ARGV[2])
return existed
`)

// Rewrites a record only while it still exists so a concurrent delete is
// never undone.
var touchSessionLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
redis.call("ZADD", KEYS[2], "XX", ARGV[3], ARGV[4])
return 1
`)

var purgeExpiredLua = redis.NewScript(`
local members = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
local n = 0
for _, m in ipairs(members) do
  local a = string.find(m, "\31", 1, true)
  local b = a and string.find(m, "\31", a + 1, true)
  if a and b then
    local tenant = string.sub(m, 1, a - 1)
    local principal = string.sub(m, a + 1, b - 1)
    local sid = string.sub(m, b + 1)
    redis.call("DEL", ARGV[3] .. ":" .. tenant .. ":" .. sid)
    redis.call("ZREM", ARGV[3] .. "u:" .. tenant .. ":" .. principal, sid)
  end
  redis.call("ZREM", KEYS[1], m)
  n = n + 1
end
return n
`)

// Config tunes a Store.
type Config struct {
	Prefix string
	// Sliding extends expiry by the session TTL on every resume.
	Sliding bool
	// ActivityWriteInterval limits how often Resume persists LastActivity
	// and the sliding expiry.
	// Zero writes on every resume.
	ActivityWriteInterval time.Duration
	// PurgeBatch bounds the work of one PurgeExpired script call.
	PurgeBatch int
	// Now overrides the clock.
	Now func() time.Time
}

// Store persists sessions in Redis.
type Store struct {
	redis  redis.UniversalClient
	config Config
	now    func() time.Time
}

// NewStore creates a session [Store] backed by the given Redis client.
func NewStore(rdb redis.UniversalClient, cfg Config) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = "gs"
	}
	if cfg.PurgeBatch <= 0 {
		cfg.PurgeBatch = defaultPurgeSize
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{redis: rdb, config: cfg, now: now}
}

func (s *Store) key(tenantID, sid string) string {
	return s.keyPrefix(tenantID) + sid
}

func (s *Store) keyPrefix(tenantID string) string {
	return s.config.Prefix + ":" + normalizeTenantID(tenantID) + ":"
}

func (s *Store) principalKey(tenantID, principal string) string {
	return s.config.Prefix + "u:" + normalizeTenantID(tenantID) + ":" + principal
}

func (s *Store) expiryKey() string {
	return s.config.Prefix + "x"
}

func (s *Store) seqKey() string {
	return s.config.Prefix + "seq"
}

func expiryMemberPrefix(tenantID, principal string) string {
	return normalizeTenantID(tenantID) + memberSep + principal + memberSep
}

func normalizeTenantID(tenantID string) string {
	if tenantID == "" {
		return "0"
	}
	return tenantID
}

// Create mints a new session for principal with the given lifetime.
// Concurrent calls for the same principal each produce a distinct record.
func (s *Store) Create(ctx context.Context, tenantID, principal string, ttl time.Duration, meta Metadata) (*Session, error) {
	if principal == "" {
		return nil, errors.New("session principal is required")
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be > 0")
	}

	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}
	csrf, err := internal.NewCSRFToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	sess := &Session{
		SchemaVersion: CurrentSchemaVersion,
		ID:            sid,
		TenantID:      normalizeTenantID(tenantID),
		Principal:     principal,
		UserType:      meta.UserType,
		FullName:      meta.FullName,
		CreatedAt:     now,
		LastActivity:  now,
		ExpiresAt:     now.Add(ttl),
		TTL:           ttl,
		Device:        meta.Device,
		Country:       meta.Country,
		IP:            meta.IP,
		CSRFToken:     csrf,
	}
	data, err := Encode(sess)
	if err != nil {
		return nil, err
	}

	seq, err := s.redis.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.TenantID, sid), data, ttl)
		pipe.ZAdd(ctx, s.principalKey(sess.TenantID, principal), redis.Z{Score: float64(seq), Member: sid})
		pipe.ZAdd(ctx, s.expiryKey(), redis.Z{
			Score:  float64(sess.ExpiresAt.UnixMilli()),
			Member: expiryMemberPrefix(sess.TenantID, principal) + sid,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return sess, nil
}

// Resume loads a live session and records activity. Expired and corrupt
// records are removed before the error is returned.
func (s *Store) Resume(ctx context.Context, tenantID, sid string) (*Session, error) {
	sess, err := s.load(ctx, tenantID, sid)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if sess.Expired(now) {
		if err := s.remove(ctx, sess); err != nil {
			return nil, err
		}
		return nil, ErrExpired
	}

	// Sliding expiry moves with LastActivity, so both are written at most
	// once per ActivityWriteInterval.
	if now.Sub(sess.LastActivity) >= s.config.ActivityWriteInterval {
		sess.LastActivity = now
		if s.config.Sliding && sess.TTL > 0 {
			sess.ExpiresAt = now.Add(sess.TTL)
		}
		if err := s.touch(ctx, sess, now); err != nil {
			return nil, err
		}
	}

	return sess, nil
}

// Get returns a live session without recording activity.
func (s *Store) Get(ctx context.Context, tenantID, sid string) (*Session, error) {
	sess, err := s.load(ctx, tenantID, sid)
	if err != nil {
		return nil, err
	}
	if sess.Expired(s.now()) {
		return nil, ErrExpired
	}
	return sess, nil
}

// SetData sets (or, with an empty value, clears) one session-scoped value.
func (s *Store) SetData(ctx context.Context, tenantID, sid, key, value string) error {
	if !internal.ValidSessionID(sid) {
		return ErrNotFound
	}
	k := s.key(tenantID, sid)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, k).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}
		sess, err := Decode(raw)
		if err != nil {
			return ErrCorrupt
		}
		if value == "" {
			delete(sess.Data, key)
		} else {
			if sess.Data == nil {
				sess.Data = make(map[string]string, 1)
			}
			sess.Data[key] = value
		}
		data, err := Encode(sess)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, k, data, redis.SetArgs{Mode: "XX", KeepTTL: true})
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.redis.Watch(ctx, txf, k)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrCorrupt):
			return err
		default:
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return fmt.Errorf("%w: too much contention on session", ErrRedisUnavailable)
}

// Delete removes a session. Deleting an absent id is not an error; the
// removed record is returned so callers can attribute the event, or nil when
// nothing existed.
func (s *Store) Delete(ctx context.Context, tenantID, sid string) (*Session, error) {
	if !internal.ValidSessionID(sid) {
		return nil, nil
	}
	sess, err := s.load(ctx, tenantID, sid)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, nil
	case errors.Is(err, ErrCorrupt):
		return nil, nil
	case err != nil:
		return nil, err
	}
	if err := s.remove(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// ClearAllFor deletes every session owned by principal except keep. Sessions
// created after the call starts are never removed. Returns the removed ids.
func (s *Store) ClearAllFor(ctx context.Context, tenantID, principal, keep string) ([]string, error) {
	snapshot, err := s.redis.Get(ctx, s.seqKey()).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	res, err := clearForPrincipalLua.Run(
		ctx,
		s.redis,
		[]string{s.principalKey(tenantID, principal), s.expiryKey()},
		strconv.FormatInt(snapshot, 10),
		keep,
		s.keyPrefix(tenantID),
		expiryMemberPrefix(tenantID, principal),
	).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return res, nil
}

// ListForPrincipal returns the live sessions of principal, oldest first.
func (s *Store) ListForPrincipal(ctx context.Context, tenantID, principal string) ([]*Session, error) {
	ids, err := s.redis.ZRange(ctx, s.principalKey(tenantID, principal), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return []*Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, sid := range ids {
		cmds[i] = pipe.Get(ctx, s.key(tenantID, sid))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	now := s.now()
	out := make([]*Session, 0, len(ids))
	for i, cmd := range cmds {
		raw, err := cmd.Bytes()
		if err != nil {
			continue
		}
		sess, err := Decode(raw)
		if err != nil || sess.Expired(now) {
			continue
		}
		sess.ID = ids[i]
		out = append(out, sess)
	}
	return out, nil
}

// PurgeExpired removes every session whose expiry is at or before now, in
// bounded batches. It is safe to run concurrently with request traffic.
func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	total := 0
	cutoff := strconv.FormatInt(s.now().UnixMilli(), 10)
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := purgeExpiredLua.Run(
			ctx,
			s.redis,
			[]string{s.expiryKey()},
			cutoff,
			s.config.PurgeBatch,
			s.config.Prefix,
		).Int()
		if err != nil {
			return total, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		total += n
		if n < s.config.PurgeBatch {
			return total, nil
		}
	}
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *Store) load(ctx context.Context, tenantID, sid string) (*Session, error) {
	if !internal.ValidSessionID(sid) {
		return nil, ErrNotFound
	}
	k := s.key(tenantID, sid)

	raw, err := s.redis.Get(ctx, k).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(raw)
	if err != nil {
		// The index entries of an undecodable record are reclaimed by
		// PurgeExpired once its expiry score passes.
		if delErr := s.redis.Del(ctx, k).Err(); delErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, delErr)
		}
		return nil, ErrCorrupt
	}
	sess.ID = sid
	return sess, nil
}

func (s *Store) remove(ctx context.Context, sess *Session) error {
	_, err := deleteSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sess.TenantID, sess.ID), s.principalKey(sess.TenantID, sess.Principal), s.expiryKey()},
		sess.ID,
		expiryMemberPrefix(sess.TenantID, sess.Principal)+sess.ID,
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *Store) touch(ctx context.Context, sess *Session, now time.Time) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}
	remaining := sess.ExpiresAt.Sub(now)
	if remaining < time.Millisecond {
		remaining = time.Millisecond
	}

	_, err = touchSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sess.TenantID, sess.ID), s.expiryKey()},
		data,
		remaining.Milliseconds(),
		sess.ExpiresAt.UnixMilli(),
		expiryMemberPrefix(sess.TenantID, sess.Principal)+sess.ID,
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
