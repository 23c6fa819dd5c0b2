package otp

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const challengeRecordVersion1 = 1

var (
	// ErrChallengeNotFound covers unknown, consumed and expired challenges.
	ErrChallengeNotFound = errors.New("otp challenge not found")
	// ErrChallengeExpired is returned by the store when a record outlived its TTL.
	ErrChallengeExpired = errors.New("otp challenge expired")
	// ErrReplay is returned when a time step has already been used by the principal.
	ErrReplay = errors.New("otp code already used")
	// ErrBackendUnavailable wraps Redis failures.
	ErrBackendUnavailable = errors.New("otp backend unavailable")
)

// Consume outcomes.
const (
	consumeMissing int64 = 0
	consumeOK      int64 = 1
	consumeReplay  int64 = -1
)

// Deletes the challenge. For time-based challenges it also requires the
// matched step to be newer than the last one used by the principal.
var consumeChallengeLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if ARGV[1] == "1" then
  local last = tonumber(redis.call("GET", KEYS[2]) or "-1")
  if tonumber(ARGV[2]) <= last then
    return -1
  end
  redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
end
redis.call("DEL", KEYS[1])
return 1
`)

// Challenge is the server-side state of one pending second factor.
type Challenge struct {
	Principal string
	TenantID  string
	Channel   Channel
	// Secret is base32. For a first-time enrollment it is bound to the
	// principal only after the challenge verifies.
	Secret    string
	Enroll    bool
	Counter   uint64
	ExpiresAt int64
	Attempts  uint16
}

// ChallengeStore keeps challenges in Redis under {prefix}:{id}.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewChallengeStore creates a store. An empty prefix defaults to "goc".
func NewChallengeStore(rdb redis.UniversalClient, prefix string) *ChallengeStore {
	if prefix == "" {
		prefix = "goc"
	}
	return &ChallengeStore{redis: rdb, prefix: prefix, now: time.Now}
}

func (s *ChallengeStore) key(id string) string {
	return s.prefix + ":" + id
}

func (s *ChallengeStore) lastStepKey(tenantID, principal string) string {
	return s.prefix + "last:" + tenantID + ":" + principal
}

// Save writes a challenge with ttl.
func (s *ChallengeStore) Save(ctx context.Context, id string, c *Challenge, ttl time.Duration) error {
	encoded, err := encodeChallenge(c)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(id), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Get loads a live challenge. An expired record is removed.
func (s *ChallengeStore) Get(ctx context.Context, id string) (*Challenge, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	c, err := decodeChallenge(data)
	if err != nil {
		_, _ = s.redis.Del(ctx, s.key(id)).Result()
		return nil, ErrChallengeNotFound
	}
	if s.now().UnixMilli() >= c.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(id)).Result()
		return nil, ErrChallengeExpired
	}
	return c, nil
}

// Delete removes a challenge. It reports whether one existed.
func (s *ChallengeStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return n > 0, nil
}

// Consume atomically invalidates a challenge that just verified. Of several
// concurrent callers exactly one returns nil.
func (s *ChallengeStore) Consume(ctx context.Context, id string, c *Challenge, step int64, stepWindow time.Duration) error {
	timeBased := "0"
	if c.Channel.TimeBased() {
		timeBased = "1"
	}
	if stepWindow <= 0 {
		stepWindow = time.Minute
	}

	res, err := consumeChallengeLua.Run(
		ctx,
		s.redis,
		[]string{s.key(id), s.lastStepKey(c.TenantID, c.Principal)},
		timeBased,
		strconv.FormatInt(step, 10),
		stepWindow.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	switch res {
	case consumeOK:
		return nil
	case consumeReplay:
		return ErrReplay
	case consumeMissing:
		return ErrChallengeNotFound
	default:
		return fmt.Errorf("%w: unexpected consume status %d", ErrBackendUnavailable, res)
	}
}

// RecordFailure counts a wrong code. It returns true when the attempt limit
// was reached, in which case the challenge has been deleted.
func (s *ChallengeStore) RecordFailure(ctx context.Context, id string, maxAttempts int) (bool, error) {
	const maxRetries = 4
	key := s.key(id)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			c, err := decodeChallenge(data)
			if err != nil {
				return err
			}

			c.Attempts++
			remaining := time.Duration(c.ExpiresAt-s.now().UnixMilli()) * time.Millisecond
			if remaining <= 0 {
				if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				}); err != nil {
					return err
				}
				return ErrChallengeExpired
			}
			if maxAttempts > 0 && int(c.Attempts) >= maxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			updated, err := encodeChallenge(c)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, remaining)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, ErrChallengeNotFound
			}
			if errors.Is(err, ErrChallengeExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return exceeded, nil
	}

	return false, ErrChallengeNotFound
}

func encodeChallenge(c *Challenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersion1)
	buf.WriteByte(byte(c.Channel))
	if c.Enroll {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	for _, v := range []any{c.Attempts, c.ExpiresAt, c.Counter} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}

	for _, str := range []string{c.Principal, c.TenantID, c.Secret} {
		if len(str) > 65535 {
			return nil, errors.New("otp challenge field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(str))); err != nil {
			return nil, err
		}
		buf.WriteString(str)
	}

	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (*Challenge, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersion1 {
		return nil, errors.New("invalid otp challenge version")
	}

	c := &Challenge{}
	ch, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	c.Channel = Channel(ch)
	enroll, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	c.Enroll = enroll == 1

	if err := binary.Read(r, binary.BigEndian, &c.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &c.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &c.Counter); err != nil {
		return nil, err
	}

	for _, dst := range []*string{&c.Principal, &c.TenantID, &c.Secret} {
		var n uint16
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, err
		}
		*dst = string(b)
	}

	return c, nil
}
