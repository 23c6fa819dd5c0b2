package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	argon2Prefix          = "$argon2id$"
	algorithmID           = "argon2id"
)

var (
	// ErrMalformedHash is returned when a stored hash cannot be parsed.
	ErrMalformedHash = errors.New("malformed password hash")
	// ErrUnsupportedHash is returned for hash schemes this package does not know.
	ErrUnsupportedHash = errors.New("unsupported password hash")
	// ErrTooShort is returned by Hash for passwords under Config.MinLength bytes.
	ErrTooShort = errors.New("password too short")
)

// Config holds Argon2id cost parameters.
type Config struct {
	Memory      uint32 `toml:"memory_kb" env:"MEMORY_KB"`
	Time        uint32 `toml:"time" env:"TIME"`
	Parallelism uint8  `toml:"parallelism" env:"PARALLELISM"`
	SaltLength  uint32 `toml:"salt_length" env:"SALT_LENGTH"`
	KeyLength   uint32 `toml:"key_length" env:"KEY_LENGTH"`
	// MinLength applies to new hashes only. Verification of existing hashes
	// never checks length.
	MinLength int `toml:"min_length" env:"MIN_LENGTH"`
}

// DefaultConfig returns the production cost parameters.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
		MinLength:   8,
	}
}

// Argon2 hashes with Argon2id and verifies PHC strings produced by any
// parameter set.
type Argon2 struct {
	config Config
}

type parsedPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
	keyLength   uint32
}

// NewArgon2 validates cfg and returns a hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Argon2{config: cfg}, nil
}

// Hash encodes secret as "$argon2id$v=19$m=..,t=..,p=..$salt$hash".
func (a *Argon2) Hash(secret string) (string, error) {
	if len(secret) < a.config.MinLength {
		return "", fmt.Errorf("%w: need %d bytes", ErrTooShort, a.config.MinLength)
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	sum := argon2.IDKey([]byte(secret), salt, a.config.Time, a.config.Memory, a.config.Parallelism, a.config.KeyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		a.config.Memory,
		a.config.Time,
		a.config.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(sum),
	), nil
}

// Verify recomputes the digest with the parameters embedded in encoded.
func (a *Argon2) Verify(secret, encoded string) (bool, error) {
	parsed, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(secret), parsed.salt, parsed.time, parsed.memory, parsed.parallelism, parsed.keyLength)
	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

// NeedsUpgrade reports whether encoded was produced with weaker parameters
// than the current config.
func (a *Argon2) NeedsUpgrade(encoded string) (bool, error) {
	parsed, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}

	switch {
	case a.config.Memory > parsed.memory,
		a.config.Time > parsed.time,
		a.config.Parallelism > parsed.parallelism,
		a.config.KeyLength != parsed.keyLength:
		return true, nil
	}
	return false, nil
}

func parsePHC(encoded string) (*parsedPHC, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, fmt.Errorf("%w: invalid PHC layout", ErrMalformedHash)
	}
	if parts[1] != algorithmID {
		return nil, ErrUnsupportedHash
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") {
		return nil, fmt.Errorf("%w: invalid argon2 version", ErrMalformedHash)
	}
	if version != argon2.Version {
		return nil, ErrUnsupportedHash
	}

	params, err := parseParams(parts[3])
	if err != nil {
		return nil, err
	}

	salt, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < int(minSaltLength) {
		return nil, fmt.Errorf("%w: invalid salt", ErrMalformedHash)
	}

	sum, err := base64.StdEncoding.DecodeString(parts[5])
	if err != nil || len(sum) == 0 {
		return nil, fmt.Errorf("%w: invalid digest", ErrMalformedHash)
	}

	return &parsedPHC{
		memory:      params.memory,
		time:        params.time,
		parallelism: params.parallelism,
		salt:        salt,
		hash:        sum,
		keyLength:   uint32(len(sum)),
	}, nil
}

type parsedParams struct {
	memory      uint32
	time        uint32
	parallelism uint8
}

func parseParams(part string) (*parsedParams, error) {
	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return nil, fmt.Errorf("%w: invalid parameter list", ErrMalformedHash)
	}

	var (
		seen   = make(map[string]bool, 3)
		params parsedParams
	)
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("%w: invalid parameter entry", ErrMalformedHash)
		}

		switch key {
		case "m":
			v, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return nil, fmt.Errorf("%w: invalid memory", ErrMalformedHash)
			}
			params.memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || v < uint64(minTimeCost) {
				return nil, fmt.Errorf("%w: invalid time", ErrMalformedHash)
			}
			params.time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(raw, 10, 8)
			if err != nil || v < uint64(minParallelism) {
				return nil, fmt.Errorf("%w: invalid parallelism", ErrMalformedHash)
			}
			params.parallelism = uint8(v)
		default:
			return nil, fmt.Errorf("%w: unknown parameter %q", ErrMalformedHash, key)
		}
		seen[key] = true
	}

	if len(seen) != 3 {
		return nil, fmt.Errorf("%w: missing parameters", ErrMalformedHash)
	}
	return &params, nil
}

// Validate enforces the minimum cost parameters.
func (c Config) Validate() error {
	switch {
	case c.Memory < minMemoryKB:
		return errors.New("password memory must be >= 8192 KB")
	case c.Time < minTimeCost:
		return errors.New("password time must be >= 1")
	case c.Parallelism < minParallelism:
		return errors.New("password parallelism must be >= 1")
	case c.SaltLength < minSaltLength:
		return errors.New("password salt length must be >= 16")
	case c.KeyLength < minKeyLength:
		return errors.New("password key length must be >= 16")
	case c.MinLength < 0:
		return errors.New("password min length must be >= 0")
	}
	return nil
}
