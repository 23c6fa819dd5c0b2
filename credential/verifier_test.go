package credential

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/goGate/password"
	"github.com/MrEthical07/goGate/principal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testHasher(t *testing.T) *password.Hasher {
	t.Helper()
	h, err := password.NewHasher(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32, MinLength: 4})
	require.NoError(t, err)
	return h
}

func seed(t *testing.T, h *password.Hasher) *principal.MemoryRepository {
	t.Helper()
	hash, err := h.Hash("s3cret-pass")
	require.NoError(t, err)

	repo := principal.NewMemoryRepository()
	repo.Put("alice@example.com", principal.Fields{
		principal.FieldKind:         "System User",
		principal.FieldEnabled:      "1",
		principal.FieldPasswordHash: hash,
		principal.FieldUsername:     "alice",
		principal.FieldMobileNo:     "+15550100",
	})
	repo.Put("mallory@example.com", principal.Fields{
		principal.FieldKind:         "Website User",
		principal.FieldEnabled:      "0",
		principal.FieldPasswordHash: "{SSHA}not-a-supported-scheme",
	})
	repo.Put(principal.Administrator, principal.Fields{
		principal.FieldEnabled:      "0",
		principal.FieldPasswordHash: hash,
	})
	return repo
}

func TestVerifyResolvesAliases(t *testing.T) {
	h := testHasher(t)
	v := NewVerifier(seed(t, h), h, Options{AllowMobileLogin: true, AllowUsernameLogin: true}, nil)

	for _, ident := range []string{"alice@example.com", "alice", "+15550100"} {
		res, err := v.Verify(context.Background(), ident, "s3cret-pass")
		require.NoError(t, err, ident)
		require.Nil(t, res.Failure, ident)
		assert.Equal(t, "alice@example.com", res.Principal.ID, ident)
	}
}

func TestVerifyAliasesRespectFlags(t *testing.T) {
	h := testHasher(t)
	v := NewVerifier(seed(t, h), h, Options{}, nil)

	res, err := v.Verify(context.Background(), "alice", "s3cret-pass")
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, principal.UnknownUser, res.Failure.User)
	assert.True(t, errors.Is(res.Failure, ErrInvalidCredentials))
}

func TestVerifyWrongPasswordNamesResolvedUser(t *testing.T) {
	h := testHasher(t)
	v := NewVerifier(seed(t, h), h, Options{AllowUsernameLogin: true}, nil)

	res, err := v.Verify(context.Background(), "alice", "nope-nope")
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, ReasonIncorrectPassword, res.Failure.Reason)
	assert.Equal(t, "alice@example.com", res.Failure.User)
}

func TestVerifyDisabledRejectedBeforeComparison(t *testing.T) {
	h := testHasher(t)
	v := NewVerifier(seed(t, h), h, Options{}, nil)

	// The stored hash is unusable; reaching the comparison would surface it.
	res, err := v.Verify(context.Background(), "mallory@example.com", "whatever")
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, ReasonDisabled, res.Failure.Reason)
}

func TestVerifyAdministratorExemptFromEnabledCheck(t *testing.T) {
	h := testHasher(t)
	v := NewVerifier(seed(t, h), h, Options{}, nil)

	res, err := v.Verify(context.Background(), principal.Administrator, "s3cret-pass")
	require.NoError(t, err)
	require.Nil(t, res.Failure)
	assert.Equal(t, principal.KindAdministrator, res.Principal.Kind)

	res, err = v.Verify(context.Background(), principal.Administrator, "wrong-pass")
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, ReasonIncorrectPassword, res.Failure.Reason)
}

func TestVerifyIncompleteDetails(t *testing.T) {
	h := testHasher(t)
	v := NewVerifier(seed(t, h), h, Options{}, nil)

	for _, tc := range [][2]string{{"", "x"}, {"alice@example.com", ""}, {"  ", "x"}} {
		res, err := v.Verify(context.Background(), tc[0], tc[1])
		require.NoError(t, err)
		require.NotNil(t, res.Failure)
		assert.Equal(t, ReasonIncomplete, res.Failure.Reason)
	}
}

func TestVerifyUpgradesLegacyHash(t *testing.T) {
	h := testHasher(t)
	repo := principal.NewMemoryRepository()
	legacy, err := bcrypt.GenerateFromPassword([]byte("old-password"), bcrypt.MinCost)
	require.NoError(t, err)
	repo.Put("bob", principal.Fields{principal.FieldEnabled: "1", principal.FieldPasswordHash: string(legacy)})

	v := NewVerifier(repo, h, Options{}, nil)
	res, err := v.Verify(context.Background(), "bob", "old-password")
	require.NoError(t, err)
	require.Nil(t, res.Failure)
	assert.True(t, res.Upgraded)

	f, err := repo.GetFields(context.Background(), "bob", principal.FieldPasswordHash)
	require.NoError(t, err)
	assert.Contains(t, f[principal.FieldPasswordHash], "$argon2id$")

	res, err = v.Verify(context.Background(), "bob", "old-password")
	require.NoError(t, err)
	require.Nil(t, res.Failure)
	assert.False(t, res.Upgraded)
}

func TestVerifyGuestNeverAuthenticates(t *testing.T) {
	h := testHasher(t)
	v := NewVerifier(seed(t, h), h, Options{}, nil)
	res, err := v.Verify(context.Background(), principal.Guest, "anything")
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
}
