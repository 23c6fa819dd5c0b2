package cookie

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flushed(t *testing.T, m *Manager) map[string]*http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Flush(rec)
	out := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func TestInitCookiesWithoutSIDStagesNothing(t *testing.T) {
	m := NewManager(Policy{})
	m.InitCookies("", "IN", time.Now().Add(time.Hour))
	assert.Empty(t, flushed(t, m))
}

func TestInitCookiesStagesSIDAndCountry(t *testing.T) {
	m := NewManager(Policy{Secure: true, HTTPOnlySID: true})
	exp := time.Now().Add(72 * time.Hour)
	m.InitCookies("abc123", "IN", exp)

	got := flushed(t, m)
	require.Contains(t, got, SID)
	assert.Equal(t, "abc123", got[SID].Value)
	assert.WithinDuration(t, exp, got[SID].Expires, time.Second)
	assert.True(t, got[SID].Secure)
	assert.True(t, got[SID].HttpOnly)
	assert.Equal(t, "IN", got[Country].Value)
}

func TestFlushPercentEncodesValues(t *testing.T) {
	m := NewManager(Policy{})
	m.Stage(FullName, "Zoë O'Neil & co", time.Time{})
	m.Stage(UserImage, "/files/a b.png", time.Time{})

	got := flushed(t, m)
	assert.Equal(t, "Zo%C3%AB%20O%27Neil%20%26%20co", got[FullName].Value)
	assert.Equal(t, "/files/a%20b.png", got[UserImage].Value)
	assert.Equal(t, "Zoë O'Neil & co", Unquote(got[FullName].Value))
}

func TestDeletionWinsOverStagedValue(t *testing.T) {
	m := NewManager(Policy{})
	m.Stage(SID, "abc", time.Now().Add(time.Hour))
	m.Stage(UserID, "alice", time.Time{})
	m.ClearIdentity()

	rec := httptest.NewRecorder()
	m.Flush(rec)
	cookies := rec.Result().Cookies()

	var sids []*http.Cookie
	for _, c := range cookies {
		if c.Name == SID {
			sids = append(sids, c)
		}
	}
	require.Len(t, sids, 1)
	assert.Equal(t, "", sids[0].Value)
	assert.True(t, sids[0].Expires.Before(time.Now()))

	_, ok := m.Value(SID)
	assert.False(t, ok)
}

func TestFlushWritesOnce(t *testing.T) {
	m := NewManager(Policy{})
	m.Stage(SystemUser, "yes", time.Time{})

	rec := httptest.NewRecorder()
	m.Flush(rec)
	m.Flush(rec)
	assert.Len(t, rec.Result().Cookies(), 1)
}
