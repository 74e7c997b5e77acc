package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	auth := NewAuth("secret", time.Hour)

	token, err := auth.Issue(Identity{
		SummonerName: "Alice#EUW",
		GameName:     "Alice",
		TagLine:      "EUW",
		Region:       "euw1",
	})
	require.NoError(t, err)

	id, err := auth.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "Alice#EUW", id.SummonerName)
	require.Equal(t, "Alice", id.GameName)
	require.Equal(t, "EUW", id.TagLine)
	require.Equal(t, "euw1", id.Region)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := NewAuth("secret-a", time.Hour).Issue(Identity{SummonerName: "Alice#EUW"})
	require.NoError(t, err)

	_, err = NewAuth("secret-b", time.Hour).Verify(token)
	require.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	auth := NewAuth("secret", -time.Minute)
	token, err := auth.Issue(Identity{SummonerName: "Alice#EUW"})
	require.NoError(t, err)

	_, err = auth.Verify(token)
	require.Error(t, err)
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	auth := NewAuth("secret", time.Hour)
	token, err := auth.Issue(Identity{SummonerName: "Alice#EUW"})
	require.NoError(t, err)

	_, err = auth.Verify(token + "x")
	require.Error(t, err)
}

func TestRequireAuthAttachesIdentity(t *testing.T) {
	auth := NewAuth("secret", time.Hour)
	token, err := auth.Issue(Identity{SummonerName: "Alice#EUW", GameName: "Alice", TagLine: "EUW"})
	require.NoError(t, err)

	var got *Identity
	handler := auth.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = UserFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/queue/join", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	require.Equal(t, "Alice#EUW", got.SummonerName)
	require.Equal(t, "player_alice_euw", got.CustomSessionID())
}

func TestRequireAuthAcceptsQueryToken(t *testing.T) {
	auth := NewAuth("secret", time.Hour)
	token, err := auth.Issue(Identity{SummonerName: "Alice#EUW"})
	require.NoError(t, err)

	called := false
	handler := auth.RequireAuth(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, called)
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	auth := NewAuth("secret", time.Hour)
	handler := auth.RequireAuth(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/queue/join", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
