package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edvart/lol-inhouse/internal/bridge"
	"github.com/edvart/lol-inhouse/internal/config"
	"github.com/edvart/lol-inhouse/internal/store"
)

func newLoginServer(t *testing.T, ranked bridge.RankedDataBridge) (*Server, store.Store) {
	t.Helper()
	sql, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sql.Close() })

	s := NewServer(config.Config{JWTSecret: "secret"},
		nil, nil, nil, nil, sql, nil, nil, nil, nil, nil, ranked)
	return s, sql
}

func postLogin(t *testing.T, s *Server) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"gameName": "Alice",
		"tagLine":  "EUW",
		"region":   "euw1",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestLoginSeedsRankedLPForNewPlayers(t *testing.T) {
	ctx := context.Background()
	s, sql := newLoginServer(t, &bridge.StaticRankedData{LP: 250})

	rec := postLogin(t, s)
	require.Equal(t, http.StatusOK, rec.Code)

	p, err := sql.GetPlayer(ctx, "Alice#EUW")
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, 250, p.CustomLP)
}

func TestLoginKeepsEarnedLPForReturningPlayers(t *testing.T) {
	ctx := context.Background()
	s, sql := newLoginServer(t, &bridge.StaticRankedData{LP: 250})

	require.Equal(t, http.StatusOK, postLogin(t, s).Code)
	require.NoError(t, sql.ApplyMatchResult(ctx, "Alice#EUW", 16, true))

	require.Equal(t, http.StatusOK, postLogin(t, s).Code)

	p, err := sql.GetPlayer(ctx, "Alice#EUW")
	require.NoError(t, err)
	require.Equal(t, 266, p.CustomLP)
}
