package ownership

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edvart/lol-inhouse/internal/domain"
	"github.com/edvart/lol-inhouse/internal/kv"
)

func TestRegisterAndLookup(t *testing.T) {
	ctx := context.Background()
	m := NewMaps(kv.NewMemoryStore())

	require.NoError(t, m.RegisterPlayerMatch(ctx, "Alice", "m1"))

	matchID, ok, err := m.MatchFor(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "m1", matchID)

	players, err := m.Players(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, players)
}

func TestRegisterSameMatchIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMaps(kv.NewMemoryStore())

	require.NoError(t, m.RegisterPlayerMatch(ctx, "Alice", "m1"))
	require.NoError(t, m.RegisterPlayerMatch(ctx, "Alice", "m1"))
}

func TestRegisterConflictingMatchFails(t *testing.T) {
	ctx := context.Background()
	m := NewMaps(kv.NewMemoryStore())

	require.NoError(t, m.RegisterPlayerMatch(ctx, "Alice", "m1"))
	err := m.RegisterPlayerMatch(ctx, "Alice", "m2")
	require.ErrorIs(t, err, domain.ErrAlreadyOwned)
}

func TestReleasePlayerOnlyIfStillOwned(t *testing.T) {
	ctx := context.Background()
	m := NewMaps(kv.NewMemoryStore())

	require.NoError(t, m.RegisterPlayerMatch(ctx, "Alice", "m1"))
	require.NoError(t, m.ReleasePlayer(ctx, "Alice", "m1"))

	_, ok, err := m.MatchFor(ctx, "Alice")
	require.NoError(t, err)
	require.False(t, ok)

	// Releasing against the wrong match must not clobber a new owner.
	require.NoError(t, m.RegisterPlayerMatch(ctx, "Alice", "m2"))
	require.NoError(t, m.ReleasePlayer(ctx, "Alice", "m1"))
	matchID, ok, _ := m.MatchFor(ctx, "Alice")
	require.True(t, ok)
	require.Equal(t, "m2", matchID)
}

func TestClearMatchPlayers(t *testing.T) {
	ctx := context.Background()
	m := NewMaps(kv.NewMemoryStore())

	require.NoError(t, m.RegisterPlayerMatch(ctx, "Alice", "m1"))
	require.NoError(t, m.RegisterPlayerMatch(ctx, "Bob", "m1"))

	// Bob has already moved on to another match.
	require.NoError(t, m.ReleasePlayer(ctx, "Bob", "m1"))
	require.NoError(t, m.RegisterPlayerMatch(ctx, "Bob", "m2"))

	require.NoError(t, m.ClearMatchPlayers(ctx, "m1"))

	_, ok, _ := m.MatchFor(ctx, "Alice")
	require.False(t, ok)

	matchID, ok, _ := m.MatchFor(ctx, "Bob")
	require.True(t, ok)
	require.Equal(t, "m2", matchID)

	players, err := m.Players(ctx, "m1")
	require.NoError(t, err)
	require.Empty(t, players)
}
