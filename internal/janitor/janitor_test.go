package janitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/edvart/lol-inhouse/internal/config"
	"github.com/edvart/lol-inhouse/internal/domain"
	"github.com/edvart/lol-inhouse/internal/kv"
	"github.com/edvart/lol-inhouse/internal/ownership"
	"github.com/edvart/lol-inhouse/internal/playerstate"
	"github.com/edvart/lol-inhouse/internal/store"
)

type fixture struct {
	janitor *Janitor
	states  *playerstate.Registry
	owners  *ownership.Maps
	sql     store.Store
	mem     *kv.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	sql, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sql.Close() })

	mem := kv.NewMemoryStore()
	states := playerstate.NewRegistry(mem)
	owners := ownership.NewMaps(mem)
	cfg := config.Config{JanitorInterval: time.Minute}
	return &fixture{
		janitor: New(cfg, mem, sql, states, owners),
		states:  states,
		owners:  owners,
		sql:     sql,
		mem:     mem,
	}
}

func createMatch(t *testing.T, f *fixture, status string) *domain.Match {
	t.Helper()
	m := &domain.Match{
		ID:     uuid.New().String(),
		Status: status,
		Team1:  []domain.RosterEntry{{SummonerName: "Alice#T", Lane: domain.LaneMid, MMR: 1000}},
		Team2:  []domain.RosterEntry{{SummonerName: "Bob#T", Lane: domain.LaneMid, MMR: 1000}},
	}
	require.NoError(t, f.sql.CreateMatch(context.Background(), m))
	return m
}

func TestSweepDeletesOrphanGameKeys(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	live := createMatch(t, f, domain.MatchStatusInProgress)

	require.NoError(t, f.mem.Set(ctx, "game_ack:"+live.ID+":alice#t", "1", 0))
	require.NoError(t, f.mem.Set(ctx, "game_retry:"+live.ID, "1", 0))
	require.NoError(t, f.mem.Set(ctx, "game_ack:gone-match:alice#t", "1", 0))
	require.NoError(t, f.mem.Set(ctx, "game_retry:gone-match", "2", 0))

	f.janitor.Sweep(ctx)

	_, ok, err := f.mem.Get(ctx, "game_ack:"+live.ID+":alice#t")
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, _ = f.mem.Get(ctx, "game_retry:"+live.ID)
	require.True(t, ok)

	_, ok, _ = f.mem.Get(ctx, "game_ack:gone-match:alice#t")
	require.False(t, ok)
	_, ok, _ = f.mem.Get(ctx, "game_retry:gone-match")
	require.False(t, ok)
}

func TestSweepKeepsVotesForLiveMatches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	drafting := createMatch(t, f, domain.MatchStatusDraft)
	done := createMatch(t, f, domain.MatchStatusCompleted)

	require.NoError(t, f.mem.HSet(ctx, "match_vote:"+drafting.ID, map[string]string{"alice#t": "1"}))
	require.NoError(t, f.mem.HSet(ctx, "match_vote:"+done.ID, map[string]string{"bob#t": "2"}))

	f.janitor.Sweep(ctx)

	kept, err := f.mem.HGetAll(ctx, "match_vote:"+drafting.ID)
	require.NoError(t, err)
	require.Len(t, kept, 1)

	gone, err := f.mem.HGetAll(ctx, "match_vote:"+done.ID)
	require.NoError(t, err)
	require.Empty(t, gone)
}

func TestSweepRepairsDesyncedPlayer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Stuck in a game phase with no match row behind it.
	require.NoError(t, f.states.ForceSet(ctx, "Alice#T", domain.StateInGame))
	require.NoError(t, f.owners.RegisterPlayerMatch(ctx, "Alice#T", "gone-match"))

	f.janitor.Sweep(ctx)

	state, err := f.states.Get(ctx, "Alice#T")
	require.NoError(t, err)
	require.Equal(t, domain.StateAvailable, state)

	_, ok, err := f.owners.MatchFor(ctx, "Alice#T")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSweepLeavesJustifiedStatesAlone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := createMatch(t, f, domain.MatchStatusInProgress)

	require.NoError(t, f.states.ForceSet(ctx, "Alice#T", domain.StateInGame))
	require.NoError(t, f.owners.RegisterPlayerMatch(ctx, "Alice#T", m.ID))

	f.janitor.Sweep(ctx)

	state, err := f.states.Get(ctx, "Alice#T")
	require.NoError(t, err)
	require.Equal(t, domain.StateInGame, state)
}

func TestSweepIgnoresIdleStates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.states.ForceSet(ctx, "Alice#T", domain.StateInQueue))

	f.janitor.Sweep(ctx)

	state, err := f.states.Get(ctx, "Alice#T")
	require.NoError(t, err)
	require.Equal(t, domain.StateInQueue, state)
}
