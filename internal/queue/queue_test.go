package queue

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edvart/lol-inhouse/internal/config"
	"github.com/edvart/lol-inhouse/internal/domain"
	"github.com/edvart/lol-inhouse/internal/events"
	"github.com/edvart/lol-inhouse/internal/kv"
	"github.com/edvart/lol-inhouse/internal/playerstate"
	"github.com/edvart/lol-inhouse/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *playerstate.Registry, store.Store) {
	t.Helper()

	sql, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sql.Close() })

	mem := kv.NewMemoryStore()
	states := playerstate.NewRegistry(mem)
	cfg := config.Config{MinCohort: 10}
	engine := NewEngine(cfg, sql, kv.NewLocker(mem), states, events.NewBus(mem))
	return engine, states, sql
}

func TestJoinAddsQueueRowAndState(t *testing.T) {
	ctx := context.Background()
	engine, states, sql := newTestEngine(t)

	player := &domain.Player{SummonerName: "Alice#EUW", CustomLP: 120}
	require.NoError(t, engine.Join(ctx, player, domain.LaneMid, domain.LaneTop))

	inQueue, err := sql.InQueue(ctx, "Alice#EUW")
	require.NoError(t, err)
	require.True(t, inQueue)

	state, err := states.Get(ctx, "Alice#EUW")
	require.NoError(t, err)
	require.Equal(t, domain.StateInQueue, state)
}

func TestJoinTwiceFails(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t)

	player := &domain.Player{SummonerName: "Alice#EUW"}
	require.NoError(t, engine.Join(ctx, player, domain.LaneMid, domain.LaneTop))

	err := engine.Join(ctx, player, domain.LaneMid, domain.LaneTop)
	require.ErrorIs(t, err, domain.ErrAlreadyInQueue)
}

func TestJoinRejectedWhileInMatch(t *testing.T) {
	ctx := context.Background()
	engine, states, _ := newTestEngine(t)

	require.NoError(t, states.ForceSet(ctx, "Alice#EUW", domain.StateInDraft))

	err := engine.Join(ctx, &domain.Player{SummonerName: "Alice#EUW"}, domain.LaneMid, domain.LaneTop)
	require.ErrorIs(t, err, domain.ErrStateConflict)
}

func TestLeaveRemovesRowAndResetsState(t *testing.T) {
	ctx := context.Background()
	engine, states, sql := newTestEngine(t)

	player := &domain.Player{SummonerName: "Alice#EUW"}
	require.NoError(t, engine.Join(ctx, player, domain.LaneMid, domain.LaneTop))
	require.NoError(t, engine.Leave(ctx, "Alice#EUW"))

	inQueue, err := sql.InQueue(ctx, "Alice#EUW")
	require.NoError(t, err)
	require.False(t, inQueue)

	state, err := states.Get(ctx, "Alice#EUW")
	require.NoError(t, err)
	require.Equal(t, domain.StateAvailable, state)
}

func TestFormCohortNeedsTenIdle(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t)

	for i := 0; i < 9; i++ {
		p := &domain.Player{SummonerName: string(rune('A'+i)) + "#T"}
		require.NoError(t, engine.Join(ctx, p, domain.LaneFill, domain.LaneFill))
	}
	err := engine.FormCohort(ctx)
	require.ErrorIs(t, err, domain.ErrIncompleteCohort)
}

type recordingStarter struct {
	matches []*domain.Match
}

func (r *recordingStarter) StartAcceptance(_ context.Context, m *domain.Match) error {
	r.matches = append(r.matches, m)
	return nil
}

func TestFormCohortHandsOffToStarter(t *testing.T) {
	ctx := context.Background()
	engine, _, sql := newTestEngine(t)

	starter := &recordingStarter{}
	engine.SetStarter(starter)

	for i := 0; i < 10; i++ {
		p := &domain.Player{SummonerName: string(rune('A'+i)) + "#T", CustomLP: 10 * i}
		require.NoError(t, engine.Join(ctx, p, domain.LaneFill, domain.LaneFill))
	}

	require.NoError(t, engine.FormCohort(ctx))
	require.Len(t, starter.matches, 1)

	m := starter.matches[0]
	require.Len(t, m.Team1, 5)
	require.Len(t, m.Team2, 5)

	stored, err := sql.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, domain.MatchStatusFound, stored.Status)

	// The ten are reserved; a second pass finds nobody idle.
	err = engine.FormCohort(ctx)
	require.ErrorIs(t, err, domain.ErrIncompleteCohort)
}
