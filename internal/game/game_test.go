package game

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/edvart/lol-inhouse/internal/bridge"
	"github.com/edvart/lol-inhouse/internal/config"
	"github.com/edvart/lol-inhouse/internal/domain"
	"github.com/edvart/lol-inhouse/internal/events"
	"github.com/edvart/lol-inhouse/internal/kv"
	"github.com/edvart/lol-inhouse/internal/ownership"
	"github.com/edvart/lol-inhouse/internal/playerstate"
	"github.com/edvart/lol-inhouse/internal/store"
)

// flakyClient fails lobby creation a fixed number of times.
type flakyClient struct {
	failures int
	created  int
}

func (f *flakyClient) CreateLobby(context.Context, *domain.Match) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("lobby service unavailable")
	}
	f.created++
	return nil
}

func (f *flakyClient) InvitePlayers(context.Context, string, []string) error { return nil }
func (f *flakyClient) StartGame(context.Context, string) error               { return nil }

type fixture struct {
	monitor *Monitor
	states  *playerstate.Registry
	owners  *ownership.Maps
	sql     store.Store
	mem     *kv.MemoryStore
	client  *flakyClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	sql, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sql.Close() })

	mem := kv.NewMemoryStore()
	states := playerstate.NewRegistry(mem)
	owners := ownership.NewMaps(mem)
	client := &flakyClient{}
	cfg := config.Config{
		GameTimeout:         time.Hour,
		GameMonitorInterval: 5 * time.Second,
	}
	monitor := NewMonitor(cfg, mem, kv.NewLocker(mem), sql, states, owners,
		events.NewBus(mem), bridge.NewLogChat(), client)

	return &fixture{monitor: monitor, states: states, owners: owners, sql: sql, mem: mem, client: client}
}

// seedGameReady creates a game_ready match with registered players.
func seedGameReady(t *testing.T, f *fixture) *domain.Match {
	t.Helper()
	ctx := context.Background()

	m := &domain.Match{ID: uuid.New().String(), Status: domain.MatchStatusGameReady}
	for i := 0; i < 5; i++ {
		m.Team1 = append(m.Team1, domain.RosterEntry{
			SummonerName: fmt.Sprintf("T1P%d#T", i), Lane: domain.Lanes[i], MMR: 1000,
		})
		m.Team2 = append(m.Team2, domain.RosterEntry{
			SummonerName: fmt.Sprintf("T2P%d#T", i), Lane: domain.Lanes[i], MMR: 1000,
		})
	}
	require.NoError(t, f.sql.CreateMatch(ctx, m))
	for _, name := range m.RosterNames() {
		require.NoError(t, f.sql.UpsertPlayer(ctx, &domain.Player{SummonerName: name, CustomLP: 100}))
		require.NoError(t, f.states.ForceSet(ctx, name, domain.StateInDraft))
		require.NoError(t, f.owners.RegisterPlayerMatch(ctx, name, m.ID))
	}
	return m
}

func startGame(t *testing.T, f *fixture, m *domain.Match) {
	t.Helper()
	require.NoError(t, f.monitor.StartGame(context.Background(), m, &domain.PickBanData{
		Team1: m.Team1, Team2: m.Team2,
	}))
}

func TestStartGamePromotesMatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := seedGameReady(t, f)
	startGame(t, f, m)

	stored, err := f.sql.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, domain.MatchStatusInProgress, stored.Status)

	for _, name := range m.RosterNames() {
		state, _ := f.states.Get(ctx, name)
		require.Equal(t, domain.StateInGame, state)
	}

	active, err := f.mem.SMembers(ctx, activeKey)
	require.NoError(t, err)
	require.Contains(t, active, m.ID)
	require.Equal(t, 1, f.client.created)
}

func TestStartGameTwiceIsNoOp(t *testing.T) {
	f := newFixture(t)
	m := seedGameReady(t, f)
	startGame(t, f, m)
	startGame(t, f, m)
	require.Equal(t, 1, f.client.created)
}

func TestVoteQuotaFinishesMatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := seedGameReady(t, f)
	startGame(t, f, m)

	// Five team-1 ballots do not decide it.
	for i := 0; i < 5; i++ {
		require.NoError(t, f.monitor.VoteWinner(ctx, m.ID, m.Team1[i].SummonerName, 1))
	}
	stored, err := f.sql.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)

	// The sixth agreeing ballot resolves the match.
	require.NoError(t, f.monitor.VoteWinner(ctx, m.ID, m.Team2[0].SummonerName, 1))

	stored, err = f.sql.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	require.Nil(t, stored)

	for _, name := range m.RosterNames() {
		state, _ := f.states.Get(ctx, name)
		require.Equal(t, domain.StateAvailable, state)

		_, ok, _ := f.owners.MatchFor(ctx, name)
		require.False(t, ok)
	}

	// LP moved: winners +16, losers -16 on an even match.
	winner, err := f.sql.GetPlayer(ctx, m.Team1[0].SummonerName)
	require.NoError(t, err)
	require.Equal(t, 116, winner.CustomLP)
	require.Equal(t, 1, winner.Wins)

	loser, err := f.sql.GetPlayer(ctx, m.Team2[1].SummonerName)
	require.NoError(t, err)
	require.Equal(t, 84, loser.CustomLP)
	require.Equal(t, 1, loser.Losses)

	// Ephemeral keys are gone.
	votes, err := f.mem.HGetAll(ctx, voteKey(m.ID))
	require.NoError(t, err)
	require.Empty(t, votes)
}

func TestBallotChangesUntilQuota(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := seedGameReady(t, f)
	startGame(t, f, m)

	voter := m.Team1[0].SummonerName
	require.NoError(t, f.monitor.VoteWinner(ctx, m.ID, voter, 1))
	require.NoError(t, f.monitor.VoteWinner(ctx, m.ID, voter, 2))

	votes, err := f.mem.HGetAll(ctx, voteKey(m.ID))
	require.NoError(t, err)
	require.Len(t, votes, 1)
}

func TestVoteRejectsOutsiders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := seedGameReady(t, f)
	startGame(t, f, m)

	err := f.monitor.VoteWinner(ctx, m.ID, "Stranger#T", 1)
	require.ErrorIs(t, err, domain.ErrNotInPhase)

	err = f.monitor.VoteWinner(ctx, m.ID, m.Team1[0].SummonerName, 3)
	require.ErrorIs(t, err, domain.ErrNotInPhase)
}

func TestFinishDeclaredResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := seedGameReady(t, f)
	startGame(t, f, m)

	require.NoError(t, f.monitor.Finish(ctx, m.ID, 2, "declared"))

	stored, err := f.sql.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	require.Nil(t, stored)

	winner, err := f.sql.GetPlayer(ctx, m.Team2[0].SummonerName)
	require.NoError(t, err)
	require.Equal(t, 116, winner.CustomLP)
}

func TestFinishResolvedMatchIsNoOp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := seedGameReady(t, f)
	startGame(t, f, m)

	require.NoError(t, f.monitor.Finish(ctx, m.ID, 1, "declared"))
	require.NoError(t, f.monitor.Finish(ctx, m.ID, 2, "declared"))

	// Only the first result applied.
	p, err := f.sql.GetPlayer(ctx, m.Team1[0].SummonerName)
	require.NoError(t, err)
	require.Equal(t, 116, p.CustomLP)
}

func TestLobbyRetryOnTick(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.client.failures = 1

	m := seedGameReady(t, f)
	startGame(t, f, m)
	require.Equal(t, 0, f.client.created)

	f.monitor.tick(ctx, m.ID)
	require.Equal(t, 1, f.client.created)

	lobby, _, err := f.mem.HGet(ctx, statsKey(m.ID), "lobby")
	require.NoError(t, err)
	require.Equal(t, "created", lobby)
}

func TestLobbyRetryGivesUpAtLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.client.failures = 10

	m := seedGameReady(t, f)
	startGame(t, f, m)
	for i := 0; i < 5; i++ {
		f.monitor.tick(ctx, m.ID)
	}
	// One failure at start plus retries up to the limit.
	require.Equal(t, 10-lobbyRetryLimit, f.client.failures)
}

func TestTimeoutCancelsWithoutLP(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := seedGameReady(t, f)
	startGame(t, f, m)

	// Backdate the start past the timeout.
	old := time.Now().Add(-2 * time.Hour).UnixMilli()
	require.NoError(t, f.mem.HSet(ctx, statsKey(m.ID),
		map[string]string{"startTimeMs": fmt.Sprintf("%d", old)}))

	f.monitor.tick(ctx, m.ID)

	stored, err := f.sql.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	require.Nil(t, stored)

	for _, name := range m.RosterNames() {
		state, _ := f.states.Get(ctx, name)
		require.Equal(t, domain.StateAvailable, state)

		p, err := f.sql.GetPlayer(ctx, name)
		require.NoError(t, err)
		require.Equal(t, 100, p.CustomLP)
	}
}

func TestResumeReindexesInProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := seedGameReady(t, f)
	startGame(t, f, m)

	// Simulate a key-value store wipe.
	require.NoError(t, f.mem.Delete(ctx, statsKey(m.ID)))
	require.NoError(t, f.mem.SRem(ctx, activeKey, m.ID))

	require.NoError(t, f.monitor.Resume(ctx))

	active, err := f.mem.SMembers(ctx, activeKey)
	require.NoError(t, err)
	require.Contains(t, active, m.ID)

	status, _, err := f.mem.HGet(ctx, statsKey(m.ID), "status")
	require.NoError(t, err)
	require.Equal(t, domain.MatchStatusInProgress, status)
}
