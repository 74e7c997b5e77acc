package acceptance

import (
	"context"
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

type recordingDraft struct {
	matches []*domain.Match
}

func (r *recordingDraft) StartDraft(_ context.Context, m *domain.Match) error {
	r.matches = append(r.matches, m)
	return nil
}

type fixture struct {
	coord  *Coordinator
	draft  *recordingDraft
	states *playerstate.Registry
	owners *ownership.Maps
	sql    store.Store
	mem    *kv.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	sql, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sql.Close() })

	mem := kv.NewMemoryStore()
	states := playerstate.NewRegistry(mem)
	owners := ownership.NewMaps(mem)
	cfg := config.Config{
		MinCohort:          10,
		AcceptanceTimeout:  30 * time.Second,
		BotAutoAcceptDelay: 2 * time.Second,
	}
	coord := NewCoordinator(cfg, mem, kv.NewLocker(mem), sql, states, owners,
		events.NewBus(mem), bridge.NewLogChat())
	draft := &recordingDraft{}
	coord.SetDraftStarter(draft)

	return &fixture{coord: coord, draft: draft, states: states, owners: owners, sql: sql, mem: mem}
}

// seedMatch creates a found match of ten queued players.
func seedMatch(t *testing.T, f *fixture) *domain.Match {
	t.Helper()
	ctx := context.Background()

	m := &domain.Match{ID: uuid.New().String(), Status: domain.MatchStatusFound}
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("Player%d#T", i)
		entry := domain.RosterEntry{SummonerName: name, Lane: domain.Lanes[i%5], MMR: 1000}
		if i < 5 {
			m.Team1 = append(m.Team1, entry)
		} else {
			m.Team2 = append(m.Team2, entry)
		}
		require.NoError(t, f.sql.UpsertQueueEntry(ctx, &domain.QueueEntry{
			SummonerName: name,
			JoinTime:     time.Now(),
		}))
		require.NoError(t, f.states.Set(ctx, name, domain.StateInQueue))
	}
	require.NoError(t, f.sql.CreateMatch(ctx, m))
	require.NoError(t, f.sql.SetAcceptanceStatus(ctx, m.RosterNames(), domain.AcceptanceAwaiting))
	return m
}

func TestStartAcceptanceRegistersCohort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := seedMatch(t, f)

	require.NoError(t, f.coord.StartAcceptance(ctx, m))

	for _, name := range m.RosterNames() {
		state, err := f.states.Get(ctx, name)
		require.NoError(t, err)
		require.Equal(t, domain.StateInMatchFound, state)

		matchID, ok, err := f.owners.MatchFor(ctx, name)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, m.ID, matchID)
	}

	all, err := f.mem.HGetAll(ctx, acceptancesKey(m.ID))
	require.NoError(t, err)
	require.Len(t, all, 10)
	for _, v := range all {
		require.Equal(t, statePending, v)
	}
}

func TestStartAcceptanceAbortsOnOwnedPlayer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := seedMatch(t, f)

	// One roster member is already claimed by another match.
	require.NoError(t, f.owners.RegisterPlayerMatch(ctx, m.Team2[4].SummonerName, "other-match"))

	err := f.coord.StartAcceptance(ctx, m)
	require.ErrorIs(t, err, domain.ErrAlreadyOwned)

	// The nine provisional registrations were rolled back.
	for _, name := range m.RosterNames()[:9] {
		_, ok, err := f.owners.MatchFor(ctx, name)
		require.NoError(t, err)
		require.False(t, ok)
	}
}

func TestAllAcceptStartsDraft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := seedMatch(t, f)
	require.NoError(t, f.coord.StartAcceptance(ctx, m))

	for _, name := range m.RosterNames() {
		require.NoError(t, f.coord.Accept(ctx, m.ID, name))
	}

	require.Len(t, f.draft.matches, 1)
	require.Equal(t, m.ID, f.draft.matches[0].ID)

	stored, err := f.sql.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, domain.MatchStatusDraft, stored.Status)

	for _, name := range m.RosterNames() {
		state, _ := f.states.Get(ctx, name)
		require.Equal(t, domain.StateInDraft, state)

		inQueue, err := f.sql.InQueue(ctx, name)
		require.NoError(t, err)
		require.False(t, inQueue)
	}
}

func TestAcceptIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := seedMatch(t, f)
	require.NoError(t, f.coord.StartAcceptance(ctx, m))

	name := m.Team1[0].SummonerName
	require.NoError(t, f.coord.Accept(ctx, m.ID, name))
	require.NoError(t, f.coord.Accept(ctx, m.ID, name))

	accepted, total, err := f.coord.counts(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, 1, accepted)
	require.Equal(t, 10, total)
}

func TestAcceptUnknownPlayerRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := seedMatch(t, f)
	require.NoError(t, f.coord.StartAcceptance(ctx, m))

	err := f.coord.Accept(ctx, m.ID, "Stranger#T")
	require.ErrorIs(t, err, domain.ErrNotInPhase)
}

func TestAcceptUnknownMatchRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.coord.Accept(ctx, "no-such-match", "Player0#T")
	require.ErrorIs(t, err, domain.ErrUnknownMatch)
}

func TestDeclineDissolvesMatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := seedMatch(t, f)
	require.NoError(t, f.coord.StartAcceptance(ctx, m))

	decliner := m.Team2[0].SummonerName
	require.NoError(t, f.coord.Accept(ctx, m.ID, m.Team1[0].SummonerName))
	require.NoError(t, f.coord.Decline(ctx, m.ID, decliner))

	// Match row is gone; no draft was started.
	stored, err := f.sql.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	require.Nil(t, stored)
	require.Empty(t, f.draft.matches)

	// Decliner left the queue entirely.
	inQueue, err := f.sql.InQueue(ctx, decliner)
	require.NoError(t, err)
	require.False(t, inQueue)
	state, _ := f.states.Get(ctx, decliner)
	require.Equal(t, domain.StateAvailable, state)

	// The other nine stay queued with a fresh idle status.
	idle, err := f.sql.ListIdleQueue(ctx)
	require.NoError(t, err)
	require.Len(t, idle, 9)
	for _, name := range m.RosterNames() {
		if name == decliner {
			continue
		}
		state, _ := f.states.Get(ctx, name)
		require.Equal(t, domain.StateInQueue, state)

		_, ok, _ := f.owners.MatchFor(ctx, name)
		require.False(t, ok)
	}
}

func TestAcceptAfterDeclineRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := seedMatch(t, f)
	require.NoError(t, f.coord.StartAcceptance(ctx, m))

	require.NoError(t, f.coord.Decline(ctx, m.ID, m.Team1[0].SummonerName))

	err := f.coord.Accept(ctx, m.ID, m.Team1[1].SummonerName)
	require.Error(t, err)
}

func TestBotsAutoAcceptOnTick(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := seedMatch(t, f)

	// Swap two humans for bots.
	m.Team1[0].SummonerName = "Bot One"
	m.Team2[0].SummonerName = "Bot Two"
	for _, name := range []string{"Bot One", "Bot Two"} {
		require.NoError(t, f.sql.UpsertQueueEntry(ctx, &domain.QueueEntry{
			SummonerName: name, JoinTime: time.Now(),
		}))
		require.NoError(t, f.states.Set(ctx, name, domain.StateInQueue))
	}
	require.NoError(t, f.coord.StartAcceptance(ctx, m))

	// Backdate the window past the bot delay and run one monitor tick.
	start := time.Now().Add(-3 * time.Second).UnixMilli()
	require.NoError(t, f.mem.HSet(ctx, metadataKey(m.ID),
		map[string]string{"startTimeMs": fmt.Sprintf("%d", start)}))
	f.coord.tick(ctx, m.ID)

	accepted, _, err := f.coord.counts(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, 2, accepted)
}

func TestTimeoutDeclinesFirstPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := seedMatch(t, f)
	require.NoError(t, f.coord.StartAcceptance(ctx, m))

	// Everyone but the first two accepted.
	for _, name := range m.RosterNames()[2:] {
		require.NoError(t, f.coord.Accept(ctx, m.ID, name))
	}

	start := time.Now().Add(-31 * time.Second).UnixMilli()
	require.NoError(t, f.mem.HSet(ctx, metadataKey(m.ID),
		map[string]string{"startTimeMs": fmt.Sprintf("%d", start)}))
	f.coord.tick(ctx, m.ID)

	// The first pending player in slot order took the blame.
	stored, err := f.sql.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	require.Nil(t, stored)

	culprit := m.RosterNames()[0]
	inQueue, err := f.sql.InQueue(ctx, culprit)
	require.NoError(t, err)
	require.False(t, inQueue)

	survivor := m.RosterNames()[1]
	inQueue, err = f.sql.InQueue(ctx, survivor)
	require.NoError(t, err)
	require.True(t, inQueue)
}
