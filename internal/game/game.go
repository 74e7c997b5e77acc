// Package game tracks in-progress matches through to resolution: winner
// votes or a declared result, LP application and teardown.
package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edvart/lol-inhouse/internal/bridge"
	"github.com/edvart/lol-inhouse/internal/config"
	"github.com/edvart/lol-inhouse/internal/domain"
	"github.com/edvart/lol-inhouse/internal/events"
	"github.com/edvart/lol-inhouse/internal/kv"
	"github.com/edvart/lol-inhouse/internal/ownership"
	"github.com/edvart/lol-inhouse/internal/playerstate"
	"github.com/edvart/lol-inhouse/internal/store"
)

const (
	// activeKey holds the ids of in-progress games.
	activeKey = "game:active"

	finishLockWait  = 2 * time.Second
	finishLockLease = 10 * time.Second

	// voteQuota is the number of agreeing ballots that decides a winner.
	voteQuota = 6

	lobbyRetryLimit = 3
)

// Monitor owns the in-progress phase of the match lifecycle.
type Monitor struct {
	cfg    config.Config
	store  kv.Store
	locker *kv.Locker
	sql    store.Store
	states *playerstate.Registry
	owners *ownership.Maps
	bus    *events.Bus
	chat   bridge.ChatBridge
	client bridge.GameClientBridge
	log    *logrus.Entry
}

// NewMonitor creates the game monitor.
func NewMonitor(cfg config.Config, kvStore kv.Store, locker *kv.Locker, sql store.Store,
	states *playerstate.Registry, owners *ownership.Maps, bus *events.Bus,
	chat bridge.ChatBridge, client bridge.GameClientBridge) *Monitor {
	return &Monitor{
		cfg:    cfg,
		store:  kvStore,
		locker: locker,
		sql:    sql,
		states: states,
		owners: owners,
		bus:    bus,
		chat:   chat,
		client: client,
		log:    logrus.WithField("component", "game"),
	}
}

func statsKey(matchID string) string { return "game:" + matchID + ":stats" }
func voteKey(matchID string) string  { return "match_vote:" + matchID }
func ackKey(matchID, summonerName string) string {
	return "game_ack:" + matchID + ":" + strings.ToLower(summonerName)
}
func retryKey(matchID string) string { return "game_retry:" + matchID }

// StartGame promotes a confirmed draft into a running game. Implements
// draft.GameStarter.
func (g *Monitor) StartGame(ctx context.Context, m *domain.Match, data *domain.PickBanData) error {
	if err := g.sql.UpdateMatchStatus(ctx, m.ID, domain.MatchStatusGameReady, domain.MatchStatusInProgress); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil
		}
		return err
	}

	startMs := time.Now().UnixMilli()
	team1JSON, _ := json.Marshal(m.Team1)
	team2JSON, _ := json.Marshal(m.Team2)
	if err := g.store.HSet(ctx, statsKey(m.ID), map[string]string{
		"startTimeMs": strconv.FormatInt(startMs, 10),
		"status":      domain.MatchStatusInProgress,
		"team1":       string(team1JSON),
		"team2":       string(team2JSON),
		"lobby":       "pending",
	}); err != nil {
		return err
	}
	if err := g.store.SAdd(ctx, activeKey, m.ID); err != nil {
		return err
	}

	for _, name := range m.RosterNames() {
		if err := g.states.Set(ctx, name, domain.StateInGame); err != nil {
			g.log.WithError(err).WithField("player", name).Warn("state transition to IN_GAME failed")
		}
	}

	g.log.WithField("matchID", m.ID).Info("game started")

	g.bus.Publish(ctx, &events.GameStarted{
		MatchID:     m.ID,
		SessionID:   m.ID,
		Status:      domain.MatchStatusInProgress,
		StartTime:   startMs,
		Team1:       m.Team1,
		Team2:       m.Team2,
		PickBanData: data,
	})

	g.tryCreateLobby(ctx, m)
	return nil
}

// tryCreateLobby drives the game-client bridge; failures are retried by
// the monitor loop up to the retry limit.
func (g *Monitor) tryCreateLobby(ctx context.Context, m *domain.Match) {
	if err := g.client.CreateLobby(ctx, m); err != nil {
		n, incErr := g.store.Incr(ctx, retryKey(m.ID))
		if incErr != nil {
			g.log.WithError(incErr).Warn("failed to count lobby retry")
		}
		g.log.WithError(err).WithFields(logrus.Fields{
			"matchID": m.ID,
			"attempt": n,
		}).Warn("lobby creation failed")
		return
	}
	if err := g.client.InvitePlayers(ctx, m.ID, m.RosterNames()); err != nil {
		g.log.WithError(err).WithField("matchID", m.ID).Warn("lobby invites failed")
	}
	if err := g.store.HSet(ctx, statsKey(m.ID), map[string]string{"lobby": "created"}); err != nil {
		g.log.WithError(err).Warn("failed to mark lobby created")
	}
	if err := g.store.Delete(ctx, retryKey(m.ID)); err != nil {
		g.log.WithError(err).Warn("failed to clear lobby retry counter")
	}
}

// VoteWinner records one ballot. Players may change their ballot until
// the quota is reached; the sixth agreeing ballot finalizes the match.
func (g *Monitor) VoteWinner(ctx context.Context, matchID, summonerName string, team int) error {
	if team != 1 && team != 2 {
		return fmt.Errorf("%w: invalid team %d", domain.ErrNotInPhase, team)
	}

	lock, err := g.locker.TryLock(ctx, "lock:game:finish:"+matchID, finishLockWait, finishLockLease)
	if err != nil {
		return domain.PhaseErr(domain.ErrContended, matchID, "game")
	}
	defer lock.Unlock(ctx)

	m, err := g.sql.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if m == nil {
		return domain.PhaseErr(domain.ErrUnknownMatch, matchID, "game")
	}
	if m.Status != domain.MatchStatusInProgress {
		return domain.PhaseErr(domain.ErrNotInPhase, matchID, "game")
	}
	if m.TeamOf(summonerName) == 0 {
		return fmt.Errorf("%w: %s not in match %s", domain.ErrNotInPhase, summonerName, matchID)
	}

	if err := g.store.HSet(ctx, voteKey(matchID), map[string]string{
		strings.ToLower(summonerName): strconv.Itoa(team),
	}); err != nil {
		return err
	}
	// The ballot doubles as the player's in-game acknowledgement.
	if err := g.store.Set(ctx, ackKey(matchID, summonerName), "1", g.cfg.GameTimeout); err != nil {
		g.log.WithError(err).Warn("failed to record game ack")
	}

	votes, err := g.store.HGetAll(ctx, voteKey(matchID))
	if err != nil {
		return err
	}
	var votes1, votes2 int
	for _, v := range votes {
		switch v {
		case "1":
			votes1++
		case "2":
			votes2++
		}
	}

	g.log.WithFields(logrus.Fields{
		"matchID": matchID,
		"player":  summonerName,
		"team":    team,
		"votes1":  votes1,
		"votes2":  votes2,
	}).Info("winner ballot")

	g.bus.Publish(ctx, &events.WinnerVote{
		MatchID:      matchID,
		SummonerName: summonerName,
		VotedTeam:    team,
		VotesTeam1:   votes1,
		VotesTeam2:   votes2,
		TotalNeeded:  voteQuota,
	})

	winner := 0
	if votes1 >= voteQuota {
		winner = 1
	} else if votes2 >= voteQuota {
		winner = 2
	}
	if winner == 0 {
		return nil
	}
	return g.finishLocked(ctx, m, winner, "vote")
}

// Finish resolves a match with a declared result.
func (g *Monitor) Finish(ctx context.Context, matchID string, winnerTeam int, reason string) error {
	lock, err := g.locker.TryLock(ctx, "lock:game:finish:"+matchID, finishLockWait, finishLockLease)
	if err != nil {
		return domain.PhaseErr(domain.ErrContended, matchID, "game")
	}
	defer lock.Unlock(ctx)

	m, err := g.sql.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if m == nil || m.Status != domain.MatchStatusInProgress {
		// Already resolved elsewhere.
		return nil
	}
	return g.finishLocked(ctx, m, winnerTeam, reason)
}

// finishLocked runs teardown. Caller holds the finish lock and has
// verified the match is in progress.
func (g *Monitor) finishLocked(ctx context.Context, m *domain.Match, winnerTeam int, reason string) error {
	// Repair any desynced player states before the final transition.
	for _, name := range m.RosterNames() {
		if err := g.states.ForceSet(ctx, name, domain.StateInGame); err != nil {
			g.log.WithError(err).WithField("player", name).Warn("state reconcile failed")
		}
	}

	duration := g.elapsed(ctx, m.ID)

	var lpChanges map[string]int
	if winnerTeam == 1 || winnerTeam == 2 {
		lpChanges = ComputeLPChanges(m.Team1, m.Team2, winnerTeam)
		for _, name := range m.RosterNames() {
			delta := lpChanges[name]
			won := m.TeamOf(name) == winnerTeam
			if err := g.sql.ApplyMatchResult(ctx, name, delta, won); err != nil {
				g.log.WithError(err).WithField("player", name).Warn("failed to apply match result")
			}
		}
	}

	if err := g.sql.CompleteMatch(ctx, m.ID, winnerTeam, duration, lpChanges); err != nil {
		return err
	}

	for _, name := range m.RosterNames() {
		if err := g.states.ForceSet(ctx, name, domain.StateAvailable); err != nil {
			g.log.WithError(err).WithField("player", name).Warn("state release failed")
		}
	}

	if err := g.owners.ClearMatchPlayers(ctx, m.ID); err != nil {
		g.log.WithError(err).Warn("failed to clear match ownership")
	}
	if err := g.sql.DeleteMatch(ctx, m.ID); err != nil {
		g.log.WithError(err).Warn("failed to delete resolved match row")
	}

	if err := g.store.SRem(ctx, activeKey, m.ID); err != nil {
		g.log.WithError(err).Warn("failed to deindex game")
	}
	for _, key := range []string{statsKey(m.ID), voteKey(m.ID), retryKey(m.ID)} {
		if err := g.store.Delete(ctx, key); err != nil {
			g.log.WithError(err).WithField("key", key).Warn("failed to delete game key")
		}
	}

	g.log.WithFields(logrus.Fields{
		"matchID":    m.ID,
		"winnerTeam": winnerTeam,
		"reason":     reason,
		"durationS":  int(duration.Seconds()),
	}).Info("match resolved")

	g.bus.Publish(ctx, &events.GameFinished{
		MatchID:    m.ID,
		WinnerTeam: winnerTeam,
		Reason:     reason,
		DurationS:  int(duration.Seconds()),
		LPChanges:  lpChanges,
	})
	g.chat.AnnounceGameFinished(ctx, m.ID, winnerTeam, lpChanges)
	return nil
}

func (g *Monitor) elapsed(ctx context.Context, matchID string) time.Duration {
	raw, _, err := g.store.HGet(ctx, statsKey(matchID), "startTimeMs")
	if err != nil || raw == "" {
		return 0
	}
	start, _ := strconv.ParseInt(raw, 10, 64)
	return time.Since(time.UnixMilli(start))
}
