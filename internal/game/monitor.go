package game

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/edvart/lol-inhouse/internal/domain"
	"github.com/edvart/lol-inhouse/internal/events"
)

// RunMonitor sweeps the active games on the configured interval and
// cancels any that have outlived the game timeout.
func (g *Monitor) RunMonitor(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.GameMonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweep(ctx)
		}
	}
}

func (g *Monitor) sweep(ctx context.Context) {
	ids, err := g.store.SMembers(ctx, activeKey)
	if err != nil {
		g.log.WithError(err).Warn("game sweep failed")
		return
	}
	for _, matchID := range ids {
		g.tick(ctx, matchID)
	}
}

func (g *Monitor) tick(ctx context.Context, matchID string) {
	stats, err := g.store.HGetAll(ctx, statsKey(matchID))
	if err != nil {
		g.log.WithError(err).WithField("matchID", matchID).Warn("failed to read game stats")
		return
	}
	if len(stats) == 0 {
		if err := g.store.SRem(ctx, activeKey, matchID); err != nil {
			g.log.WithError(err).Warn("failed to deindex game")
		}
		return
	}

	if stats["lobby"] == "pending" {
		g.retryLobby(ctx, matchID, stats)
	}

	start, _ := strconv.ParseInt(stats["startTimeMs"], 10, 64)
	if time.Since(time.UnixMilli(start)) <= g.cfg.GameTimeout {
		return
	}

	// Single-shot guard: only one replica runs the cancellation.
	ok, err := g.locker.TryLockOnce(ctx, "lock:game:cancel:"+matchID, time.Minute)
	if err != nil || !ok {
		return
	}
	g.log.WithField("matchID", matchID).Warn("game exceeded timeout, cancelling")
	g.cancel(ctx, matchID)
}

func (g *Monitor) retryLobby(ctx context.Context, matchID string, stats map[string]string) {
	raw, _, err := g.store.Get(ctx, retryKey(matchID))
	if err != nil {
		return
	}
	// Missing key means no failed attempts yet.
	if n, _ := strconv.Atoi(raw); n >= lobbyRetryLimit {
		return
	}
	m := &domain.Match{ID: matchID, Status: domain.MatchStatusInProgress}
	if err := json.Unmarshal([]byte(stats["team1"]), &m.Team1); err != nil {
		return
	}
	if err := json.Unmarshal([]byte(stats["team2"]), &m.Team2); err != nil {
		return
	}
	g.tryCreateLobby(ctx, m)
}

// cancel tears down a timed-out game. No LP moves; the match row ends
// cancelled and is removed.
func (g *Monitor) cancel(ctx context.Context, matchID string) {
	lock, err := g.locker.TryLock(ctx, "lock:game:finish:"+matchID, finishLockWait, finishLockLease)
	if err != nil {
		return
	}
	defer lock.Unlock(ctx)

	m, err := g.sql.GetMatch(ctx, matchID)
	if err != nil {
		g.log.WithError(err).WithField("matchID", matchID).Warn("failed to load match for cancel")
		return
	}
	if m == nil || m.Status != domain.MatchStatusInProgress {
		return
	}

	if err := g.sql.SetMatchStatus(ctx, matchID, domain.MatchStatusCancelled); err != nil {
		g.log.WithError(err).Warn("failed to mark match cancelled")
	}
	for _, name := range m.RosterNames() {
		if err := g.states.ForceSet(ctx, name, domain.StateAvailable); err != nil {
			g.log.WithError(err).WithField("player", name).Warn("state release failed")
		}
	}
	if err := g.owners.ClearMatchPlayers(ctx, matchID); err != nil {
		g.log.WithError(err).Warn("failed to clear match ownership")
	}
	if err := g.sql.DeleteMatch(ctx, matchID); err != nil {
		g.log.WithError(err).Warn("failed to delete cancelled match row")
	}
	if err := g.store.SRem(ctx, activeKey, matchID); err != nil {
		g.log.WithError(err).Warn("failed to deindex game")
	}
	for _, key := range []string{statsKey(matchID), voteKey(matchID), retryKey(matchID)} {
		if err := g.store.Delete(ctx, key); err != nil {
			g.log.WithError(err).WithField("key", key).Warn("failed to delete game key")
		}
	}

	g.bus.Publish(ctx, &events.MatchCancelled{MatchID: matchID, Reason: "timeout"})
}

// Resume re-registers in-progress matches lost with the shared store.
func (g *Monitor) Resume(ctx context.Context) error {
	ids, err := g.sql.ListMatchIDsByStatus(ctx, domain.MatchStatusInProgress, domain.MatchStatusGameReady)
	if err != nil {
		return err
	}
	for _, matchID := range ids {
		stats, err := g.store.HGetAll(ctx, statsKey(matchID))
		if err != nil {
			return err
		}
		if len(stats) > 0 {
			if err := g.store.SAdd(ctx, activeKey, matchID); err != nil {
				return err
			}
			continue
		}
		m, err := g.sql.GetMatch(ctx, matchID)
		if err != nil || m == nil {
			continue
		}
		if m.Status == domain.MatchStatusGameReady {
			// Crashed between confirmation and start; push it through.
			var data domain.PickBanData
			if len(m.PickBanData) > 0 {
				if err := json.Unmarshal(m.PickBanData, &data); err != nil {
					data = domain.PickBanData{}
				}
			}
			if err := g.StartGame(ctx, m, &data); err != nil {
				g.log.WithError(err).WithField("matchID", matchID).Warn("failed to resume game_ready match")
			}
			continue
		}
		team1JSON, _ := json.Marshal(m.Team1)
		team2JSON, _ := json.Marshal(m.Team2)
		if err := g.store.HSet(ctx, statsKey(matchID), map[string]string{
			"startTimeMs": strconv.FormatInt(m.UpdatedAt.UnixMilli(), 10),
			"status":      domain.MatchStatusInProgress,
			"team1":       string(team1JSON),
			"team2":       string(team2JSON),
			"lobby":       "created",
		}); err != nil {
			return err
		}
		if err := g.store.SAdd(ctx, activeKey, matchID); err != nil {
			return err
		}
		g.log.WithField("matchID", matchID).Info("game resumed from persisted row")
	}
	return nil
}
