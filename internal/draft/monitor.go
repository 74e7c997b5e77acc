package draft

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edvart/lol-inhouse/internal/domain"
)

const monitorInterval = time.Second

// RunMonitor ticks over the active drafts: expired actions are skipped,
// bots confirm automatically and a stalled confirmation phase is forced
// through once its countdown elapses.
func (e *Engine) RunMonitor(ctx context.Context) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweep(ctx)
		}
	}
}

func (e *Engine) sweep(ctx context.Context) {
	ids, err := e.store.SMembers(ctx, activeKey)
	if err != nil {
		e.log.WithError(err).Warn("draft sweep failed")
		return
	}
	for _, matchID := range ids {
		e.tick(ctx, matchID)
	}
}

func (e *Engine) tick(ctx context.Context, matchID string) {
	lock, err := e.locker.TryLock(ctx, lockName(matchID), 0, lockLease)
	if err != nil {
		// Someone else is acting on this draft right now.
		return
	}
	defer lock.Unlock(ctx)

	state, err := e.loadState(ctx, matchID)
	if err != nil {
		if err := e.store.SRem(ctx, activeKey, matchID); err != nil {
			e.log.WithError(err).Warn("failed to deindex draft")
		}
		return
	}

	if state.CurrentIndex >= totalActions {
		e.confirmationTick(ctx, state)
		return
	}

	elapsed := time.Now().UnixMilli() - state.LastActionStartMs
	if elapsed < e.cfg.DraftActionTimeout.Milliseconds() {
		return
	}

	current := state.Actions[state.CurrentIndex]
	e.log.WithFields(logrus.Fields{
		"matchID": matchID,
		"index":   current.Index,
		"type":    current.Type,
	}).Info("draft action timed out")

	e.fill(ctx, state, domain.SkippedChampion, domain.SystemTimeoutPlayer)
	if err := e.afterAction(ctx, lock, state, current, domain.SkippedChampion, domain.SystemTimeoutPlayer); err != nil {
		e.log.WithError(err).WithField("matchID", matchID).Warn("timeout skip failed")
	}
}

// confirmationTick confirms bots and forces finalization after the
// confirmation window elapses. Missing human confirmations count as
// assent; a completed draft is never rolled back.
func (e *Engine) confirmationTick(ctx context.Context, state *domain.DraftState) {
	confirmed, err := e.store.SMembers(ctx, confirmKey(state.MatchID))
	if err != nil {
		return
	}
	have := make(map[string]bool, len(confirmed))
	for _, name := range confirmed {
		have[name] = true
	}

	for _, r := range append(append([]domain.RosterEntry{}, state.Team1...), state.Team2...) {
		if domain.IsBot(r.SummonerName) && !have[strings.ToLower(r.SummonerName)] {
			if err := e.Confirm(ctx, state.MatchID, r.SummonerName); err != nil {
				e.log.WithError(err).WithFields(logrus.Fields{
					"matchID": state.MatchID,
					"bot":     r.SummonerName,
				}).Warn("bot auto-confirm failed")
			}
		}
	}

	if state.ConfirmStartMs == 0 {
		return
	}
	elapsed := time.Now().UnixMilli() - state.ConfirmStartMs
	if elapsed < e.cfg.ConfirmationTimeout.Milliseconds() {
		return
	}

	e.log.WithField("matchID", state.MatchID).Info("confirmation window elapsed, finalizing draft")
	if err := e.finalize(ctx, state); err != nil {
		e.log.WithError(err).WithField("matchID", state.MatchID).Warn("forced finalization failed")
	}
}
