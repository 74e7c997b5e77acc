// Package draft runs the twenty-action ban/pick sequence and the final
// roster confirmation.
package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edvart/lol-inhouse/internal/bridge"
	"github.com/edvart/lol-inhouse/internal/config"
	"github.com/edvart/lol-inhouse/internal/domain"
	"github.com/edvart/lol-inhouse/internal/events"
	"github.com/edvart/lol-inhouse/internal/kv"
	"github.com/edvart/lol-inhouse/internal/playerstate"
	"github.com/edvart/lol-inhouse/internal/store"
)

const (
	lockWait  = 10 * time.Second
	lockLease = 5 * time.Second

	// activeKey holds the match ids currently drafting so any replica's
	// monitor can drive timeouts.
	activeKey = "draft:active"

	totalActions      = 20
	confirmationQuota = 10
)

// banOrder and pickOrder give the acting team per action slot. Bans
// alternate; picks snake so neither side gets back-to-back priority.
var (
	banOrder  = []int{1, 2, 1, 2, 1, 2, 1, 2, 1, 2}
	pickOrder = []int{1, 2, 2, 1, 1, 2, 2, 1, 1, 2}
)

// GameStarter begins the game phase once the draft is confirmed.
type GameStarter interface {
	StartGame(ctx context.Context, m *domain.Match, data *domain.PickBanData) error
}

// Engine drives the ban/pick state machine.
type Engine struct {
	cfg    config.Config
	store  kv.Store
	locker *kv.Locker
	sql    store.Store
	states *playerstate.Registry
	bus    *events.Bus
	chat   bridge.ChatBridge
	game   GameStarter
	log    *logrus.Entry
}

// NewEngine creates the draft engine. The game starter is wired in
// afterwards via SetGameStarter.
func NewEngine(cfg config.Config, kvStore kv.Store, locker *kv.Locker, sql store.Store,
	states *playerstate.Registry, bus *events.Bus, chat bridge.ChatBridge) *Engine {
	return &Engine{
		cfg:    cfg,
		store:  kvStore,
		locker: locker,
		sql:    sql,
		states: states,
		bus:    bus,
		chat:   chat,
		log:    logrus.WithField("component", "draft"),
	}
}

// SetGameStarter wires the game monitor in after construction.
func (e *Engine) SetGameStarter(g GameStarter) {
	e.game = g
}

func stateKey(matchID string) string   { return "draft_flow:" + matchID + ":state" }
func confirmKey(matchID string) string { return "draft_flow:" + matchID + ":final_confirmations" }
func lockName(matchID string) string   { return "lock:draft:" + matchID }
func confirmLockName(matchID string) string {
	return "lock:draft_confirm:" + matchID
}

// template builds the empty twenty-action sequence.
func template() []domain.DraftAction {
	actions := make([]domain.DraftAction, 0, totalActions)
	for i, team := range banOrder {
		actions = append(actions, domain.DraftAction{Index: i, Type: domain.ActionBan, Team: team})
	}
	for i, team := range pickOrder {
		actions = append(actions, domain.DraftAction{Index: len(banOrder) + i, Type: domain.ActionPick, Team: team})
	}
	return actions
}

// StartDraft initializes the draft state for an accepted match.
// Implements acceptance.DraftStarter.
func (e *Engine) StartDraft(ctx context.Context, m *domain.Match) error {
	state := &domain.DraftState{
		MatchID:           m.ID,
		Actions:           template(),
		CurrentIndex:      0,
		Team1:             m.Team1,
		Team2:             m.Team2,
		LastActionStartMs: time.Now().UnixMilli(),
	}
	if err := e.saveState(ctx, state); err != nil {
		return err
	}
	if err := e.store.SAdd(ctx, activeKey, m.ID); err != nil {
		return err
	}
	if err := e.persist(ctx, state); err != nil {
		e.log.WithError(err).WithField("matchID", m.ID).Warn("failed to persist initial draft snapshot")
	}

	e.log.WithField("matchID", m.ID).Info("draft started")

	e.bus.Publish(ctx, &events.DraftStarting{
		MatchID:       m.ID,
		Team1:         m.Team1,
		Team2:         m.Team2,
		Actions:       state.Actions,
		CurrentIndex:  0,
		CurrentPlayer: currentPlayer(state),
		TimeRemaining: int(e.cfg.DraftActionTimeout.Seconds()),
	})
	return nil
}

// ProcessAction applies one ban or pick on behalf of a player. The
// actionIndex pins the client's intent to a slot: a late submission for
// an already skipped action must not land on the next one.
func (e *Engine) ProcessAction(ctx context.Context, matchID, summonerName string, actionIndex int, championID string) error {
	lock, err := e.locker.TryLock(ctx, lockName(matchID), lockWait, lockLease)
	if err != nil {
		return domain.PhaseErr(domain.ErrContended, matchID, "draft")
	}
	defer lock.Unlock(ctx)

	state, err := e.loadState(ctx, matchID)
	if err != nil {
		return err
	}

	if state.CurrentIndex >= totalActions {
		return domain.PhaseErr(domain.ErrDraftComplete, matchID, "draft")
	}
	if actionIndex != state.CurrentIndex {
		return fmt.Errorf("%w: action %d submitted, draft is at %d", domain.ErrOutOfTurn, actionIndex, state.CurrentIndex)
	}
	current := state.Actions[state.CurrentIndex]
	team := teamOf(state, summonerName)
	if team != current.Team {
		return fmt.Errorf("%w: action %d belongs to team %d", domain.ErrWrongTeam, current.Index, current.Team)
	}
	if championUsed(state, championID) {
		return fmt.Errorf("%w: %s", domain.ErrChampionUsed, championID)
	}

	if !lock.Held() {
		return domain.PhaseErr(domain.ErrLockLost, matchID, "draft")
	}
	e.fill(ctx, state, championID, summonerName)
	return e.afterAction(ctx, lock, state, current, championID, summonerName)
}

// fill completes the current action and advances the cursor.
func (e *Engine) fill(ctx context.Context, state *domain.DraftState, championID, byPlayer string) {
	state.Actions[state.CurrentIndex].ChampionID = championID
	state.Actions[state.CurrentIndex].ByPlayer = byPlayer
	state.CurrentIndex++
	state.LastActionStartMs = time.Now().UnixMilli()
	if state.CurrentIndex >= totalActions {
		state.ConfirmStartMs = state.LastActionStartMs
	}
}

func (e *Engine) afterAction(ctx context.Context, lock *kv.Lock, state *domain.DraftState,
	acted domain.DraftAction, championID, byPlayer string) error {
	if err := e.saveState(ctx, state); err != nil {
		return err
	}
	if err := e.persist(ctx, state); err != nil {
		e.log.WithError(err).WithField("matchID", state.MatchID).Warn("failed to persist draft snapshot")
	}

	e.log.WithFields(logrus.Fields{
		"matchID":  state.MatchID,
		"index":    acted.Index,
		"type":     acted.Type,
		"team":     acted.Team,
		"champion": championID,
		"player":   byPlayer,
	}).Info("draft action")

	e.bus.Publish(ctx, &events.DraftAction{
		MatchID:    state.MatchID,
		ActionType: acted.Type,
		Index:      acted.Index,
		Team:       acted.Team,
		ChampionID: championID,
		ByPlayer:   byPlayer,
	})
	e.publishUpdate(ctx, state)

	if state.CurrentIndex >= totalActions {
		e.log.WithField("matchID", state.MatchID).Info("draft sequence complete, awaiting confirmations")
		e.bus.Publish(ctx, &events.DraftCompleted{MatchID: state.MatchID})
		e.chat.AnnounceDraftCompleted(ctx, state.MatchID)
	}
	return nil
}

// Confirm records a player's final roster confirmation. The tenth
// confirmation promotes the match to game_ready.
func (e *Engine) Confirm(ctx context.Context, matchID, summonerName string) error {
	lock, err := e.locker.TryLock(ctx, confirmLockName(matchID), lockWait, lockLease)
	if err != nil {
		return domain.PhaseErr(domain.ErrContended, matchID, "draft")
	}
	defer lock.Unlock(ctx)

	state, err := e.loadState(ctx, matchID)
	if err != nil {
		return err
	}
	if state.CurrentIndex < totalActions {
		return domain.PhaseErr(domain.ErrNotInPhase, matchID, "draft")
	}
	if teamOf(state, summonerName) == 0 {
		return fmt.Errorf("%w: %s not in match %s", domain.ErrNotInPhase, summonerName, matchID)
	}

	if err := e.store.SAdd(ctx, confirmKey(matchID), strings.ToLower(summonerName)); err != nil {
		return err
	}
	confirmed, err := e.store.SCard(ctx, confirmKey(matchID))
	if err != nil {
		return err
	}

	e.log.WithFields(logrus.Fields{
		"matchID":   matchID,
		"player":    summonerName,
		"confirmed": confirmed,
	}).Info("draft confirmation")

	e.publishUpdate(ctx, state)
	if confirmed >= confirmationQuota {
		return e.finalize(ctx, state)
	}
	return nil
}

// finalize promotes the confirmed draft to game_ready and hands off to
// the game monitor. Caller holds the confirmation lock.
func (e *Engine) finalize(ctx context.Context, state *domain.DraftState) error {
	if err := e.sql.UpdateMatchStatus(ctx, state.MatchID, domain.MatchStatusDraft, domain.MatchStatusGameReady); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Another replica finalized first.
			return nil
		}
		return err
	}

	e.bus.Publish(ctx, &events.DraftConfirmed{MatchID: state.MatchID})
	e.bus.Publish(ctx, &events.MatchGameReady{
		MatchID: state.MatchID,
		Team1:   events.TeamResult{Players: state.Team1, Picks: teamPicks(state, 1)},
		Team2:   events.TeamResult{Players: state.Team2, Picks: teamPicks(state, 2)},
	})

	if err := e.store.SRem(ctx, activeKey, state.MatchID); err != nil {
		e.log.WithError(err).Warn("failed to deindex draft")
	}
	if err := e.store.Delete(ctx, stateKey(state.MatchID)); err != nil {
		e.log.WithError(err).Warn("failed to delete draft state")
	}
	if err := e.store.Delete(ctx, confirmKey(state.MatchID)); err != nil {
		e.log.WithError(err).Warn("failed to delete confirmations")
	}

	e.log.WithField("matchID", state.MatchID).Info("draft confirmed, starting game")

	m := &domain.Match{
		ID:     state.MatchID,
		Status: domain.MatchStatusGameReady,
		Team1:  state.Team1,
		Team2:  state.Team2,
	}
	data := &domain.PickBanData{
		Team1:        state.Team1,
		Team2:        state.Team2,
		Actions:      state.Actions,
		CurrentIndex: state.CurrentIndex,
	}
	return e.game.StartGame(ctx, m, data)
}

// Resume reloads in-flight drafts from the authoritative match rows,
// rebuilding shared state lost with the key-value store.
func (e *Engine) Resume(ctx context.Context) error {
	ids, err := e.sql.ListMatchIDsByStatus(ctx, domain.MatchStatusDraft)
	if err != nil {
		return err
	}
	for _, matchID := range ids {
		if _, ok, err := e.store.Get(ctx, stateKey(matchID)); err != nil {
			return err
		} else if ok {
			continue
		}
		m, err := e.sql.GetMatch(ctx, matchID)
		if err != nil || m == nil {
			continue
		}
		var data domain.PickBanData
		if len(m.PickBanData) > 0 {
			if err := json.Unmarshal(m.PickBanData, &data); err != nil {
				e.log.WithError(err).WithField("matchID", matchID).Warn("corrupt draft snapshot, restarting draft")
				data = domain.PickBanData{Team1: m.Team1, Team2: m.Team2}
			}
		}
		actions := data.Actions
		if len(actions) != totalActions {
			actions = template()
			data.CurrentIndex = 0
		}
		state := &domain.DraftState{
			MatchID:           matchID,
			Actions:           actions,
			CurrentIndex:      data.CurrentIndex,
			Team1:             firstNonEmpty(data.Team1, m.Team1),
			Team2:             firstNonEmpty(data.Team2, m.Team2),
			LastActionStartMs: time.Now().UnixMilli(),
		}
		if state.CurrentIndex >= totalActions {
			state.ConfirmStartMs = state.LastActionStartMs
		}
		if err := e.saveState(ctx, state); err != nil {
			return err
		}
		if err := e.store.SAdd(ctx, activeKey, matchID); err != nil {
			return err
		}
		e.log.WithFields(logrus.Fields{
			"matchID": matchID,
			"index":   state.CurrentIndex,
		}).Info("draft resumed from persisted snapshot")
	}
	return nil
}

// persist merges the live draft state into the match row's snapshot,
// preserving the roster blocks written at acceptance time.
func (e *Engine) persist(ctx context.Context, state *domain.DraftState) error {
	m, err := e.sql.GetMatch(ctx, state.MatchID)
	if err != nil {
		return err
	}
	if m == nil {
		return domain.PhaseErr(domain.ErrUnknownMatch, state.MatchID, "draft")
	}

	var data domain.PickBanData
	if len(m.PickBanData) > 0 {
		if err := json.Unmarshal(m.PickBanData, &data); err != nil {
			data = domain.PickBanData{}
		}
	}
	if len(data.Team1) == 0 {
		data.Team1 = state.Team1
	}
	if len(data.Team2) == 0 {
		data.Team2 = state.Team2
	}
	data.Actions = state.Actions
	data.CurrentIndex = state.CurrentIndex

	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return e.sql.SavePickBanData(ctx, state.MatchID, raw)
}

// Snapshot returns the live draft state, for reconnect re-emission.
func (e *Engine) Snapshot(ctx context.Context, matchID string) (*domain.DraftState, error) {
	return e.loadState(ctx, matchID)
}

func (e *Engine) loadState(ctx context.Context, matchID string) (*domain.DraftState, error) {
	raw, ok, err := e.store.Get(ctx, stateKey(matchID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.PhaseErr(domain.ErrUnknownMatch, matchID, "draft")
	}
	var state domain.DraftState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (e *Engine) saveState(ctx context.Context, state *domain.DraftState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return e.store.Set(ctx, stateKey(state.MatchID), string(raw), 0)
}

func (e *Engine) publishUpdate(ctx context.Context, state *domain.DraftState) {
	confirmations, err := e.store.SMembers(ctx, confirmKey(state.MatchID))
	if err != nil {
		confirmations = nil
	}
	remaining := e.cfg.DraftActionTimeout.Milliseconds() - (time.Now().UnixMilli() - state.LastActionStartMs)
	if remaining < 0 {
		remaining = 0
	}
	e.bus.Publish(ctx, &events.DraftUpdated{
		MatchID:          state.MatchID,
		CurrentIndex:     state.CurrentIndex,
		Actions:          state.Actions,
		Confirmations:    confirmations,
		RemainingMs:      remaining,
		ActionTimeoutMs:  e.cfg.DraftActionTimeout.Milliseconds(),
		ConfirmationOnly: state.CurrentIndex >= totalActions,
	})
}

// teamOf resolves a player's side from the draft roster, case-insensitive.
func teamOf(state *domain.DraftState, summonerName string) int {
	for _, r := range state.Team1 {
		if strings.EqualFold(r.SummonerName, summonerName) {
			return 1
		}
	}
	for _, r := range state.Team2 {
		if strings.EqualFold(r.SummonerName, summonerName) {
			return 2
		}
	}
	return 0
}

// championUsed checks completed actions for the champion. The skip
// sentinel never blocks a later action.
func championUsed(state *domain.DraftState, championID string) bool {
	if championID == domain.SkippedChampion {
		return false
	}
	for _, a := range state.Actions {
		if a.Completed() && !a.Skipped() && strings.EqualFold(a.ChampionID, championID) {
			return true
		}
	}
	return false
}

// currentPlayer names the roster member on the clock: the next unpicked
// slot of the acting team for picks, empty for bans (any teammate).
func currentPlayer(state *domain.DraftState) string {
	if state.CurrentIndex >= totalActions {
		return ""
	}
	current := state.Actions[state.CurrentIndex]
	if current.Type == domain.ActionBan {
		return ""
	}
	var done int
	for _, a := range state.Actions[:state.CurrentIndex] {
		if a.Type == domain.ActionPick && a.Team == current.Team {
			done++
		}
	}
	roster := state.Team1
	if current.Team == 2 {
		roster = state.Team2
	}
	if done < len(roster) {
		return roster[done].SummonerName
	}
	return ""
}

// teamPicks collects a team's picked champions in action order.
func teamPicks(state *domain.DraftState, team int) []string {
	var picks []string
	for _, a := range state.Actions {
		if a.Type == domain.ActionPick && a.Team == team && a.Completed() {
			picks = append(picks, a.ChampionID)
		}
	}
	return picks
}

func firstNonEmpty(a, b []domain.RosterEntry) []domain.RosterEntry {
	if len(a) > 0 {
		return a
	}
	return b
}
