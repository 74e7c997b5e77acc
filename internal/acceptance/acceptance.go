// Package acceptance runs the match-found countdown: every player must
// accept within the window or the cohort is dissolved.
package acceptance

import (
	"context"
	"encoding/json"
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
	lockWait  = 2 * time.Second
	lockLease = 10 * time.Second

	// activeKey indexes matches in their acceptance window, scored by
	// startTimeMs, so any replica's monitor can drive timeouts.
	activeKey = "acceptance:active"

	// terminalTTL keeps metadata readable briefly after resolution.
	terminalTTL = time.Minute

	statusWaiting     = "waiting"
	statusAllAccepted = "all_accepted"
	statusCancelled   = "cancelled"

	stateAccepted = "accepted"
	statePending  = "pending"
	stateDeclined = "declined"
)

// DraftStarter begins the draft once all ten have accepted.
type DraftStarter interface {
	StartDraft(ctx context.Context, m *domain.Match) error
}

// Coordinator drives the acceptance protocol for found matches.
type Coordinator struct {
	cfg    config.Config
	store  kv.Store
	locker *kv.Locker
	sql    store.Store
	states *playerstate.Registry
	owners *ownership.Maps
	bus    *events.Bus
	chat   bridge.ChatBridge
	draft  DraftStarter
	log    *logrus.Entry
}

// NewCoordinator creates the acceptance coordinator. The draft starter is
// wired afterwards via SetDraftStarter.
func NewCoordinator(cfg config.Config, kvStore kv.Store, locker *kv.Locker, sql store.Store,
	states *playerstate.Registry, owners *ownership.Maps, bus *events.Bus, chat bridge.ChatBridge) *Coordinator {
	return &Coordinator{
		cfg:    cfg,
		store:  kvStore,
		locker: locker,
		sql:    sql,
		states: states,
		owners: owners,
		bus:    bus,
		chat:   chat,
		log:    logrus.WithField("component", "acceptance"),
	}
}

// SetDraftStarter wires the draft engine in after construction.
func (c *Coordinator) SetDraftStarter(d DraftStarter) {
	c.draft = d
}

func acceptancesKey(matchID string) string { return "match:" + matchID + ":acceptances" }
func metadataKey(matchID string) string    { return "match:" + matchID + ":metadata" }
func lockName(matchID string) string       { return "lock:match_acceptance:" + matchID }

// StartAcceptance registers ownership for the cohort, creates the
// tracking record and opens the countdown. Implements queue.MatchStarter.
func (c *Coordinator) StartAcceptance(ctx context.Context, m *domain.Match) error {
	registered := make([]string, 0, 10)
	for _, name := range m.RosterNames() {
		if err := c.owners.RegisterPlayerMatch(ctx, name, m.ID); err != nil {
			for _, done := range registered {
				if relErr := c.owners.ReleasePlayer(ctx, done, m.ID); relErr != nil {
					c.log.WithError(relErr).Warn("rollback release failed")
				}
			}
			return err
		}
		registered = append(registered, name)
	}

	for _, name := range m.RosterNames() {
		if err := c.states.Set(ctx, name, domain.StateInMatchFound); err != nil {
			c.log.WithError(err).WithField("player", name).Warn("state transition to IN_MATCH_FOUND failed")
		}
	}

	pending := make(map[string]string, 10)
	for _, name := range m.RosterNames() {
		pending[strings.ToLower(name)] = statePending
	}
	if err := c.store.HSet(ctx, acceptancesKey(m.ID), pending); err != nil {
		return err
	}

	team1JSON, _ := json.Marshal(m.Team1)
	team2JSON, _ := json.Marshal(m.Team2)
	meta := map[string]string{
		"status":      statusWaiting,
		"startTimeMs": strconv.FormatInt(time.Now().UnixMilli(), 10),
		"team1":       string(team1JSON),
		"team2":       string(team2JSON),
	}
	if err := c.store.HSet(ctx, metadataKey(m.ID), meta); err != nil {
		return err
	}
	if err := c.store.ZAdd(ctx, activeKey, float64(time.Now().UnixMilli()), m.ID); err != nil {
		return err
	}

	c.log.WithField("matchID", m.ID).Info("acceptance window opened")

	c.bus.Publish(ctx, &events.MatchFound{
		MatchID:        m.ID,
		Team1:          m.Team1,
		Team2:          m.Team2,
		AvgMMR1:        m.AverageMMR1,
		AvgMMR2:        m.AverageMMR2,
		TimeoutSeconds: int(c.cfg.AcceptanceTimeout.Seconds()),
	})
	c.chat.AnnounceMatchFound(ctx, m.ID, m.RosterNames())
	return nil
}

// Accept records a player's acceptance. Accepting twice is a no-op and
// does not advance the count.
func (c *Coordinator) Accept(ctx context.Context, matchID, summonerName string) error {
	lock, err := c.locker.TryLock(ctx, lockName(matchID), lockWait, lockLease)
	if err != nil {
		return domain.PhaseErr(domain.ErrContended, matchID, "acceptance")
	}
	defer lock.Unlock(ctx)

	return c.acceptLocked(ctx, lock, matchID, summonerName)
}

func (c *Coordinator) acceptLocked(ctx context.Context, lock *kv.Lock, matchID, summonerName string) error {
	status, _, err := c.store.HGet(ctx, metadataKey(matchID), "status")
	if err != nil {
		return err
	}
	if status == "" {
		return domain.PhaseErr(domain.ErrUnknownMatch, matchID, "acceptance")
	}
	if status != statusWaiting {
		return domain.PhaseErr(domain.ErrNotInPhase, matchID, "acceptance")
	}

	key := strings.ToLower(summonerName)
	current, ok, err := c.store.HGet(ctx, acceptancesKey(matchID), key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s not in match %s", domain.ErrNotInPhase, summonerName, matchID)
	}
	if current == stateAccepted {
		return nil
	}
	if current == stateDeclined {
		return domain.PhaseErr(domain.ErrNotInPhase, matchID, "acceptance")
	}

	if !lock.Held() {
		return domain.PhaseErr(domain.ErrLockLost, matchID, "acceptance")
	}
	if err := c.store.HSet(ctx, acceptancesKey(matchID), map[string]string{key: stateAccepted}); err != nil {
		return err
	}
	if err := c.sql.SetAcceptanceStatus(ctx, []string{summonerName}, domain.AcceptanceAccepted); err != nil {
		c.log.WithError(err).Warn("failed to persist acceptance status")
	}

	accepted, total, err := c.counts(ctx, matchID)
	if err != nil {
		return err
	}

	c.log.WithFields(logrus.Fields{
		"matchID":  matchID,
		"player":   summonerName,
		"accepted": accepted,
	}).Info("match accepted")

	c.bus.Publish(ctx, &events.MatchAcceptance{
		MatchID:          matchID,
		SummonerName:     summonerName,
		Accepted:         accepted,
		Total:            total,
		RemainingSeconds: c.remainingSeconds(ctx, matchID),
	})

	if accepted >= total {
		if err := c.store.HSet(ctx, metadataKey(matchID), map[string]string{"status": statusAllAccepted}); err != nil {
			return err
		}
		return c.completeAcceptance(ctx, matchID)
	}
	return nil
}

// Decline cancels the match on behalf of the declining player.
func (c *Coordinator) Decline(ctx context.Context, matchID, summonerName string) error {
	lock, err := c.locker.TryLock(ctx, lockName(matchID), lockWait, lockLease)
	if err != nil {
		return domain.PhaseErr(domain.ErrContended, matchID, "acceptance")
	}
	defer lock.Unlock(ctx)

	return c.declineLocked(ctx, matchID, summonerName, "declined")
}

func (c *Coordinator) declineLocked(ctx context.Context, matchID, summonerName, reason string) error {
	status, _, err := c.store.HGet(ctx, metadataKey(matchID), "status")
	if err != nil {
		return err
	}
	if status == "" {
		return domain.PhaseErr(domain.ErrUnknownMatch, matchID, "acceptance")
	}
	if status != statusWaiting {
		return domain.PhaseErr(domain.ErrNotInPhase, matchID, "acceptance")
	}

	key := strings.ToLower(summonerName)
	if _, ok, err := c.store.HGet(ctx, acceptancesKey(matchID), key); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: %s not in match %s", domain.ErrNotInPhase, summonerName, matchID)
	}

	if err := c.store.HSet(ctx, acceptancesKey(matchID), map[string]string{key: stateDeclined}); err != nil {
		return err
	}
	if err := c.store.HSet(ctx, metadataKey(matchID), map[string]string{
		"status":     statusCancelled,
		"declinedBy": summonerName,
	}); err != nil {
		return err
	}

	c.log.WithFields(logrus.Fields{
		"matchID": matchID,
		"player":  summonerName,
		"reason":  reason,
	}).Info("match cancelled during acceptance")

	return c.dissolve(ctx, matchID, summonerName, reason)
}

// dissolve cancels the match: the decliner leaves the queue, the other
// nine stay in it with a fresh idle status.
func (c *Coordinator) dissolve(ctx context.Context, matchID, declinedBy, reason string) error {
	roster, err := c.rosterNames(ctx, matchID)
	if err != nil {
		return err
	}

	survivors := make([]string, 0, len(roster))
	for _, name := range roster {
		if strings.EqualFold(name, declinedBy) {
			continue
		}
		survivors = append(survivors, name)
	}

	if err := c.sql.RemoveFromQueue(ctx, declinedBy); err != nil {
		c.log.WithError(err).Warn("failed to remove decliner from queue")
	}
	if err := c.sql.SetAcceptanceStatus(ctx, survivors, domain.AcceptanceIdle); err != nil {
		c.log.WithError(err).Warn("failed to reset survivor acceptance status")
	}

	if err := c.states.Set(ctx, declinedBy, domain.StateAvailable); err != nil {
		c.log.WithError(err).WithField("player", declinedBy).Warn("decliner state reset failed")
	}
	for _, name := range survivors {
		if err := c.states.Set(ctx, name, domain.StateInQueue); err != nil {
			c.log.WithError(err).WithField("player", name).Warn("survivor state reset failed")
		}
	}

	if err := c.owners.ClearMatchPlayers(ctx, matchID); err != nil {
		c.log.WithError(err).Warn("failed to clear match ownership")
	}
	if err := c.sql.DeleteMatch(ctx, matchID); err != nil {
		c.log.WithError(err).Warn("failed to delete cancelled match")
	}

	if err := c.store.ZRem(ctx, activeKey, matchID); err != nil {
		c.log.WithError(err).Warn("failed to deindex acceptance")
	}
	if err := c.store.Delete(ctx, acceptancesKey(matchID)); err != nil {
		c.log.WithError(err).Warn("failed to delete acceptances")
	}
	if err := c.store.Expire(ctx, metadataKey(matchID), terminalTTL); err != nil {
		c.log.WithError(err).Warn("failed to expire metadata")
	}

	c.bus.Publish(ctx, &events.MatchCancelled{
		MatchID:        matchID,
		Reason:         reason,
		DeclinedPlayer: declinedBy,
	})
	return nil
}

// completeAcceptance moves the fully-accepted match into the draft.
func (c *Coordinator) completeAcceptance(ctx context.Context, matchID string) error {
	m, err := c.loadMatch(ctx, matchID)
	if err != nil {
		return err
	}

	// Seed pickBanData with the roster blocks. The draft engine merges
	// around these; they are never overwritten from bare names.
	seed := domain.PickBanData{Team1: m.Team1, Team2: m.Team2}
	raw, err := json.Marshal(seed)
	if err != nil {
		return err
	}
	if err := c.sql.SavePickBanData(ctx, matchID, raw); err != nil {
		return err
	}

	for _, name := range m.RosterNames() {
		if err := c.sql.RemoveFromQueue(ctx, name); err != nil {
			c.log.WithError(err).WithField("player", name).Warn("failed to dequeue accepted player")
		}
		if err := c.states.Set(ctx, name, domain.StateInDraft); err != nil {
			c.log.WithError(err).WithField("player", name).Warn("state transition to IN_DRAFT failed")
		}
	}

	if err := c.sql.UpdateMatchStatus(ctx, matchID, domain.MatchStatusFound, domain.MatchStatusDraft); err != nil {
		return err
	}

	if err := c.store.ZRem(ctx, activeKey, matchID); err != nil {
		c.log.WithError(err).Warn("failed to deindex acceptance")
	}
	if err := c.store.Delete(ctx, acceptancesKey(matchID)); err != nil {
		c.log.WithError(err).Warn("failed to delete acceptances")
	}
	if err := c.store.Expire(ctx, metadataKey(matchID), terminalTTL); err != nil {
		c.log.WithError(err).Warn("failed to expire metadata")
	}

	c.log.WithField("matchID", matchID).Info("all players accepted, starting draft")
	m.Status = domain.MatchStatusDraft
	return c.draft.StartDraft(ctx, m)
}

// loadMatch reads the roster from acceptance metadata, falling back to
// the authoritative SQL row.
func (c *Coordinator) loadMatch(ctx context.Context, matchID string) (*domain.Match, error) {
	meta, err := c.store.HGetAll(ctx, metadataKey(matchID))
	if err != nil {
		return nil, err
	}
	if team1JSON, ok := meta["team1"]; ok {
		m := &domain.Match{ID: matchID, Status: domain.MatchStatusFound}
		if err := json.Unmarshal([]byte(team1JSON), &m.Team1); err == nil {
			if err := json.Unmarshal([]byte(meta["team2"]), &m.Team2); err == nil {
				m.AverageMMR1 = meanMMR(m.Team1)
				m.AverageMMR2 = meanMMR(m.Team2)
				return m, nil
			}
		}
	}
	m, err := c.sql.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, domain.PhaseErr(domain.ErrUnknownMatch, matchID, "acceptance")
	}
	return m, nil
}

func (c *Coordinator) rosterNames(ctx context.Context, matchID string) ([]string, error) {
	m, err := c.loadMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	return m.RosterNames(), nil
}

func (c *Coordinator) counts(ctx context.Context, matchID string) (accepted, total int, err error) {
	all, err := c.store.HGetAll(ctx, acceptancesKey(matchID))
	if err != nil {
		return 0, 0, err
	}
	for _, state := range all {
		if state == stateAccepted {
			accepted++
		}
	}
	return accepted, len(all), nil
}

func (c *Coordinator) remainingSeconds(ctx context.Context, matchID string) int {
	startMs, _, err := c.store.HGet(ctx, metadataKey(matchID), "startTimeMs")
	if err != nil || startMs == "" {
		return 0
	}
	start, _ := strconv.ParseInt(startMs, 10, 64)
	remaining := c.cfg.AcceptanceTimeout - time.Since(time.UnixMilli(start))
	if remaining < 0 {
		return 0
	}
	return int(remaining.Seconds())
}

func meanMMR(team []domain.RosterEntry) float64 {
	if len(team) == 0 {
		return 0
	}
	var sum float64
	for _, r := range team {
		sum += float64(r.MMR)
	}
	return sum / float64(len(team))
}
