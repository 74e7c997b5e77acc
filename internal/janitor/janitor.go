// Package janitor reconciles shared-store state against the
// authoritative match rows on a fixed interval.
package janitor

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edvart/lol-inhouse/internal/config"
	"github.com/edvart/lol-inhouse/internal/domain"
	"github.com/edvart/lol-inhouse/internal/kv"
	"github.com/edvart/lol-inhouse/internal/ownership"
	"github.com/edvart/lol-inhouse/internal/playerstate"
	"github.com/edvart/lol-inhouse/internal/store"
)

// phaseStatus maps a player phase to the match statuses that justify it.
var phaseStatus = map[domain.PlayerState][]string{
	domain.StateInMatchFound: {domain.MatchStatusFound},
	domain.StateInDraft:      {domain.MatchStatusDraft, domain.MatchStatusGameReady},
	domain.StateInGame:       {domain.MatchStatusGameReady, domain.MatchStatusInProgress},
}

// Janitor deletes orphan ephemeral keys and repairs desynced player
// states. Safe to run on every replica; all steps are idempotent.
type Janitor struct {
	cfg    config.Config
	store  kv.Store
	sql    store.Store
	states *playerstate.Registry
	owners *ownership.Maps
	log    *logrus.Entry
}

// New creates a Janitor.
func New(cfg config.Config, kvStore kv.Store, sql store.Store, states *playerstate.Registry, owners *ownership.Maps) *Janitor {
	return &Janitor{
		cfg:    cfg,
		store:  kvStore,
		sql:    sql,
		states: states,
		owners: owners,
		log:    logrus.WithField("component", "janitor"),
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs one reconciliation pass.
func (j *Janitor) Sweep(ctx context.Context) {
	j.log.Debug("janitor sweep")
	j.cleanOrphanKeys(ctx)
	j.repairPlayerStates(ctx)
}

// cleanOrphanKeys deletes game/vote keys whose match left the status
// that justifies them.
func (j *Janitor) cleanOrphanKeys(ctx context.Context) {
	inProgress, err := j.statusSet(ctx, domain.MatchStatusInProgress)
	if err != nil {
		j.log.WithError(err).Warn("failed to list in-progress matches")
		return
	}
	voteable, err := j.statusSet(ctx, domain.MatchStatusFound, domain.MatchStatusDraft, domain.MatchStatusInProgress)
	if err != nil {
		j.log.WithError(err).Warn("failed to list live matches")
		return
	}

	for _, family := range []struct {
		pattern string
		alive   map[string]bool
	}{
		{"game_ack:*", inProgress},
		{"game_retry:*", inProgress},
		{"match_vote:*", voteable},
	} {
		keys, err := j.store.Keys(ctx, family.pattern)
		if err != nil {
			j.log.WithError(err).WithField("pattern", family.pattern).Warn("key scan failed")
			continue
		}
		for _, key := range keys {
			matchID := matchIDFromKey(key)
			if matchID == "" || family.alive[matchID] {
				continue
			}
			if err := j.store.Delete(ctx, key); err != nil {
				j.log.WithError(err).WithField("key", key).Warn("failed to delete orphan key")
				continue
			}
			j.log.WithField("key", key).Info("deleted orphan key")
		}
	}
}

// repairPlayerStates resets players stuck in a match phase with no
// matching match row.
func (j *Janitor) repairPlayerStates(ctx context.Context) {
	keys, err := j.store.Keys(ctx, "state:player:*")
	if err != nil {
		j.log.WithError(err).Warn("player state scan failed")
		return
	}
	for _, key := range keys {
		name := strings.TrimPrefix(key, "state:player:")
		state, err := j.states.Get(ctx, name)
		if err != nil {
			continue
		}
		statuses, tracked := phaseStatus[state]
		if !tracked {
			continue
		}
		if j.justified(ctx, name, statuses) {
			continue
		}
		j.log.WithFields(logrus.Fields{
			"player": name,
			"state":  state,
		}).Warn("repairing desynced player state")
		if err := j.states.ForceSet(ctx, name, domain.StateAvailable); err != nil {
			j.log.WithError(err).WithField("player", name).Warn("state repair failed")
			continue
		}
		if matchID, ok, err := j.owners.MatchFor(ctx, name); err == nil && ok {
			if err := j.owners.ReleasePlayer(ctx, name, matchID); err != nil {
				j.log.WithError(err).WithField("player", name).Warn("ownership release failed")
			}
		}
	}
}

// justified reports whether the player belongs to a match in one of the
// given statuses.
func (j *Janitor) justified(ctx context.Context, name string, statuses []string) bool {
	matchID, ok, err := j.owners.MatchFor(ctx, name)
	if err != nil || !ok {
		return false
	}
	m, err := j.sql.GetMatch(ctx, matchID)
	if err != nil || m == nil {
		return false
	}
	for _, s := range statuses {
		if m.Status == s {
			return true
		}
	}
	return false
}

func (j *Janitor) statusSet(ctx context.Context, statuses ...string) (map[string]bool, error) {
	ids, err := j.sql.ListMatchIDsByStatus(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// matchIDFromKey extracts the match id from game_ack:<id>:<player>,
// game_retry:<id> and match_vote:<id> keys.
func matchIDFromKey(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
