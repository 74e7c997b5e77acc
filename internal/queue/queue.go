// Package queue admits players, tracks lane preferences and forms
// balanced ten-player cohorts.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edvart/lol-inhouse/internal/config"
	"github.com/edvart/lol-inhouse/internal/domain"
	"github.com/edvart/lol-inhouse/internal/events"
	"github.com/edvart/lol-inhouse/internal/kv"
	"github.com/edvart/lol-inhouse/internal/playerstate"
	"github.com/edvart/lol-inhouse/internal/store"
)

const (
	joinLockLease = 5 * time.Second
	joinLockWait  = 2 * time.Second
)

// MatchStarter begins the acceptance phase for a formed cohort. Injected
// to keep the queue → acceptance dependency one-way.
type MatchStarter interface {
	StartAcceptance(ctx context.Context, m *domain.Match) error
}

// Engine is the queue admission and team formation service.
type Engine struct {
	cfg     config.Config
	sql     store.Store
	locker  *kv.Locker
	states  *playerstate.Registry
	bus     *events.Bus
	starter MatchStarter
	log     *logrus.Entry
}

// NewEngine creates the queue engine. starter may be set later via
// SetStarter to break construction cycles.
func NewEngine(cfg config.Config, sql store.Store, locker *kv.Locker, states *playerstate.Registry, bus *events.Bus) *Engine {
	return &Engine{
		cfg:    cfg,
		sql:    sql,
		locker: locker,
		states: states,
		bus:    bus,
		log:    logrus.WithField("component", "queue"),
	}
}

// SetStarter wires the acceptance coordinator in after construction.
func (e *Engine) SetStarter(starter MatchStarter) {
	e.starter = starter
}

// Join admits a player into the queue with the given lane preferences.
func (e *Engine) Join(ctx context.Context, player *domain.Player, primary, secondary domain.Lane) error {
	if e.cfg.MinCohort <= 0 {
		return domain.ErrNotConfigured
	}

	lock, err := e.locker.TryLock(ctx, "lock:queue:join:"+player.SummonerName, joinLockWait, joinLockLease)
	if err != nil {
		return err
	}
	defer lock.Unlock(ctx)

	state, err := e.states.Get(ctx, player.SummonerName)
	if err != nil {
		return err
	}
	switch state {
	case domain.StateAvailable:
	case domain.StateInQueue:
		inQueue, err := e.sql.InQueue(ctx, player.SummonerName)
		if err != nil {
			return err
		}
		if inQueue {
			return domain.ErrAlreadyInQueue
		}
	default:
		return fmt.Errorf("%w: %s is %s", domain.ErrStateConflict, player.SummonerName, state)
	}

	entry := &domain.QueueEntry{
		PlayerID:      player.ID,
		SummonerName:  player.SummonerName,
		Region:        player.Region,
		CustomLP:      player.CustomLP,
		PrimaryLane:   primary,
		SecondaryLane: secondary,
		JoinTime:      time.Now(),
	}
	if err := e.sql.UpsertQueueEntry(ctx, entry); err != nil {
		return err
	}
	if err := e.states.Set(ctx, player.SummonerName, domain.StateInQueue); err != nil {
		return err
	}

	e.log.WithFields(logrus.Fields{
		"player":  player.SummonerName,
		"primary": primary,
	}).Info("player joined queue")

	e.bus.Publish(ctx, &events.QueuePlayerJoined{SummonerName: player.SummonerName})
	e.PublishQueueUpdate(ctx)
	return nil
}

// Leave removes a player from the queue.
func (e *Engine) Leave(ctx context.Context, summonerName string) error {
	lock, err := e.locker.TryLock(ctx, "lock:queue:join:"+summonerName, joinLockWait, joinLockLease)
	if err != nil {
		return err
	}
	defer lock.Unlock(ctx)

	state, err := e.states.Get(ctx, summonerName)
	if err != nil {
		return err
	}
	if state != domain.StateInQueue && state != domain.StateAvailable {
		return fmt.Errorf("%w: cannot leave queue while %s", domain.ErrStateConflict, state)
	}

	if err := e.sql.RemoveFromQueue(ctx, summonerName); err != nil {
		return err
	}
	if state == domain.StateInQueue {
		if err := e.states.Set(ctx, summonerName, domain.StateAvailable); err != nil {
			return err
		}
	}

	e.log.WithField("player", summonerName).Info("player left queue")
	e.bus.Publish(ctx, &events.QueuePlayerLeft{SummonerName: summonerName})
	e.PublishQueueUpdate(ctx)
	return nil
}

// PublishQueueUpdate broadcasts the queue-wide snapshot.
func (e *Engine) PublishQueueUpdate(ctx context.Context) {
	entries, err := e.sql.ListQueue(ctx)
	if err != nil {
		e.log.WithError(err).Warn("failed to load queue for update event")
		return
	}
	now := time.Now()
	rows := make([]events.QueueUpdateRow, len(entries))
	for i, entry := range entries {
		rows[i] = events.QueueUpdateRow{
			Name:      entry.SummonerName,
			LP:        entry.CustomLP,
			Primary:   entry.PrimaryLane,
			Secondary: entry.SecondaryLane,
			WaitMs:    now.Sub(entry.JoinTime).Milliseconds(),
		}
	}
	e.bus.Publish(ctx, &events.QueueUpdate{PlayersInQueue: len(rows), List: rows})
}
