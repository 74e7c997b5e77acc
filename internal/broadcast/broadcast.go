// Package broadcast fans bus events out to the WebSocket sessions
// connected to this replica.
package broadcast

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/edvart/lol-inhouse/internal/events"
	"github.com/edvart/lol-inhouse/internal/kv"
	"github.com/edvart/lol-inhouse/internal/ownership"
	"github.com/edvart/lol-inhouse/internal/session"
)

// Broadcaster subscribes to the event channels and performs directed
// delivery: roster-scoped events reach only the roster's local sessions.
type Broadcaster struct {
	store    kv.Store
	owners   *ownership.Maps
	registry *session.Registry
	log      *logrus.Entry
}

// New creates a Broadcaster.
func New(store kv.Store, owners *ownership.Maps, registry *session.Registry) *Broadcaster {
	return &Broadcaster{
		store:    store,
		owners:   owners,
		registry: registry,
		log:      logrus.WithField("component", "broadcast"),
	}
}

// Run subscribes to the full pattern set and dispatches until the
// context is cancelled.
func (b *Broadcaster) Run(ctx context.Context) error {
	msgs, err := b.store.Subscribe(ctx, events.SubscriptionPatterns...)
	if err != nil {
		return err
	}
	b.log.Info("broadcaster subscribed")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			b.dispatch(ctx, msg)
		}
	}
}

// directed reports whether a channel must reach only the match roster.
func directed(channel string) bool {
	switch channel {
	case events.ChannelMatchFound,
		events.ChannelMatchAcceptance,
		events.ChannelMatchGameReady,
		events.ChannelGameStarted,
		events.ChannelWinnerVote:
		return true
	}
	return strings.HasPrefix(channel, "draft:") || strings.HasPrefix(channel, "draft_")
}

func (b *Broadcaster) dispatch(ctx context.Context, msg kv.Message) {
	if !directed(msg.Channel) {
		b.sendAll([]byte(msg.Payload))
		return
	}

	var envelope struct {
		MatchID string `json:"matchId"`
	}
	if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil || envelope.MatchID == "" {
		b.log.WithField("channel", msg.Channel).Debug("directed event without matchId, dropping")
		return
	}

	roster, err := b.owners.Players(ctx, envelope.MatchID)
	if err != nil {
		b.log.WithError(err).WithField("matchID", envelope.MatchID).Warn("failed to resolve roster")
		return
	}
	payload := []byte(msg.Payload)
	for _, name := range roster {
		for _, s := range b.registry.For(name) {
			if err := s.Send(payload); err != nil {
				b.log.WithError(err).WithFields(logrus.Fields{
					"player":  name,
					"session": s.SessionID(),
				}).Debug("session send failed")
			}
		}
	}
}

func (b *Broadcaster) sendAll(payload []byte) {
	for _, s := range b.registry.All() {
		if err := s.Send(payload); err != nil {
			b.log.WithError(err).WithField("session", s.SessionID()).Debug("session send failed")
		}
	}
}
