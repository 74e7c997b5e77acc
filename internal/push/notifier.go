package push

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/edvart/lol-inhouse/internal/domain"
	"github.com/edvart/lol-inhouse/internal/events"
	"github.com/edvart/lol-inhouse/internal/kv"
)

// Notifier turns bus events into push notifications. Every replica runs
// one; duplicate sends collapse client-side on the notification tag.
type Notifier struct {
	store   kv.Store
	service *Service
	log     *logrus.Entry
}

// NewNotifier creates the bus-driven notifier.
func NewNotifier(store kv.Store, service *Service) *Notifier {
	return &Notifier{
		store:   store,
		service: service,
		log:     logrus.WithField("component", "push-notifier"),
	}
}

// Run consumes match lifecycle channels until the context is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	if !n.service.Enabled() {
		n.log.Info("push notifications disabled, notifier idle")
		<-ctx.Done()
		return ctx.Err()
	}

	msgs, err := n.store.Subscribe(ctx, events.ChannelMatchFound, events.ChannelDraftStarting)
	if err != nil {
		return err
	}
	n.log.Info("push notifier started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			n.handle(ctx, msg)
		}
	}
}

func (n *Notifier) handle(ctx context.Context, msg kv.Message) {
	switch msg.Channel {
	case events.ChannelMatchFound:
		var ev events.MatchFound
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			return
		}
		n.service.SendToMany(ctx, rosterNames(ev.Team1, ev.Team2), NotificationPayload{
			Title: "Match found!",
			Body:  "Click to accept your match.",
			Icon:  "/static/favicon.ico",
			Badge: "/static/favicon.ico",
			Tag:   "match-found",
			Data:  map[string]interface{}{"matchID": ev.MatchID, "url": "/"},
		})
	case events.ChannelDraftStarting:
		var ev events.DraftStarting
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			return
		}
		n.service.SendToMany(ctx, rosterNames(ev.Team1, ev.Team2), NotificationPayload{
			Title: "Draft starting!",
			Body:  "Bans are about to begin.",
			Icon:  "/static/favicon.ico",
			Badge: "/static/favicon.ico",
			Tag:   "draft-starting",
			Data:  map[string]interface{}{"matchID": ev.MatchID, "url": "/"},
		})
	}
}

func rosterNames(team1, team2 []domain.RosterEntry) []string {
	names := make([]string, 0, len(team1)+len(team2))
	for _, r := range team1 {
		if !domain.IsBot(r.SummonerName) {
			names = append(names, r.SummonerName)
		}
	}
	for _, r := range team2 {
		if !domain.IsBot(r.SummonerName) {
			names = append(names, r.SummonerName)
		}
	}
	return names
}
