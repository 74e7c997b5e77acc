package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edvart/lol-inhouse/internal/kv"
)

// Bus publishes typed events on the shared pub/sub. A failing publish is
// logged and swallowed: no error crosses a replica boundary.
type Bus struct {
	store kv.Store
	log   *logrus.Entry
}

// NewBus creates a Bus over the shared store.
func NewBus(store kv.Store) *Bus {
	return &Bus{
		store: store,
		log:   logrus.WithField("component", "events"),
	}
}

// Publish stamps the event with its type and a server timestamp, then
// publishes it on the event's channel.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	meta := ev.meta()
	meta.Type = ev.Channel()
	meta.Timestamp = time.Now().UnixMilli()

	payload, err := json.Marshal(ev)
	if err != nil {
		b.log.WithError(err).WithField("channel", ev.Channel()).Error("failed to marshal event")
		return
	}
	if err := b.store.Publish(ctx, ev.Channel(), payload); err != nil {
		b.log.WithError(err).WithField("channel", ev.Channel()).Warn("failed to publish event")
	}
}
