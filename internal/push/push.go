// Package push sends web-push notifications for lifecycle moments that
// need the player's attention outside an open tab.
package push

import (
	"context"
	"encoding/json"
	"fmt"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/sirupsen/logrus"

	"github.com/edvart/lol-inhouse/internal/store"
)

// Service delivers notifications to registered browser endpoints.
type Service struct {
	store        store.Store
	vapidPublic  string
	vapidPrivate string
	subscriber   string
	log          *logrus.Entry
}

// NewService creates the push service. Empty VAPID keys disable sending.
func NewService(st store.Store, vapidPublic, vapidPrivate, subscriber string) *Service {
	return &Service{
		store:        st,
		vapidPublic:  vapidPublic,
		vapidPrivate: vapidPrivate,
		subscriber:   subscriber,
		log:          logrus.WithField("component", "push"),
	}
}

// Enabled reports whether VAPID keys are configured.
func (s *Service) Enabled() bool {
	return s.vapidPublic != "" && s.vapidPrivate != ""
}

// NotificationPayload is the JSON shown by the service worker.
type NotificationPayload struct {
	Title string                 `json:"title"`
	Body  string                 `json:"body"`
	Icon  string                 `json:"icon,omitempty"`
	Badge string                 `json:"badge,omitempty"`
	Tag   string                 `json:"tag,omitempty"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// SendToUser pushes to every endpoint the player registered. Expired
// endpoints (410/404) are pruned as a side effect.
func (s *Service) SendToUser(ctx context.Context, summonerName string, payload NotificationPayload) error {
	if !s.Enabled() {
		return nil
	}
	subs, err := s.store.GetPushSubscriptions(ctx, summonerName)
	if err != nil {
		return fmt.Errorf("failed to load subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	var sent int
	var lastErr error
	for _, sub := range subs {
		resp, err := webpush.SendNotification(body, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256dh,
				Auth:   sub.Auth,
			},
		}, &webpush.Options{
			Subscriber:      s.subscriber,
			VAPIDPublicKey:  s.vapidPublic,
			VAPIDPrivateKey: s.vapidPrivate,
			TTL:             60,
		})
		if err != nil {
			s.log.WithError(err).WithField("player", summonerName).Warn("push send failed")
			lastErr = err
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode == 404 || resp.StatusCode == 410:
			s.log.WithField("endpoint", sub.Endpoint).Info("pruning expired push subscription")
			if err := s.store.DeletePushSubscription(ctx, sub.Endpoint); err != nil {
				s.log.WithError(err).Warn("failed to prune subscription")
			}
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			lastErr = fmt.Errorf("push rejected with status %d", resp.StatusCode)
		default:
			sent++
		}
	}
	if sent > 0 {
		return nil
	}
	return lastErr
}

// SendToMany fans a payload out to several players. Per-player failures
// are logged and swallowed.
func (s *Service) SendToMany(ctx context.Context, summonerNames []string, payload NotificationPayload) {
	for _, name := range summonerNames {
		if err := s.SendToUser(ctx, name, payload); err != nil {
			s.log.WithError(err).WithField("player", name).Warn("push delivery failed")
		}
	}
}
