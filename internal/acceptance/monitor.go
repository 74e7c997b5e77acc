package acceptance

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edvart/lol-inhouse/internal/domain"
	"github.com/edvart/lol-inhouse/internal/events"
)

const monitorInterval = time.Second

// RunMonitor ticks every second over the active acceptance windows:
// publishes countdown updates, auto-accepts bots and times out matches
// whose window has elapsed.
func (c *Coordinator) RunMonitor(ctx context.Context) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *Coordinator) sweep(ctx context.Context) {
	ids, err := c.store.ZRangeByScore(ctx, activeKey, 0, float64(time.Now().UnixMilli()))
	if err != nil {
		c.log.WithError(err).Warn("acceptance sweep failed")
		return
	}
	for _, matchID := range ids {
		c.tick(ctx, matchID)
	}
}

func (c *Coordinator) tick(ctx context.Context, matchID string) {
	meta, err := c.store.HGetAll(ctx, metadataKey(matchID))
	if err != nil {
		c.log.WithError(err).WithField("matchID", matchID).Warn("failed to read acceptance metadata")
		return
	}
	if meta["status"] != statusWaiting {
		// Resolved or expired; drop it from the index.
		if err := c.store.ZRem(ctx, activeKey, matchID); err != nil {
			c.log.WithError(err).Warn("failed to deindex acceptance")
		}
		return
	}

	start, _ := strconv.ParseInt(meta["startTimeMs"], 10, 64)
	elapsed := time.Since(time.UnixMilli(start))

	if elapsed >= c.cfg.BotAutoAcceptDelay {
		c.autoAcceptBots(ctx, matchID)
	}

	if elapsed >= c.cfg.AcceptanceTimeout {
		c.timeout(ctx, matchID)
		return
	}

	accepted, total, err := c.counts(ctx, matchID)
	if err != nil {
		c.log.WithError(err).WithField("matchID", matchID).Warn("failed to count acceptances")
		return
	}
	remaining := int((c.cfg.AcceptanceTimeout - elapsed).Seconds())
	c.bus.Publish(ctx, &events.MatchAcceptance{
		MatchID:          matchID,
		Accepted:         accepted,
		Total:            total,
		RemainingSeconds: remaining,
	})
}

// autoAcceptBots accepts on behalf of still-pending bot players.
func (c *Coordinator) autoAcceptBots(ctx context.Context, matchID string) {
	roster, err := c.rosterNames(ctx, matchID)
	if err != nil {
		c.log.WithError(err).WithField("matchID", matchID).Warn("failed to load roster for bot accept")
		return
	}
	all, err := c.store.HGetAll(ctx, acceptancesKey(matchID))
	if err != nil {
		return
	}
	for _, name := range roster {
		if !domain.IsBot(name) {
			continue
		}
		if all[strings.ToLower(name)] != statePending {
			continue
		}
		if err := c.Accept(ctx, matchID, name); err != nil {
			c.log.WithError(err).WithFields(logrus.Fields{
				"matchID": matchID,
				"bot":     name,
			}).Warn("bot auto-accept failed")
		}
	}
}

// timeout treats the first still-pending player, in roster slot order, as
// having declined.
func (c *Coordinator) timeout(ctx context.Context, matchID string) {
	lock, err := c.locker.TryLock(ctx, lockName(matchID), lockWait, lockLease)
	if err != nil {
		return
	}
	defer lock.Unlock(ctx)

	roster, err := c.rosterNames(ctx, matchID)
	if err != nil {
		c.log.WithError(err).WithField("matchID", matchID).Warn("failed to load roster for timeout")
		return
	}
	all, err := c.store.HGetAll(ctx, acceptancesKey(matchID))
	if err != nil {
		return
	}

	var culprit string
	for _, name := range roster {
		if all[strings.ToLower(name)] == statePending {
			culprit = name
			break
		}
	}
	if culprit == "" {
		// Raced with the final accept.
		return
	}

	c.log.WithFields(logrus.Fields{
		"matchID": matchID,
		"player":  culprit,
	}).Info("acceptance timed out")

	if err := c.declineLocked(ctx, matchID, culprit, "timeout"); err != nil {
		c.log.WithError(err).WithField("matchID", matchID).Warn("timeout decline failed")
	}
}
