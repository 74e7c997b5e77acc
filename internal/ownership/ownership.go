// Package ownership keeps the player→match and match→players maps that
// assert a player occupies at most one active match.
package ownership

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/edvart/lol-inhouse/internal/domain"
	"github.com/edvart/lol-inhouse/internal/kv"
)

// Maps manipulates the ownership keys in the shared store.
type Maps struct {
	store kv.Store
	log   *logrus.Entry
}

// NewMaps creates the ownership map accessor.
func NewMaps(store kv.Store) *Maps {
	return &Maps{
		store: store,
		log:   logrus.WithField("component", "ownership"),
	}
}

func playerKey(summonerName string) string {
	return "lock:player_match:" + strings.ToLower(summonerName)
}

func matchKey(matchID string) string {
	return "match:" + matchID + ":players"
}

// RegisterPlayerMatch atomically claims the player for matchID. Fails with
// ErrAlreadyOwned when a different match already owns the player.
func (m *Maps) RegisterPlayerMatch(ctx context.Context, summonerName, matchID string) error {
	ok, err := m.store.SetIfAbsent(ctx, playerKey(summonerName), matchID, 0)
	if err != nil {
		return err
	}
	if !ok {
		existing, _, err := m.store.Get(ctx, playerKey(summonerName))
		if err != nil {
			return err
		}
		if existing == matchID {
			return nil
		}
		return fmt.Errorf("%w: %s held by match %s", domain.ErrAlreadyOwned, summonerName, existing)
	}
	return m.store.SAdd(ctx, matchKey(matchID), strings.ToLower(summonerName))
}

// MatchFor returns the match currently owning the player, if any.
func (m *Maps) MatchFor(ctx context.Context, summonerName string) (string, bool, error) {
	return m.store.Get(ctx, playerKey(summonerName))
}

// Players returns the lowercased roster names registered for a match.
func (m *Maps) Players(ctx context.Context, matchID string) ([]string, error) {
	return m.store.SMembers(ctx, matchKey(matchID))
}

// ReleasePlayer removes the player's pointer only while it still points at
// matchID, and drops them from the match set.
func (m *Maps) ReleasePlayer(ctx context.Context, summonerName, matchID string) error {
	if _, err := m.store.CompareAndDelete(ctx, playerKey(summonerName), matchID); err != nil {
		return err
	}
	return m.store.SRem(ctx, matchKey(matchID), strings.ToLower(summonerName))
}

// ClearMatchPlayers releases every player the match still owns, then
// deletes the roster set. Compare-and-delete keeps this idempotent and
// safe against a player who already moved to another match.
func (m *Maps) ClearMatchPlayers(ctx context.Context, matchID string) error {
	players, err := m.store.SMembers(ctx, matchKey(matchID))
	if err != nil {
		return err
	}
	for _, p := range players {
		if _, err := m.store.CompareAndDelete(ctx, playerKey(p), matchID); err != nil {
			m.log.WithError(err).WithField("player", p).Warn("failed to release player ownership")
		}
	}
	return m.store.Delete(ctx, matchKey(matchID))
}
