// Package playerstate is the single writer for each player's phase.
package playerstate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edvart/lol-inhouse/internal/domain"
	"github.com/edvart/lol-inhouse/internal/kv"
)

// stateTTL bounds how long a phase can outlive its writer. A stale key
// expires and the player reads back as AVAILABLE.
const stateTTL = 4 * time.Hour

// allowed is the transition graph. Anything absent fails with
// ErrIllegalTransition unless forced by the janitor.
var allowed = map[domain.PlayerState][]domain.PlayerState{
	domain.StateAvailable:    {domain.StateInQueue},
	domain.StateInQueue:      {domain.StateAvailable, domain.StateInMatchFound},
	domain.StateInMatchFound: {domain.StateAvailable, domain.StateInQueue, domain.StateInDraft},
	domain.StateInDraft:      {domain.StateAvailable, domain.StateInGame},
	domain.StateInGame:       {domain.StateAvailable},
}

// Registry tracks player phases in the shared store.
type Registry struct {
	store kv.Store
	log   *logrus.Entry
}

// NewRegistry creates a Registry over the shared store.
func NewRegistry(store kv.Store) *Registry {
	return &Registry{
		store: store,
		log:   logrus.WithField("component", "playerstate"),
	}
}

// Key returns the shared-store key for a player. Summoner names are
// case-insensitive.
func Key(summonerName string) string {
	return "state:player:" + strings.ToLower(summonerName)
}

// Get returns the player's state, AVAILABLE when absent.
func (r *Registry) Get(ctx context.Context, summonerName string) (domain.PlayerState, error) {
	val, ok, err := r.store.Get(ctx, Key(summonerName))
	if err != nil {
		return "", err
	}
	if !ok {
		return domain.StateAvailable, nil
	}
	return domain.PlayerState(val), nil
}

// Set transitions the player to newState, validating against the allowed
// graph. The TTL is refreshed on every set.
func (r *Registry) Set(ctx context.Context, summonerName string, newState domain.PlayerState) error {
	current, err := r.Get(ctx, summonerName)
	if err != nil {
		return err
	}
	if current == newState {
		// Refresh TTL; repeating a set is not a transition.
		return r.store.Set(ctx, Key(summonerName), string(newState), stateTTL)
	}
	if !transitionAllowed(current, newState) {
		return fmt.Errorf("%w: %s -> %s for %s", domain.ErrIllegalTransition, current, newState, summonerName)
	}
	return r.store.Set(ctx, Key(summonerName), string(newState), stateTTL)
}

// ForceSet bypasses transition validation. Janitor and finalisation
// reconciliation only.
func (r *Registry) ForceSet(ctx context.Context, summonerName string, newState domain.PlayerState) error {
	r.log.WithFields(logrus.Fields{
		"player": summonerName,
		"state":  newState,
	}).Debug("forcing player state")
	return r.store.Set(ctx, Key(summonerName), string(newState), stateTTL)
}

// Clear removes the player's state key, reverting them to AVAILABLE.
func (r *Registry) Clear(ctx context.Context, summonerName string) error {
	return r.store.Delete(ctx, Key(summonerName))
}

func transitionAllowed(from, to domain.PlayerState) bool {
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}
