// Package session tracks connected client transports per replica and
// enforces the one-active-session player lock in the shared store.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edvart/lol-inhouse/internal/domain"
	"github.com/edvart/lol-inhouse/internal/kv"
)

// Sender is one connected transport for a player. Send must be safe for
// concurrent use and must not block indefinitely.
type Sender interface {
	SessionID() string
	Send(payload []byte) error
	Heartbeat() time.Time
	Close() error
}

// Registry maps player names to their locally connected sessions.
// Mutations happen only on connect/disconnect; reads take a snapshot.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]Sender // lower(name) → sessionId → sender
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]map[string]Sender)}
}

// Add registers a session under the player's name.
func (r *Registry) Add(playerName string, s Sender) {
	key := lower(playerName)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[key] == nil {
		r.sessions[key] = make(map[string]Sender)
	}
	r.sessions[key][s.SessionID()] = s
}

// Remove drops a session; the player entry disappears with its last one.
func (r *Registry) Remove(playerName, sessionID string) {
	key := lower(playerName)
	r.mu.Lock()
	defer r.mu.Unlock()
	if set := r.sessions[key]; set != nil {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.sessions, key)
		}
	}
}

// For returns a snapshot of the player's connected sessions.
func (r *Registry) For(playerName string) []Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.sessions[lower(playerName)]
	out := make([]Sender, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}

// All returns a snapshot of every connected session.
func (r *Registry) All() []Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Sender
	for _, set := range r.sessions {
		for _, s := range set {
			out = append(out, s)
		}
	}
	return out
}

func lower(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

// Locks manages the shared-store player locks keyed by customSessionId.
type Locks struct {
	store kv.Store
	ttl   time.Duration
	log   *logrus.Entry
}

// NewLocks creates the player-lock manager.
func NewLocks(store kv.Store, ttl time.Duration) *Locks {
	return &Locks{
		store: store,
		ttl:   ttl,
		log:   logrus.WithField("component", "session-locks"),
	}
}

func lockKey(customSessionID string) string { return "lock:player:" + customSessionID }

// Acquire claims the player lock for sessionID. A reconnect under the
// session already holding the lock renews the TTL and returns that
// session id unchanged.
func (l *Locks) Acquire(ctx context.Context, customSessionID, sessionID string) (string, error) {
	key := lockKey(customSessionID)
	ok, err := l.store.SetIfAbsent(ctx, key, sessionID, l.ttl)
	if err != nil {
		return "", err
	}
	if ok {
		return sessionID, nil
	}
	current, found, err := l.store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !found {
		// Expired between the attempts; take it.
		return l.Acquire(ctx, customSessionID, sessionID)
	}
	if err := l.store.Expire(ctx, key, l.ttl); err != nil {
		l.log.WithError(err).Warn("failed to renew player lock")
	}
	return current, nil
}

// Transfer atomically rewrites the lock from a demonstrably dead session
// to a new one. Returns ErrConflict when the old session no longer holds
// the lock.
func (l *Locks) Transfer(ctx context.Context, customSessionID, oldSessionID, newSessionID string) error {
	ok, err := l.store.CompareAndSwap(ctx, lockKey(customSessionID), oldSessionID, newSessionID, l.ttl)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrConflict
	}
	l.log.WithFields(logrus.Fields{
		"player": customSessionID,
		"from":   oldSessionID,
		"to":     newSessionID,
	}).Info("player lock transferred")
	return nil
}

// Release frees the lock if the session still owns it.
func (l *Locks) Release(ctx context.Context, customSessionID, sessionID string) error {
	_, err := l.store.CompareAndDelete(ctx, lockKey(customSessionID), sessionID)
	return err
}
