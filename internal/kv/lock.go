package kv

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/edvart/lol-inhouse/internal/domain"
)

const lockRetryInterval = 100 * time.Millisecond

// Locker hands out leased distributed locks backed by a Store.
type Locker struct {
	store Store
	log   *logrus.Entry
}

// NewLocker creates a Locker over the given store.
func NewLocker(store Store) *Locker {
	return &Locker{
		store: store,
		log:   logrus.WithField("component", "locker"),
	}
}

// Lock is a held distributed lock. The lease is renewed in the background;
// if a renewal cannot be confirmed the lock fails closed: Held reports
// false and guarded operations must abort with ErrLockLost.
type Lock struct {
	store  Store
	name   string
	token  string
	lease  time.Duration
	held   atomic.Bool
	stopCh chan struct{}
	once   sync.Once
	log    *logrus.Entry
}

// TryLock acquires name, waiting up to wait. Returns ErrContended when the
// lock cannot be acquired in time. Acquisition polls, so waiters queued
// earlier tend to win on release (best effort, not strict FIFO).
func (l *Locker) TryLock(ctx context.Context, name string, wait, lease time.Duration) (*Lock, error) {
	token := uuid.New().String()
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.store.SetIfAbsent(ctx, name, token, lease)
		if err != nil {
			return nil, err
		}
		if ok {
			lock := &Lock{
				store:  l.store,
				name:   name,
				token:  token,
				lease:  lease,
				stopCh: make(chan struct{}),
				log:    l.log.WithField("lock", name),
			}
			lock.held.Store(true)
			go lock.renewLoop()
			return lock, nil
		}
		if time.Now().After(deadline) {
			return nil, domain.ErrContended
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

// TryLockOnce acquires name without waiting and without lease renewal.
// Used for single-shot idempotency guards (e.g. cancel-once). The key
// expires on its own; there is no Unlock.
func (l *Locker) TryLockOnce(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	return l.store.SetIfAbsent(ctx, name, uuid.New().String(), ttl)
}

// Held reports whether the lease is still confirmed.
func (lk *Lock) Held() bool {
	return lk.held.Load()
}

// Name returns the lock key.
func (lk *Lock) Name() string {
	return lk.name
}

// Unlock releases the lock if still owned and stops lease renewal.
func (lk *Lock) Unlock(ctx context.Context) {
	lk.once.Do(func() { close(lk.stopCh) })
	if !lk.held.Swap(false) {
		return
	}
	if ok, err := lk.store.CompareAndDelete(ctx, lk.name, lk.token); err != nil {
		lk.log.WithError(err).Warn("failed to release lock")
	} else if !ok {
		lk.log.Warn("lock was no longer owned at release")
	}
}

// renewLoop extends the lease at a third of its duration. A failed or
// unconfirmed renewal marks the lock lost.
func (lk *Lock) renewLoop() {
	ticker := time.NewTicker(lk.lease / 3)
	defer ticker.Stop()

	for {
		select {
		case <-lk.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), lk.lease/3)
			ok, err := lk.store.CompareAndSwap(ctx, lk.name, lk.token, lk.token, lk.lease)
			cancel()
			if err != nil || !ok {
				lk.held.Store(false)
				lk.log.WithError(err).Warn("lease renewal failed, lock lost")
				return
			}
		}
	}
}
