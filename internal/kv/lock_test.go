package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/edvart/lol-inhouse/internal/domain"
)

func TestTryLockContention(t *testing.T) {
	ctx := context.Background()
	locker := NewLocker(NewMemoryStore())

	lock, err := locker.TryLock(ctx, "lock:test", 0, time.Second)
	require.NoError(t, err)
	defer lock.Unlock(ctx)

	_, err = locker.TryLock(ctx, "lock:test", 50*time.Millisecond, time.Second)
	require.ErrorIs(t, err, domain.ErrContended)
}

func TestTryLockWaitsForRelease(t *testing.T) {
	ctx := context.Background()
	locker := NewLocker(NewMemoryStore())

	first, err := locker.TryLock(ctx, "lock:test", 0, time.Second)
	require.NoError(t, err)

	go func() {
		time.Sleep(150 * time.Millisecond)
		first.Unlock(ctx)
	}()

	second, err := locker.TryLock(ctx, "lock:test", time.Second, time.Second)
	require.NoError(t, err)
	require.True(t, second.Held())
	second.Unlock(ctx)
}

func TestUnlockReleasesKey(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	locker := NewLocker(store)

	lock, err := locker.TryLock(ctx, "lock:test", 0, time.Second)
	require.NoError(t, err)
	lock.Unlock(ctx)

	require.False(t, lock.Held())
	_, found, err := store.Get(ctx, "lock:test")
	require.NoError(t, err)
	require.False(t, found)
}

func TestLockRenewalKeepsHeld(t *testing.T) {
	ctx := context.Background()
	locker := NewLocker(NewMemoryStore())

	lock, err := locker.TryLock(ctx, "lock:test", 0, 150*time.Millisecond)
	require.NoError(t, err)
	defer lock.Unlock(ctx)

	// Well past the original lease; renewal must have extended it.
	time.Sleep(400 * time.Millisecond)
	require.True(t, lock.Held())
}

func TestLockFailsClosedWhenStolen(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	locker := NewLocker(store)

	lock, err := locker.TryLock(ctx, "lock:test", 0, 150*time.Millisecond)
	require.NoError(t, err)

	// Simulate losing the key to expiry plus a competing owner.
	require.NoError(t, store.Set(ctx, "lock:test", "someone-else", 0))

	require.Eventually(t, func() bool { return !lock.Held() },
		time.Second, 10*time.Millisecond)

	// Unlock must not delete the competing owner's key.
	lock.Unlock(ctx)
	val, found, _ := store.Get(ctx, "lock:test")
	require.True(t, found)
	require.Equal(t, "someone-else", val)
}

func TestTryLockOnce(t *testing.T) {
	ctx := context.Background()
	locker := NewLocker(NewMemoryStore())

	ok, err := locker.TryLockOnce(ctx, "lock:game:cancel:m1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = locker.TryLockOnce(ctx, "lock:game:cancel:m1", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}
