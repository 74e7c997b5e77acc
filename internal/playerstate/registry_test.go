package playerstate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edvart/lol-inhouse/internal/domain"
	"github.com/edvart/lol-inhouse/internal/kv"
)

func TestGetDefaultsToAvailable(t *testing.T) {
	r := NewRegistry(kv.NewMemoryStore())

	state, err := r.Get(context.Background(), "Unknown")
	require.NoError(t, err)
	require.Equal(t, domain.StateAvailable, state)
}

func TestLegalTransitionChain(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(kv.NewMemoryStore())

	for _, next := range []domain.PlayerState{
		domain.StateInQueue,
		domain.StateInMatchFound,
		domain.StateInDraft,
		domain.StateInGame,
		domain.StateAvailable,
	} {
		require.NoError(t, r.Set(ctx, "Alice", next))
		state, err := r.Get(ctx, "Alice")
		require.NoError(t, err)
		require.Equal(t, next, state)
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(kv.NewMemoryStore())

	err := r.Set(ctx, "Alice", domain.StateInGame)
	require.ErrorIs(t, err, domain.ErrIllegalTransition)

	require.NoError(t, r.Set(ctx, "Alice", domain.StateInQueue))
	err = r.Set(ctx, "Alice", domain.StateInDraft)
	require.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestDeclineReturnsSurvivorsToQueue(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(kv.NewMemoryStore())

	require.NoError(t, r.Set(ctx, "Bob", domain.StateInQueue))
	require.NoError(t, r.Set(ctx, "Bob", domain.StateInMatchFound))
	require.NoError(t, r.Set(ctx, "Bob", domain.StateInQueue))
}

func TestSameStateRefreshesWithoutError(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(kv.NewMemoryStore())

	require.NoError(t, r.Set(ctx, "Alice", domain.StateInQueue))
	require.NoError(t, r.Set(ctx, "Alice", domain.StateInQueue))
}

func TestForceSetBypassesValidation(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(kv.NewMemoryStore())

	require.NoError(t, r.ForceSet(ctx, "Alice", domain.StateInGame))
	state, _ := r.Get(ctx, "Alice")
	require.Equal(t, domain.StateInGame, state)
}

func TestCaseInsensitiveNames(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(kv.NewMemoryStore())

	require.NoError(t, r.Set(ctx, "ALICE", domain.StateInQueue))
	state, err := r.Get(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.StateInQueue, state)
}
