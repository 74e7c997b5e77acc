package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/edvart/lol-inhouse/internal/domain"
	"github.com/edvart/lol-inhouse/internal/kv"
)

func TestDraftActionChannelFollowsType(t *testing.T) {
	ban := DraftAction{ActionType: domain.ActionBan}
	require.Equal(t, ChannelDraftBan, ban.Channel())

	pick := DraftAction{ActionType: domain.ActionPick}
	require.Equal(t, ChannelDraftPick, pick.Channel())
}

func TestSpectatorActionChannel(t *testing.T) {
	ev := SpectatorAction{Action: "mute"}
	require.Equal(t, "spectator:mute", ev.Channel())
}

func TestPublishStampsMeta(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()
	bus := NewBus(mem)

	msgs, err := mem.Subscribe(ctx, "queue:*")
	require.NoError(t, err)

	bus.Publish(ctx, &QueuePlayerJoined{SummonerName: "Alice#EUW"})

	select {
	case msg := <-msgs:
		require.Equal(t, ChannelQueuePlayerJoined, msg.Channel)

		var got QueuePlayerJoined
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		require.Equal(t, ChannelQueuePlayerJoined, got.Type)
		require.NotZero(t, got.Timestamp)
		require.Equal(t, "Alice#EUW", got.SummonerName)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestSubscriptionPatternsCoverChannels(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()
	bus := NewBus(mem)

	msgs, err := mem.Subscribe(ctx, SubscriptionPatterns...)
	require.NoError(t, err)

	published := []Event{
		&QueueUpdate{},
		&MatchFound{MatchID: "m"},
		&MatchCancelled{MatchID: "m"},
		&DraftStarting{MatchID: "m"},
		&DraftAction{MatchID: "m", ActionType: domain.ActionBan},
		&MatchGameReady{MatchID: "m"},
		&GameStarted{MatchID: "m"},
		&GameFinished{MatchID: "m"},
		&WinnerVote{MatchID: "m"},
	}
	for _, ev := range published {
		bus.Publish(ctx, ev)
	}

	for range published {
		select {
		case <-msgs:
		case <-time.After(time.Second):
			t.Fatal("pattern set missed a channel")
		}
	}
}
