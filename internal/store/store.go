// Package store is the SQL surface. The match row is authoritative on
// recovery; ephemeral shared-store state is reconstructible from it.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/edvart/lol-inhouse/internal/domain"
)

// LeaderboardEntry is one row of the LP standings.
type LeaderboardEntry struct {
	SummonerName string  `db:"summoner_name"`
	CustomLP     int     `db:"custom_lp"`
	Wins         int     `db:"wins"`
	Losses       int     `db:"losses"`
	WinRate      float64 `db:"-"`
}

// PushSubscription is one browser push endpoint for a player.
type PushSubscription struct {
	SummonerName string `db:"summoner_name"`
	Endpoint     string `db:"endpoint"`
	P256dh       string `db:"p256dh"`
	Auth         string `db:"auth"`
}

// Store is the persistence interface consumed by the lifecycle components.
type Store interface {
	// Queue.
	UpsertQueueEntry(ctx context.Context, e *domain.QueueEntry) error
	RemoveFromQueue(ctx context.Context, summonerName string) error
	ListQueue(ctx context.Context) ([]domain.QueueEntry, error)
	ListIdleQueue(ctx context.Context) ([]domain.QueueEntry, error)
	SetAcceptanceStatus(ctx context.Context, summonerNames []string, status int) error
	InQueue(ctx context.Context, summonerName string) (bool, error)

	// Matches.
	CreateMatch(ctx context.Context, m *domain.Match) error
	GetMatch(ctx context.Context, matchID string) (*domain.Match, error)
	// UpdateMatchStatus moves the row from one status to another; returns
	// domain.ErrConflict when the row is no longer in the expected status.
	UpdateMatchStatus(ctx context.Context, matchID, from, to string) error
	SetMatchStatus(ctx context.Context, matchID, status string) error
	SavePickBanData(ctx context.Context, matchID string, data json.RawMessage) error
	CompleteMatch(ctx context.Context, matchID string, winnerTeam int, duration time.Duration, lpChanges map[string]int) error
	DeleteMatch(ctx context.Context, matchID string) error
	ListMatchIDsByStatus(ctx context.Context, statuses ...string) ([]string, error)

	// Players.
	GetPlayer(ctx context.Context, summonerName string) (*domain.Player, error)
	UpsertPlayer(ctx context.Context, p *domain.Player) error
	ApplyMatchResult(ctx context.Context, summonerName string, lpDelta int, won bool) error
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)

	// Push notifications.
	SavePushSubscription(ctx context.Context, sub *PushSubscription) error
	GetPushSubscriptions(ctx context.Context, summonerName string) ([]PushSubscription, error)
	DeletePushSubscription(ctx context.Context, endpoint string) error

	Close() error
}
