// Package bridge holds the seams to external systems. The coordination
// core calls these interfaces; deployments plug in real adapters.
package bridge

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/edvart/lol-inhouse/internal/domain"
)

// ChatBridge mirrors lifecycle milestones into an external chat channel.
type ChatBridge interface {
	AnnounceMatchFound(ctx context.Context, matchID string, roster []string)
	AnnounceDraftCompleted(ctx context.Context, matchID string)
	AnnounceGameFinished(ctx context.Context, matchID string, winnerTeam int, lpChanges map[string]int)
}

// GameClientBridge drives the actual game client lobby.
type GameClientBridge interface {
	CreateLobby(ctx context.Context, m *domain.Match) error
	InvitePlayers(ctx context.Context, matchID string, roster []string) error
	StartGame(ctx context.Context, matchID string) error
}

// RankedDataBridge fetches external ranked data used to seed MMR.
type RankedDataBridge interface {
	FetchRankedLP(ctx context.Context, summonerName, region string) (int, error)
}

// LogChat is the default ChatBridge: it only logs.
type LogChat struct {
	log *logrus.Entry
}

func NewLogChat() *LogChat {
	return &LogChat{log: logrus.WithField("component", "chat-bridge")}
}

func (c *LogChat) AnnounceMatchFound(_ context.Context, matchID string, roster []string) {
	c.log.WithFields(logrus.Fields{"matchID": matchID, "players": len(roster)}).Info("match found")
}

func (c *LogChat) AnnounceDraftCompleted(_ context.Context, matchID string) {
	c.log.WithField("matchID", matchID).Info("draft completed")
}

func (c *LogChat) AnnounceGameFinished(_ context.Context, matchID string, winnerTeam int, lpChanges map[string]int) {
	c.log.WithFields(logrus.Fields{
		"matchID":    matchID,
		"winnerTeam": winnerTeam,
		"lpChanges":  lpChanges,
	}).Info("game finished")
}

// NoopGameClient is the default GameClientBridge: lobby orchestration is
// handled manually by the players.
type NoopGameClient struct {
	log *logrus.Entry
}

func NewNoopGameClient() *NoopGameClient {
	return &NoopGameClient{log: logrus.WithField("component", "game-client-bridge")}
}

func (g *NoopGameClient) CreateLobby(_ context.Context, m *domain.Match) error {
	g.log.WithField("matchID", m.ID).Debug("lobby creation skipped")
	return nil
}

func (g *NoopGameClient) InvitePlayers(_ context.Context, matchID string, roster []string) error {
	g.log.WithFields(logrus.Fields{"matchID": matchID, "players": len(roster)}).Debug("invites skipped")
	return nil
}

func (g *NoopGameClient) StartGame(_ context.Context, matchID string) error {
	g.log.WithField("matchID", matchID).Debug("game start skipped")
	return nil
}

// StaticRankedData serves a fixed LP for every summoner. Used when no
// ranked API credentials are configured.
type StaticRankedData struct {
	LP int
}

func (s *StaticRankedData) FetchRankedLP(context.Context, string, string) (int, error) {
	return s.LP, nil
}
