// Package events defines the typed events published on the shared bus and
// the channel names they travel on.
package events

import (
	"github.com/edvart/lol-inhouse/internal/domain"
)

// Channel names. The broadcaster subscribes to the matching pattern set at
// startup; roster channels are delivered only to connected roster sessions.
const (
	ChannelQueueUpdate       = "queue:update"
	ChannelQueuePlayerJoined = "queue:player_joined"
	ChannelQueuePlayerLeft   = "queue:player_left"
	ChannelMatchFound        = "match:found"
	ChannelMatchAcceptance   = "match:acceptance"
	ChannelMatchCancelled    = "match_cancelled"
	ChannelDraftStarting     = "draft_starting"
	ChannelDraftUpdated      = "draft_updated"
	ChannelDraftPick         = "draft:pick"
	ChannelDraftBan          = "draft:ban"
	ChannelDraftCompleted    = "draft_completed"
	ChannelDraftConfirmed    = "draft_confirmed"
	ChannelMatchGameReady    = "match_game_ready"
	ChannelGameStarted       = "game_started"
	ChannelGameFinished      = "game_finished"
	ChannelWinnerVote        = "game:winner_vote"
)

// SubscriptionPatterns covers every channel above.
var SubscriptionPatterns = []string{
	"queue:*", "match:*", "match_*", "draft:*", "draft_*", "game:*", "game_*", "spectator:*",
}

// Meta is embedded in every event payload.
type Meta struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func (m *Meta) meta() *Meta { return m }

// Event is a payload bound to a channel. The bus stamps type and
// timestamp before publishing.
type Event interface {
	Channel() string
	meta() *Meta
}

// QueueUpdate is the periodic queue-wide snapshot.
type QueueUpdate struct {
	Meta
	PlayersInQueue int              `json:"playersInQueue"`
	List           []QueueUpdateRow `json:"list"`
}

type QueueUpdateRow struct {
	Name      string      `json:"name"`
	LP        int         `json:"lp"`
	Primary   domain.Lane `json:"primary"`
	Secondary domain.Lane `json:"secondary"`
	WaitMs    int64       `json:"waitMs"`
}

func (QueueUpdate) Channel() string { return ChannelQueueUpdate }

// QueuePlayerJoined announces an admission.
type QueuePlayerJoined struct {
	Meta
	SummonerName string `json:"summonerName"`
}

func (QueuePlayerJoined) Channel() string { return ChannelQueuePlayerJoined }

// QueuePlayerLeft announces a departure.
type QueuePlayerLeft struct {
	Meta
	SummonerName string `json:"summonerName"`
}

func (QueuePlayerLeft) Channel() string { return ChannelQueuePlayerLeft }

// MatchFound opens the acceptance window for a cohort.
type MatchFound struct {
	Meta
	MatchID        string               `json:"matchId"`
	Team1          []domain.RosterEntry `json:"team1"`
	Team2          []domain.RosterEntry `json:"team2"`
	AvgMMR1        float64              `json:"avgMmr1"`
	AvgMMR2        float64              `json:"avgMmr2"`
	TimeoutSeconds int                  `json:"timeoutSeconds"`
}

func (MatchFound) Channel() string { return ChannelMatchFound }

// MatchAcceptance reports one accept plus the running count, and carries
// the countdown ticks (SummonerName empty on a pure tick).
type MatchAcceptance struct {
	Meta
	MatchID          string `json:"matchId"`
	SummonerName     string `json:"summonerName,omitempty"`
	Accepted         int    `json:"accepted"`
	Total            int    `json:"total"`
	RemainingSeconds int    `json:"remainingSeconds"`
}

func (MatchAcceptance) Channel() string { return ChannelMatchAcceptance }

// MatchCancelled terminates a match before completion.
type MatchCancelled struct {
	Meta
	MatchID        string `json:"matchId"`
	Reason         string `json:"reason"`
	DeclinedPlayer string `json:"declinedPlayer,omitempty"`
}

func (MatchCancelled) Channel() string { return ChannelMatchCancelled }

// DraftStarting announces the ban/pick phase.
type DraftStarting struct {
	Meta
	MatchID       string               `json:"matchId"`
	Team1         []domain.RosterEntry `json:"team1"`
	Team2         []domain.RosterEntry `json:"team2"`
	Actions       []domain.DraftAction `json:"actions"`
	CurrentIndex  int                  `json:"currentIndex"`
	CurrentPlayer string               `json:"currentPlayer,omitempty"`
	TimeRemaining int                  `json:"timeRemaining"`
}

func (DraftStarting) Channel() string { return ChannelDraftStarting }

// DraftUpdated carries the full 20-action array after every change.
type DraftUpdated struct {
	Meta
	MatchID          string               `json:"matchId"`
	CurrentIndex     int                  `json:"currentIndex"`
	Actions          []domain.DraftAction `json:"actions"`
	Confirmations    []string             `json:"confirmations"`
	RemainingMs      int64                `json:"remainingMs"`
	ActionTimeoutMs  int64                `json:"actionTimeoutMs"`
	ConfirmationOnly bool                 `json:"confirmationOnly"`
}

func (DraftUpdated) Channel() string { return ChannelDraftUpdated }

// DraftAction reports a single completed ban or pick.
type DraftAction struct {
	Meta
	MatchID    string            `json:"matchId"`
	ActionType domain.ActionType `json:"actionType"`
	Index      int               `json:"index"`
	Team       int               `json:"team"`
	ChampionID string            `json:"championId"`
	ByPlayer   string            `json:"byPlayer"`
}

func (e DraftAction) Channel() string {
	if e.ActionType == domain.ActionBan {
		return ChannelDraftBan
	}
	return ChannelDraftPick
}

// DraftCompleted fires when all twenty actions are filled.
type DraftCompleted struct {
	Meta
	MatchID string `json:"matchId"`
}

func (DraftCompleted) Channel() string { return ChannelDraftCompleted }

// DraftConfirmed fires when all ten confirmations arrive.
type DraftConfirmed struct {
	Meta
	MatchID string `json:"matchId"`
}

func (DraftConfirmed) Channel() string { return ChannelDraftConfirmed }

// TeamResult is one side of the game-ready payload.
type TeamResult struct {
	Players []domain.RosterEntry `json:"players"`
	Picks   []string             `json:"picks"`
}

// MatchGameReady hands the confirmed draft to the game phase.
type MatchGameReady struct {
	Meta
	MatchID string     `json:"matchId"`
	Team1   TeamResult `json:"team1"`
	Team2   TeamResult `json:"team2"`
}

func (MatchGameReady) Channel() string { return ChannelMatchGameReady }

// GameStarted is delivered only to the ten roster sessions.
type GameStarted struct {
	Meta
	MatchID     string               `json:"matchId"`
	SessionID   string               `json:"sessionId"`
	Status      string               `json:"status"`
	StartTime   int64                `json:"startTime"`
	Team1       []domain.RosterEntry `json:"team1"`
	Team2       []domain.RosterEntry `json:"team2"`
	PickBanData *domain.PickBanData  `json:"pickBanData,omitempty"`
}

func (GameStarted) Channel() string { return ChannelGameStarted }

// GameFinished closes out a completed match.
type GameFinished struct {
	Meta
	MatchID    string         `json:"matchId"`
	WinnerTeam int            `json:"winnerTeam"`
	Reason     string         `json:"reason"`
	DurationS  int            `json:"durationSeconds"`
	LPChanges  map[string]int `json:"lpChanges"`
}

func (GameFinished) Channel() string { return ChannelGameFinished }

// WinnerVote reports one ballot plus the running tallies.
type WinnerVote struct {
	Meta
	MatchID      string `json:"matchId"`
	SummonerName string `json:"summonerName"`
	VotedTeam    int    `json:"votedTeam"`
	VotesTeam1   int    `json:"votesTeam1"`
	VotesTeam2   int    `json:"votesTeam2"`
	TotalNeeded  int    `json:"totalNeeded"`
}

func (WinnerVote) Channel() string { return ChannelWinnerVote }

// SpectatorAction covers the spectator:{mute,unmute,add,remove} channels.
type SpectatorAction struct {
	Meta
	Action        string `json:"-"`
	MatchID       string `json:"matchId"`
	SpectatorName string `json:"spectatorName"`
	PerformedBy   string `json:"performedBy"`
}

func (e SpectatorAction) Channel() string { return "spectator:" + e.Action }
