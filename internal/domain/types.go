package domain

import (
	"encoding/json"
	"strings"
	"time"
	"unicode"
)

// Lane is one of the five positions a player can queue for, plus fill.
type Lane string

const (
	LaneTop     Lane = "top"
	LaneJungle  Lane = "jungle"
	LaneMid     Lane = "mid"
	LaneBot     Lane = "bot"
	LaneSupport Lane = "support"
	LaneFill    Lane = "fill"
)

// Lanes is the slot order within a team.
var Lanes = []Lane{LaneTop, LaneJungle, LaneMid, LaneBot, LaneSupport}

// PlayerState is the phase a player currently occupies. Mutated only
// through the playerstate registry.
type PlayerState string

const (
	StateAvailable    PlayerState = "AVAILABLE"
	StateInQueue      PlayerState = "IN_QUEUE"
	StateInMatchFound PlayerState = "IN_MATCH_FOUND"
	StateInDraft      PlayerState = "IN_DRAFT"
	StateInGame       PlayerState = "IN_GAME"
)

// Match statuses. The SQL row is authoritative on recovery.
const (
	MatchStatusFound      = "match_found"
	MatchStatusDraft      = "draft"
	MatchStatusGameReady  = "game_ready"
	MatchStatusInProgress = "in_progress"
	MatchStatusCompleted  = "completed"
	MatchStatusCancelled  = "cancelled"
)

// Acceptance status values on a queue entry.
const (
	AcceptanceIdle     = 0
	AcceptanceAwaiting = -1
	AcceptanceAccepted = 1
	AcceptanceDeclined = 2
)

// BaseMMR is the baseline added to customLp to form customMmr.
const BaseMMR = 1000

// SkippedChampion marks a draft action that elapsed its timeout.
const SkippedChampion = "SKIPPED"

// SystemTimeoutPlayer authors actions completed by the timeout monitor.
const SystemTimeoutPlayer = "system_timeout"

// QueueEntry is one player waiting for a match.
type QueueEntry struct {
	PlayerID         int64     `db:"player_id" json:"playerId"`
	SummonerName     string    `db:"summoner_name" json:"summonerName"`
	Region           string    `db:"region" json:"region"`
	CustomLP         int       `db:"custom_lp" json:"customLp"`
	PrimaryLane      Lane      `db:"primary_lane" json:"primaryLane"`
	SecondaryLane    Lane      `db:"secondary_lane" json:"secondaryLane"`
	AcceptanceStatus int       `db:"acceptance_status" json:"acceptanceStatus"`
	JoinTime         time.Time `db:"join_time" json:"joinTime"`
	QueuePosition    int       `db:"queue_position" json:"queuePosition"`
}

// MMR returns the entry's matchmaking rating.
func (e QueueEntry) MMR() int {
	return BaseMMR + e.CustomLP
}

// RosterEntry is one slot of a formed team.
type RosterEntry struct {
	SummonerName string `json:"summonerName"`
	Lane         Lane   `json:"lane"`
	Autofill     bool   `json:"autofill,omitempty"`
	CustomLP     int    `json:"customLp"`
	MMR          int    `json:"mmr"`
}

// Match is the persistent record driven through the phase pipeline.
type Match struct {
	ID             string          `db:"id"`
	Status         string          `db:"status"`
	Team1          []RosterEntry   `db:"-"`
	Team2          []RosterEntry   `db:"-"`
	AverageMMR1    float64         `db:"average_mmr_team1"`
	AverageMMR2    float64         `db:"average_mmr_team2"`
	PickBanData    json.RawMessage `db:"pick_ban_data_json"`
	WinnerTeam     int             `db:"winner_team"`
	ActualDuration int             `db:"actual_duration"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

// Roster returns all ten players in slot order, team 1 first.
func (m *Match) Roster() []RosterEntry {
	out := make([]RosterEntry, 0, len(m.Team1)+len(m.Team2))
	out = append(out, m.Team1...)
	out = append(out, m.Team2...)
	return out
}

// RosterNames returns the summoner names of both teams in slot order.
func (m *Match) RosterNames() []string {
	roster := m.Roster()
	names := make([]string, len(roster))
	for i, r := range roster {
		names[i] = r.SummonerName
	}
	return names
}

// TeamOf returns 1 or 2 for a roster member, 0 for anyone else.
// Summoner names are case-insensitive.
func (m *Match) TeamOf(summonerName string) int {
	for _, r := range m.Team1 {
		if strings.EqualFold(r.SummonerName, summonerName) {
			return 1
		}
	}
	for _, r := range m.Team2 {
		if strings.EqualFold(r.SummonerName, summonerName) {
			return 2
		}
	}
	return 0
}

// ActionType distinguishes bans from picks.
type ActionType string

const (
	ActionBan  ActionType = "ban"
	ActionPick ActionType = "pick"
)

// DraftAction is one of the twenty entries of a draft sequence.
// Actions are mutated once, when completed or timed out.
type DraftAction struct {
	Index      int        `json:"index"`
	Type       ActionType `json:"type"`
	Team       int        `json:"team"`
	ChampionID string     `json:"championId,omitempty"`
	ByPlayer   string     `json:"byPlayer,omitempty"`
}

// Completed reports whether the action has been filled in.
func (a DraftAction) Completed() bool {
	return a.ChampionID != ""
}

// Skipped reports whether the action elapsed its timeout.
func (a DraftAction) Skipped() bool {
	return a.ChampionID == SkippedChampion
}

// DraftState is the in-flight ban/pick bookkeeping for one match.
type DraftState struct {
	MatchID           string        `json:"matchId"`
	Actions           []DraftAction `json:"actions"`
	CurrentIndex      int           `json:"currentIndex"`
	Team1             []RosterEntry `json:"team1"`
	Team2             []RosterEntry `json:"team2"`
	LastActionStartMs int64         `json:"lastActionStartMs"`
	// ConfirmStartMs is set when the twentieth action lands and the
	// confirmation countdown begins.
	ConfirmStartMs int64 `json:"confirmStartMs,omitempty"`
}

// PickBanData is the JSON snapshot persisted on the match row. The
// team1/team2 blocks are written once by the acceptance coordinator and
// must never be overwritten from bare in-memory names.
type PickBanData struct {
	Team1        []RosterEntry `json:"team1,omitempty"`
	Team2        []RosterEntry `json:"team2,omitempty"`
	Actions      []DraftAction `json:"actions,omitempty"`
	CurrentIndex int           `json:"currentIndex"`
}

// Player is the persistent identity row. Identity is summonerName,
// case-insensitive.
type Player struct {
	ID            int64  `db:"id"`
	SummonerName  string `db:"summoner_name"`
	GameName      string `db:"game_name"`
	TagLine       string `db:"tag_line"`
	Region        string `db:"region"`
	CustomLP      int    `db:"custom_lp"`
	PrimaryLane   Lane   `db:"primary_lane"`
	SecondaryLane Lane   `db:"secondary_lane"`
	Wins          int    `db:"wins"`
	Losses        int    `db:"losses"`
}

// MMR returns the player's matchmaking rating.
func (p Player) MMR() int {
	return BaseMMR + p.CustomLP
}

// IsBot reports whether a summoner name belongs to a bot. Bots are
// auto-accepted shortly after a match is found.
func IsBot(summonerName string) bool {
	return strings.HasPrefix(summonerName, "Bot")
}

// CustomSessionID derives the stable lock key for a player:
// player_<gameName>_<tagLine> with non-alphanumerics folded to '_',
// lowercased. Stable across reconnects.
func CustomSessionID(gameName, tagLine string) string {
	fold := func(s string) string {
		var b strings.Builder
		for _, r := range s {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteByte('_')
			}
		}
		return b.String()
	}
	return "player_" + fold(gameName) + "_" + fold(tagLine)
}
