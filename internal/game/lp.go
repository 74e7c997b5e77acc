package game

import (
	"math"

	"github.com/edvart/lol-inhouse/internal/domain"
)

// eloK is the rating step for a single match.
const eloK = 32

// ComputeLPChanges returns the per-player LP deltas for a finished match.
// Expected score comes from the team mean MMRs; every member of a team
// moves by the same amount, and the two team deltas cancel exactly.
func ComputeLPChanges(team1, team2 []domain.RosterEntry, winnerTeam int) map[string]int {
	mean1 := teamMeanMMR(team1)
	mean2 := teamMeanMMR(team2)

	expected1 := 1.0 / (1.0 + math.Pow(10, (mean2-mean1)/400.0))
	score1 := 0.0
	if winnerTeam == 1 {
		score1 = 1.0
	}

	delta1 := int(math.Round(eloK * (score1 - expected1)))
	delta2 := -delta1

	changes := make(map[string]int, len(team1)+len(team2))
	for _, r := range team1 {
		changes[r.SummonerName] = delta1
	}
	for _, r := range team2 {
		changes[r.SummonerName] = delta2
	}
	return changes
}

func teamMeanMMR(team []domain.RosterEntry) float64 {
	if len(team) == 0 {
		return domain.BaseMMR
	}
	var sum float64
	for _, r := range team {
		sum += float64(r.MMR)
	}
	return sum / float64(len(team))
}
