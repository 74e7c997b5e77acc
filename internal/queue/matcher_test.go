package queue

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/edvart/lol-inhouse/internal/domain"
)

func cohortEntry(name string, lp int, primary, secondary domain.Lane, joinedSecondsAgo int) domain.QueueEntry {
	return domain.QueueEntry{
		SummonerName:  name,
		CustomLP:      lp,
		PrimaryLane:   primary,
		SecondaryLane: secondary,
		JoinTime:      time.Now().Add(-time.Duration(joinedSecondsAgo) * time.Second),
	}
}

// fullCohort builds ten players whose primary lanes cover each lane twice.
func fullCohort() []domain.QueueEntry {
	var cohort []domain.QueueEntry
	i := 0
	for _, lane := range domain.Lanes {
		for n := 0; n < 2; n++ {
			cohort = append(cohort, cohortEntry(
				fmt.Sprintf("P%d", i), 50*i, lane, domain.LaneFill, 100-i))
			i++
		}
	}
	return cohort
}

func TestFormTeamsOnePlayerPerLane(t *testing.T) {
	team1, team2 := FormTeams(fullCohort())

	require.Len(t, team1, 5)
	require.Len(t, team2, 5)

	seen := map[string]bool{}
	for i, lane := range domain.Lanes {
		require.Equal(t, lane, team1[i].Lane)
		require.Equal(t, lane, team2[i].Lane)
		seen[team1[i].SummonerName] = true
		seen[team2[i].SummonerName] = true
	}
	require.Len(t, seen, 10)
}

func TestFormTeamsPrimariesAvoidAutofill(t *testing.T) {
	team1, team2 := FormTeams(fullCohort())
	for _, r := range append(team1, team2...) {
		require.False(t, r.Autofill, "player %s should not be autofilled", r.SummonerName)
	}
}

func TestFormTeamsAutofillWhenLaneUncovered(t *testing.T) {
	// Everyone wants mid; eight get autofilled elsewhere.
	var cohort []domain.QueueEntry
	for i := 0; i < 10; i++ {
		cohort = append(cohort, cohortEntry(
			fmt.Sprintf("P%d", i), 0, domain.LaneMid, domain.LaneMid, 100-i))
	}

	team1, team2 := FormTeams(cohort)
	var autofilled int
	for _, r := range append(team1, team2...) {
		if r.Autofill {
			autofilled++
		}
	}
	require.Equal(t, 8, autofilled)

	// The two longest-waiting players keep their preference.
	require.Equal(t, domain.LaneMid, team1[2].Lane)
	require.Equal(t, domain.LaneMid, team2[2].Lane)
}

func TestFormTeamsBalancesMMR(t *testing.T) {
	// One very strong and one very weak player per lane; the split must
	// not stack all strong players on one side.
	var cohort []domain.QueueEntry
	for i, lane := range domain.Lanes {
		cohort = append(cohort,
			cohortEntry(fmt.Sprintf("strong%d", i), 400, lane, domain.LaneFill, 100),
			cohortEntry(fmt.Sprintf("weak%d", i), 0, lane, domain.LaneFill, 90),
		)
	}

	team1, team2 := FormTeams(cohort)
	gap := meanMMR(team1) - meanMMR(team2)
	if gap < 0 {
		gap = -gap
	}
	require.LessOrEqual(t, gap, 200.0)
}

func TestFillPreferenceTakesAnyLane(t *testing.T) {
	var cohort []domain.QueueEntry
	for i, lane := range domain.Lanes {
		cohort = append(cohort, cohortEntry(fmt.Sprintf("main%d", i), 0, lane, domain.LaneFill, 100))
	}
	for i := 0; i < 5; i++ {
		cohort = append(cohort, cohortEntry(fmt.Sprintf("fill%d", i), 0, domain.LaneFill, domain.LaneFill, 50))
	}

	team1, team2 := FormTeams(cohort)
	for _, r := range append(team1, team2...) {
		// Fill players take open lanes without the autofill flag.
		require.False(t, r.Autofill)
	}
}
