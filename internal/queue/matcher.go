package queue

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/edvart/lol-inhouse/internal/domain"
)

const (
	matcherLockName  = "lock:queue:matcher"
	matcherLockLease = 10 * time.Second
	matcherInterval  = 2 * time.Second
	balanceSwapLimit = 10
)

// RunMatcher holds the matcher lock and forms cohorts whenever the queue
// has enough idle entries. Only the replica holding the lock drives team
// formation; the others keep trying to take over.
func (e *Engine) RunMatcher(ctx context.Context) {
	e.log.Info("matcher loop started")
	for {
		lock, err := e.locker.TryLock(ctx, matcherLockName, matcherInterval, matcherLockLease)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(matcherInterval):
			}
			continue
		}

		ticker := time.NewTicker(matcherInterval)
		for lock.Held() {
			select {
			case <-ctx.Done():
				ticker.Stop()
				lock.Unlock(context.Background())
				return
			case <-ticker.C:
				if err := e.FormCohort(ctx); err != nil && !errors.Is(err, domain.ErrIncompleteCohort) {
					e.log.WithError(err).Warn("cohort formation failed")
				}
			}
		}
		ticker.Stop()
		e.log.Warn("matcher lock lost, re-acquiring")
	}
}

// FormCohort selects the ten longest-waiting idle players, assigns lanes,
// splits balanced teams and hands the proposed match to the acceptance
// coordinator. Returns ErrIncompleteCohort when fewer than ten are idle.
func (e *Engine) FormCohort(ctx context.Context) error {
	idle, err := e.sql.ListIdleQueue(ctx)
	if err != nil {
		return err
	}
	if len(idle) < e.cfg.MinCohort {
		return domain.ErrIncompleteCohort
	}

	cohort := idle[:e.cfg.MinCohort]
	team1, team2 := FormTeams(cohort)

	match := &domain.Match{
		ID:          uuid.New().String(),
		Status:      domain.MatchStatusFound,
		Team1:       team1,
		Team2:       team2,
		AverageMMR1: meanMMR(team1),
		AverageMMR2: meanMMR(team2),
	}

	if err := e.sql.CreateMatch(ctx, match); err != nil {
		return err
	}
	if err := e.sql.SetAcceptanceStatus(ctx, match.RosterNames(), domain.AcceptanceAwaiting); err != nil {
		return err
	}

	e.log.WithFields(logrus.Fields{
		"matchID": match.ID,
		"avgMmr1": match.AverageMMR1,
		"avgMmr2": match.AverageMMR2,
	}).Info("cohort formed")

	if err := e.starter.StartAcceptance(ctx, match); err != nil {
		// Put the ten back; the next tick retries with a fresh cohort.
		e.log.WithError(err).WithField("matchID", match.ID).Error("failed to start acceptance")
		if err := e.sql.SetAcceptanceStatus(ctx, match.RosterNames(), domain.AcceptanceIdle); err != nil {
			e.log.WithError(err).Warn("failed to reset acceptance status")
		}
		if err := e.sql.DeleteMatch(ctx, match.ID); err != nil {
			e.log.WithError(err).Warn("failed to delete aborted match")
		}
		return err
	}
	return nil
}

// laneAssignment pairs a queue entry with its assigned lane.
type laneAssignment struct {
	entry    domain.QueueEntry
	lane     domain.Lane
	autofill bool
}

// FormTeams assigns each of the ten players a lane (primary first, then
// secondary, autofill last) and splits them into two teams of one player
// per lane minimizing the mean-MMR gap.
func FormTeams(cohort []domain.QueueEntry) (team1, team2 []domain.RosterEntry) {
	assignments := assignLanes(cohort)

	// Two candidates per lane; seed the split then improve it with
	// bounded same-lane swaps.
	byLane := make(map[domain.Lane][2]laneAssignment)
	for _, lane := range domain.Lanes {
		var pair []laneAssignment
		for _, a := range assignments {
			if a.lane == lane {
				pair = append(pair, a)
			}
		}
		byLane[lane] = [2]laneAssignment{pair[0], pair[1]}
	}

	side := make(map[domain.Lane]int) // 0: pair[0] on team1, 1: swapped
	for iter := 0; iter < balanceSwapLimit; iter++ {
		bestGap := teamGap(byLane, side)
		bestLane := domain.Lane("")
		for _, lane := range domain.Lanes {
			side[lane] ^= 1
			if gap := teamGap(byLane, side); gap < bestGap {
				bestGap = gap
				bestLane = lane
			}
			side[lane] ^= 1
		}
		if bestLane == "" {
			break
		}
		side[bestLane] ^= 1
	}

	for _, lane := range domain.Lanes {
		pair := byLane[lane]
		first, second := pair[0], pair[1]
		if side[lane] == 1 {
			first, second = second, first
		}
		team1 = append(team1, rosterEntry(first))
		team2 = append(team2, rosterEntry(second))
	}
	return team1, team2
}

// assignLanes fills each lane twice: primaries by longest wait, then
// secondaries, then the earliest unassigned players as autofill.
func assignLanes(cohort []domain.QueueEntry) []laneAssignment {
	sorted := make([]domain.QueueEntry, len(cohort))
	copy(sorted, cohort)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].JoinTime.Before(sorted[j].JoinTime)
	})

	assigned := make(map[string]bool)
	laneCount := make(map[domain.Lane]int)
	var out []laneAssignment

	take := func(lane domain.Lane, pref func(domain.QueueEntry) domain.Lane, autofill bool) {
		for _, entry := range sorted {
			if laneCount[lane] >= 2 {
				return
			}
			if assigned[entry.SummonerName] {
				continue
			}
			if pref != nil && pref(entry) != lane {
				continue
			}
			assigned[entry.SummonerName] = true
			laneCount[lane]++
			out = append(out, laneAssignment{entry: entry, lane: lane, autofill: autofill})
		}
	}

	for _, lane := range domain.Lanes {
		take(lane, func(e domain.QueueEntry) domain.Lane { return e.PrimaryLane }, false)
	}
	for _, lane := range domain.Lanes {
		take(lane, func(e domain.QueueEntry) domain.Lane { return e.SecondaryLane }, false)
	}
	// Fill-preference players take any open lane without the autofill flag.
	for _, lane := range domain.Lanes {
		for _, entry := range sorted {
			if laneCount[lane] >= 2 || assigned[entry.SummonerName] {
				continue
			}
			if entry.PrimaryLane == domain.LaneFill || entry.SecondaryLane == domain.LaneFill {
				assigned[entry.SummonerName] = true
				laneCount[lane]++
				out = append(out, laneAssignment{entry: entry, lane: lane})
			}
		}
	}
	for _, lane := range domain.Lanes {
		take(lane, nil, true)
	}
	return out
}

func rosterEntry(a laneAssignment) domain.RosterEntry {
	return domain.RosterEntry{
		SummonerName: a.entry.SummonerName,
		Lane:         a.lane,
		Autofill:     a.autofill,
		CustomLP:     a.entry.CustomLP,
		MMR:          a.entry.MMR(),
	}
}

func teamGap(byLane map[domain.Lane][2]laneAssignment, side map[domain.Lane]int) float64 {
	var sum1, sum2 float64
	for _, lane := range domain.Lanes {
		pair := byLane[lane]
		a, b := pair[0], pair[1]
		if side[lane] == 1 {
			a, b = b, a
		}
		sum1 += float64(a.entry.MMR())
		sum2 += float64(b.entry.MMR())
	}
	n := float64(len(domain.Lanes))
	return math.Abs(sum1/n - sum2/n)
}

func meanMMR(team []domain.RosterEntry) float64 {
	if len(team) == 0 {
		return 0
	}
	var sum float64
	for _, r := range team {
		sum += float64(r.MMR)
	}
	return sum / float64(len(team))
}
