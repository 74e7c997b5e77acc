package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Callers match with errors.Is; the concrete error carries
// matchId and phase for correlation.
var (
	ErrContended         = errors.New("lock contended")
	ErrLockLost          = errors.New("lock lost")
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrAlreadyOwned      = errors.New("player already owned by another match")
	ErrOutOfTurn         = errors.New("action out of turn")
	ErrWrongTeam         = errors.New("player not on acting team")
	ErrChampionUsed      = errors.New("champion already used")
	ErrDraftComplete     = errors.New("draft already complete")
	ErrNotInPhase        = errors.New("match not in expected phase")
	ErrUnknownMatch      = errors.New("unknown match")
	ErrNotConfigured     = errors.New("queue not configured")
	ErrAlreadyInQueue    = errors.New("already in queue")
	ErrStateConflict     = errors.New("player state conflict")
	ErrIncompleteCohort  = errors.New("fewer than ten idle players")
	ErrTimeout           = errors.New("timed out")
	ErrConflict          = errors.New("status changed concurrently")
	ErrDownstream        = errors.New("downstream unavailable")
)

// PhaseError wraps an error kind with the match and phase it occurred in.
type PhaseError struct {
	Kind    error
	MatchID string
	Phase   string
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: match=%s phase=%s", e.Kind.Error(), e.MatchID, e.Phase)
}

func (e *PhaseError) Unwrap() error { return e.Kind }

// PhaseErr builds a PhaseError for the given kind.
func PhaseErr(kind error, matchID, phase string) error {
	return &PhaseError{Kind: kind, MatchID: matchID, Phase: phase}
}
