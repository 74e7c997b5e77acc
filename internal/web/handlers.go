package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvart/lol-inhouse/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// httpStatus maps domain sentinels onto response codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrContended), errors.Is(err, domain.ErrLockLost):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrUnknownMatch):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyInQueue),
		errors.Is(err, domain.ErrStateConflict),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrOutOfTurn),
		errors.Is(err, domain.ErrWrongTeam),
		errors.Is(err, domain.ErrChampionUsed),
		errors.Is(err, domain.ErrDraftComplete),
		errors.Is(err, domain.ErrNotInPhase):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(err), map[string]string{"error": err.Error()})
}

// handleLogin registers the player and issues a session token. Identity
// is asserted by the caller; real deployments front this with the
// organization's SSO.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GameName      string      `json:"gameName"`
		TagLine       string      `json:"tagLine"`
		Region        string      `json:"region"`
		PrimaryLane   domain.Lane `json:"primaryLane"`
		SecondaryLane domain.Lane `json:"secondaryLane"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GameName == "" {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	summonerName := req.GameName
	if req.TagLine != "" {
		summonerName = req.GameName + "#" + req.TagLine
	}
	player := &domain.Player{
		SummonerName:  summonerName,
		GameName:      req.GameName,
		TagLine:       req.TagLine,
		Region:        req.Region,
		PrimaryLane:   req.PrimaryLane,
		SecondaryLane: req.SecondaryLane,
	}

	// First login seeds LP from external ranked data. Returning players
	// keep what they earned here.
	existing, err := s.sql.GetPlayer(r.Context(), summonerName)
	if err != nil {
		s.fail(w, err)
		return
	}
	if existing == nil {
		lp, err := s.ranked.FetchRankedLP(r.Context(), summonerName, req.Region)
		if err != nil {
			s.log.WithError(err).WithField("player", summonerName).Warn("ranked seed lookup failed")
		} else {
			player.CustomLP = lp
		}
	}

	if err := s.sql.UpsertPlayer(r.Context(), player); err != nil {
		s.fail(w, err)
		return
	}

	token, err := s.auth.Issue(Identity{
		SummonerName: summonerName,
		GameName:     req.GameName,
		TagLine:      req.TagLine,
		Region:       req.Region,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":        token,
		"summonerName": summonerName,
	})
}

func (s *Server) handleJoinQueue(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	var req struct {
		PrimaryLane   domain.Lane `json:"primaryLane"`
		SecondaryLane domain.Lane `json:"secondaryLane"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	player, err := s.sql.GetPlayer(r.Context(), user.SummonerName)
	if err != nil {
		s.fail(w, err)
		return
	}
	if player == nil {
		http.Error(w, "Unknown player", http.StatusNotFound)
		return
	}

	if err := s.queue.Join(r.Context(), player, req.PrimaryLane, req.SecondaryLane); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLeaveQueue(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if err := s.queue.Leave(r.Context(), user.SummonerName); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAcceptMatch(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	matchID := chi.URLParam(r, "matchID")
	if err := s.acceptance.Accept(r.Context(), matchID, user.SummonerName); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeclineMatch(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	matchID := chi.URLParam(r, "matchID")
	if err := s.acceptance.Decline(r.Context(), matchID, user.SummonerName); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDraftAction(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	matchID := chi.URLParam(r, "matchID")

	var req struct {
		ActionIndex *int   `json:"actionIndex"`
		ChampionID  string `json:"championId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ActionIndex == nil || req.ChampionID == "" {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if err := s.draft.ProcessAction(r.Context(), matchID, user.SummonerName, *req.ActionIndex, req.ChampionID); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConfirmDraft(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	matchID := chi.URLParam(r, "matchID")
	if err := s.draft.Confirm(r.Context(), matchID, user.SummonerName); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVoteWinner(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	matchID := chi.URLParam(r, "matchID")

	var req struct {
		Team int `json:"team"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if err := s.game.VoteWinner(r.Context(), matchID, user.SummonerName, req.Team); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.sql.Leaderboard(r.Context(), 100)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
