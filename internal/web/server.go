// Package web is the HTTP and WebSocket edge: authenticated RPCs go in,
// bus events fan out to connected sessions.
package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/edvart/lol-inhouse/internal/acceptance"
	"github.com/edvart/lol-inhouse/internal/bridge"
	"github.com/edvart/lol-inhouse/internal/config"
	"github.com/edvart/lol-inhouse/internal/draft"
	"github.com/edvart/lol-inhouse/internal/game"
	"github.com/edvart/lol-inhouse/internal/ownership"
	"github.com/edvart/lol-inhouse/internal/playerstate"
	"github.com/edvart/lol-inhouse/internal/push"
	"github.com/edvart/lol-inhouse/internal/queue"
	"github.com/edvart/lol-inhouse/internal/session"
	"github.com/edvart/lol-inhouse/internal/store"
)

const tokenTTL = 24 * time.Hour

// Server routes authenticated client RPCs to the lifecycle components.
type Server struct {
	router     *chi.Mux
	cfg        config.Config
	auth       *Auth
	queue      *queue.Engine
	acceptance *acceptance.Coordinator
	draft      *draft.Engine
	game       *game.Monitor
	sql        store.Store
	states     *playerstate.Registry
	owners     *ownership.Maps
	registry   *session.Registry
	locks      *session.Locks
	push       *push.Service
	ranked     bridge.RankedDataBridge
	log        *logrus.Entry
}

// NewServer wires the edge around the lifecycle components.
func NewServer(
	cfg config.Config,
	queueEngine *queue.Engine,
	acceptanceCoord *acceptance.Coordinator,
	draftEngine *draft.Engine,
	gameMonitor *game.Monitor,
	sql store.Store,
	states *playerstate.Registry,
	owners *ownership.Maps,
	registry *session.Registry,
	locks *session.Locks,
	pushService *push.Service,
	ranked bridge.RankedDataBridge,
) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		cfg:        cfg,
		auth:       NewAuth(cfg.JWTSecret, tokenTTL),
		queue:      queueEngine,
		acceptance: acceptanceCoord,
		draft:      draftEngine,
		game:       gameMonitor,
		sql:        sql,
		states:     states,
		owners:     owners,
		registry:   registry,
		locks:      locks,
		push:       pushService,
		ranked:     ranked,
		log:        logrus.WithField("component", "web"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/healthz", s.handleHealth)
	r.Post("/auth/login", s.handleLogin)
	r.Get("/leaderboard", s.handleLeaderboard)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.RequireAuth)

		r.Get("/ws", s.handleWebSocket)

		r.Post("/queue/join", s.handleJoinQueue)
		r.Post("/queue/leave", s.handleLeaveQueue)
		r.Post("/match/{matchID}/accept", s.handleAcceptMatch)
		r.Post("/match/{matchID}/decline", s.handleDeclineMatch)
		r.Post("/match/{matchID}/draft/action", s.handleDraftAction)
		r.Post("/match/{matchID}/draft/confirm", s.handleConfirmDraft)
		r.Post("/match/{matchID}/vote", s.handleVoteWinner)

		r.Post("/push/subscribe", s.handleSubscribePush)
		r.Post("/push/unsubscribe", s.handleUnsubscribePush)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
