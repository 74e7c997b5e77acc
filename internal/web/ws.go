package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/edvart/lol-inhouse/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The token already authenticates the request; origin is not the
	// trust boundary for a LAN-hosted inhouse service.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsSession is one connected client transport. Implements session.Sender.
type wsSession struct {
	id   string
	conn *websocket.Conn

	mu        sync.Mutex
	heartbeat time.Time
}

func (s *wsSession) SessionID() string { return s.id }

func (s *wsSession) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *wsSession) Heartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heartbeat
}

func (s *wsSession) touch() {
	s.mu.Lock()
	s.heartbeat = time.Now()
	s.mu.Unlock()
}

func (s *wsSession) Close() error { return s.conn.Close() }

// handleWebSocket upgrades the connection, claims the player lock and
// registers the session for directed delivery.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	sess := &wsSession{id: uuid.New().String(), conn: conn, heartbeat: time.Now()}
	csid := user.CustomSessionID()

	holder, err := s.locks.Acquire(r.Context(), csid, sess.id)
	if err != nil {
		s.log.WithError(err).WithField("player", user.SummonerName).Warn("player lock acquisition failed")
		conn.Close()
		return
	}
	if holder != sess.id {
		// Another session holds the lock. If it is connected here and
		// its heartbeat is stale, take the lock over; otherwise attach
		// alongside it (same player, extra tab or replica).
		if dead := s.deadSession(user.SummonerName, holder); dead != nil {
			if err := s.locks.Transfer(r.Context(), csid, holder, sess.id); err == nil {
				dead.Close()
				s.registry.Remove(user.SummonerName, holder)
			}
		}
	}

	s.registry.Add(user.SummonerName, sess)
	s.log.WithFields(logrus.Fields{
		"player":  user.SummonerName,
		"session": sess.id,
	}).Info("session connected")

	s.sendSnapshot(r, user, sess)
	s.readLoop(user, sess)
}

// deadSession returns the local session with the given id if its
// heartbeat has lapsed, nil otherwise.
func (s *Server) deadSession(playerName, sessionID string) *wsSession {
	for _, sender := range s.registry.For(playerName) {
		ws, ok := sender.(*wsSession)
		if !ok || ws.id != sessionID {
			continue
		}
		if time.Since(ws.Heartbeat()) > pongWait {
			return ws
		}
		return nil
	}
	return nil
}

// sendSnapshot re-emits the current phase to a (re)connecting session so
// a client that reopened mid-match catches up immediately.
func (s *Server) sendSnapshot(r *http.Request, user *Identity, sess *wsSession) {
	ctx := r.Context()
	state, err := s.states.Get(ctx, user.SummonerName)
	if err != nil {
		return
	}
	if state != domain.StateInDraft && state != domain.StateInMatchFound && state != domain.StateInGame {
		return
	}
	matchID, ok, err := s.owners.MatchFor(ctx, user.SummonerName)
	if err != nil || !ok {
		return
	}

	if state == domain.StateInDraft {
		draftState, err := s.draft.Snapshot(ctx, matchID)
		if err != nil {
			return
		}
		payload, err := json.Marshal(map[string]interface{}{
			"type":      "draft_snapshot",
			"timestamp": time.Now().UnixMilli(),
			"matchId":   matchID,
			"state":     draftState,
		})
		if err != nil {
			return
		}
		if err := sess.Send(payload); err != nil {
			s.log.WithError(err).Debug("snapshot send failed")
		}
		return
	}

	payload, err := json.Marshal(map[string]interface{}{
		"type":      "phase_snapshot",
		"timestamp": time.Now().UnixMilli(),
		"matchId":   matchID,
		"state":     state,
	})
	if err != nil {
		return
	}
	if err := sess.Send(payload); err != nil {
		s.log.WithError(err).Debug("snapshot send failed")
	}
}

// readLoop keeps the connection alive and consumes client pings. RPCs
// arrive over HTTP; the socket is downstream-only.
func (s *Server) readLoop(user *Identity, sess *wsSession) {
	defer func() {
		s.registry.Remove(user.SummonerName, sess.id)
		s.locks.Release(context.Background(), user.CustomSessionID(), sess.id)
		sess.Close()
		s.log.WithFields(logrus.Fields{
			"player":  user.SummonerName,
			"session": sess.id,
		}).Info("session disconnected")
	}()

	sess.conn.SetReadLimit(maxMessageSize)
	sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		sess.touch()
		sess.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	go s.pingLoop(sess, done)
	defer close(done)

	for {
		if _, _, err := sess.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WithError(err).Debug("websocket read error")
			}
			return
		}
		sess.touch()
	}
}

func (s *Server) pingLoop(sess *wsSession, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			sess.mu.Lock()
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := sess.conn.WriteMessage(websocket.PingMessage, nil)
			sess.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
