package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	socketio "github.com/googollee/go-socket.io"
	"github.com/rs/zerolog/log"

	"github.com/drawchain/drawchain/internal/game"
)

// ConnCtx is the per-connection state: which session the socket is attached
// to and the opaque identity it acts as.
type ConnCtx struct {
	SessionID string
	Code      string
	Identity  string
}

type Server struct {
	coord *game.Coordinator

	mu       sync.Mutex
	conns    map[string]string // conn ID -> attached sessionID
	members  map[string]int    // sessionID -> attached connection count
	watchers map[string]func() // sessionID -> subscription cancel
}

func New(coord *game.Coordinator) *Server {
	return &Server{
		coord:    coord,
		conns:    make(map[string]string),
		members:  make(map[string]int),
		watchers: make(map[string]func()),
	}
}

// Mount attaches the Socket.IO server with handlers to the given Gin engine.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
	io := socketio.NewServer(nil)

	io.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext(&ConnCtx{})
		log.Info().Str("sid", s.ID()).Msg("socket connected")
		return nil
	})

	// room:create makes a session and joins its creator as the first player.
	io.OnEvent("/", "room:create", func(s socketio.Conn, payload struct {
		Name     string        `json:"name"`
		Settings game.Settings `json:"settings"`
	}) map[string]any {
		identity := uuid.NewString()
		snap, err := srv.coord.Create(context.Background(), identity, payload.Settings)
		if err != nil {
			return srv.err(s, err)
		}
		p, snap, err := srv.coord.Join(context.Background(), snap.Session.ID, identity, payload.Name)
		if err != nil {
			return srv.err(s, err)
		}
		srv.attachConn(io, s, snap.Session.ID, snap.Session.Code, identity)
		log.Info().Str("sid", s.ID()).Str("code", snap.Session.Code).Msg("room:create")
		s.Emit("room:state", snap)
		return map[string]any{
			"sessionCode": snap.Session.Code,
			"identity":    identity,
			"joinOrder":   p.JoinOrder,
		}
	})

	// room:join
	io.OnEvent("/", "room:join", func(s socketio.Conn, payload struct {
		SessionCode string `json:"sessionCode"`
		Name        string `json:"name"`
	}) map[string]any {
		snap, err := srv.coord.SnapshotByCode(context.Background(), payload.SessionCode)
		if err != nil {
			return srv.err(s, err)
		}
		identity := uuid.NewString()
		p, snap, err := srv.coord.Join(context.Background(), snap.Session.ID, identity, payload.Name)
		if err != nil {
			return srv.err(s, err)
		}
		srv.attachConn(io, s, snap.Session.ID, payload.SessionCode, identity)
		log.Info().Str("sid", s.ID()).Str("code", payload.SessionCode).
			Int("joinOrder", p.JoinOrder).Msg("room:join")
		s.Emit("room:state", snap)
		return map[string]any{"identity": identity, "joinOrder": p.JoinOrder}
	})

	// room:resume (reconnection; never mutates the roster)
	io.OnEvent("/", "room:resume", func(s socketio.Conn, payload struct {
		SessionCode string `json:"sessionCode"`
		Identity    string `json:"identity"`
	}) map[string]any {
		snap, err := srv.coord.SnapshotByCode(context.Background(), payload.SessionCode)
		if err != nil {
			return srv.err(s, err)
		}
		if !knownIdentity(snap, payload.Identity) {
			return srv.err(s, game.ErrForbidden)
		}
		srv.attachConn(io, s, snap.Session.ID, payload.SessionCode, payload.Identity)
		log.Info().Str("sid", s.ID()).Str("code", payload.SessionCode).Msg("room:resume")
		s.Emit("room:state", snap)
		return map[string]any{"ok": true}
	})

	// room:start (creator only)
	io.OnEvent("/", "room:start", func(s socketio.Conn) map[string]any {
		ctx := s.Context().(*ConnCtx)
		if ctx.SessionID == "" {
			return srv.err(s, game.ErrSessionNotFound)
		}
		if _, err := srv.coord.Start(context.Background(), ctx.SessionID, ctx.Identity); err != nil {
			return srv.err(s, err)
		}
		log.Info().Str("code", ctx.Code).Msg("room:start")
		return map[string]any{"ok": true}
	})

	// room:chooseTopic (first player in rotation)
	io.OnEvent("/", "room:chooseTopic", func(s socketio.Conn, payload struct {
		Topic string `json:"topic"`
	}) map[string]any {
		ctx := s.Context().(*ConnCtx)
		if ctx.SessionID == "" {
			return srv.err(s, game.ErrSessionNotFound)
		}
		if _, err := srv.coord.ChooseTopic(context.Background(), ctx.SessionID, ctx.Identity, payload.Topic); err != nil {
			return srv.err(s, err)
		}
		log.Info().Str("code", ctx.Code).Str("topic", payload.Topic).Msg("room:chooseTopic")
		return map[string]any{"ok": true}
	})

	// room:completeTurn. The turn key echoes the state the client observed;
	// a stale key is reported as already_advanced, which the client treats as
	// "someone beat me to it", not a failure.
	io.OnEvent("/", "room:completeTurn", func(s socketio.Conn, payload struct {
		TurnKey game.TurnKey `json:"turnKey"`
		Payload string       `json:"payload"`
	}) map[string]any {
		ctx := s.Context().(*ConnCtx)
		if ctx.SessionID == "" {
			return srv.err(s, game.ErrSessionNotFound)
		}
		snap, err := srv.coord.CompleteTurn(context.Background(), ctx.SessionID, payload.TurnKey, payload.Payload)
		if err != nil {
			return srv.err(s, err)
		}
		log.Info().Str("code", ctx.Code).Int("round", snap.Session.CurrentRound).Msg("room:completeTurn")
		return map[string]any{"ok": true}
	})

	io.OnError("/", func(s socketio.Conn, e error) {
		log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
	})
	io.OnDisconnect("/", func(s socketio.Conn, reason string) {
		srv.detach(s.ID())
		log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
	})

	go io.Serve()

	r.GET("/socket.io/*any", gin.WrapH(io))
	r.POST("/socket.io/*any", gin.WrapH(io))
	r.OPTIONS("/socket.io/*any", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Status(http.StatusNoContent)
	})

	return io
}

// attachConn binds the connection to a session room and makes sure a single
// forwarder goroutine relays the session's snapshots into that room.
// Membership is tracked per connection ID: re-attaching the same socket to
// the same session (join, then resume after a missed ack) counts once, and
// attaching it to a different session releases the old membership first.
func (srv *Server) attachConn(io *socketio.Server, s socketio.Conn, sessionID, code, identity string) {
	if prev, ok := s.Context().(*ConnCtx); ok && prev.SessionID != "" && prev.SessionID != sessionID {
		s.Leave(prev.Code)
	}
	s.SetContext(&ConnCtx{SessionID: sessionID, Code: code, Identity: identity})
	s.Join(code)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if prev, ok := srv.conns[s.ID()]; ok {
		if prev == sessionID {
			return
		}
		srv.releaseLocked(prev)
	}
	srv.conns[s.ID()] = sessionID
	srv.members[sessionID]++
	if _, ok := srv.watchers[sessionID]; ok {
		return
	}
	ch, cancel := srv.coord.Subscribe(sessionID)
	srv.watchers[sessionID] = cancel
	go func() {
		for snap := range ch {
			io.BroadcastToRoom("/", code, "room:state", snap)
		}
	}()
}

func (srv *Server) detach(connID string) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	sessionID, ok := srv.conns[connID]
	if !ok {
		return
	}
	delete(srv.conns, connID)
	srv.releaseLocked(sessionID)
}

func (srv *Server) releaseLocked(sessionID string) {
	srv.members[sessionID]--
	if srv.members[sessionID] > 0 {
		return
	}
	delete(srv.members, sessionID)
	if cancel, ok := srv.watchers[sessionID]; ok {
		cancel()
		delete(srv.watchers, sessionID)
	}
}

func (srv *Server) err(s socketio.Conn, err error) map[string]any {
	code := errCode(err)
	s.Emit("error", map[string]any{"code": code, "message": err.Error()})
	return map[string]any{"error": code}
}

func knownIdentity(snap game.Snapshot, identity string) bool {
	if identity == "" {
		return false
	}
	if snap.Session.CreatorID == identity {
		return true
	}
	for _, p := range snap.Roster {
		if p.Identity == identity {
			return true
		}
	}
	return false
}

func errCode(err error) string {
	switch {
	case errors.Is(err, game.ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, game.ErrForbidden):
		return "forbidden"
	case errors.Is(err, game.ErrInvalidSettings):
		return "invalid_settings"
	case errors.Is(err, game.ErrSessionNotJoinable):
		return "session_not_joinable"
	case errors.Is(err, game.ErrSessionFull):
		return "session_full"
	case errors.Is(err, game.ErrNotEnoughPlayers):
		return "not_enough_players"
	case errors.Is(err, game.ErrNotYourTurn):
		return "not_your_turn"
	case errors.Is(err, game.ErrInvalidTopic):
		return "invalid_topic"
	case errors.Is(err, game.ErrAlreadyAdvanced):
		return "already_advanced"
	case errors.Is(err, game.ErrDuplicateContribution):
		return "duplicate_contribution"
	case errors.Is(err, game.ErrInvalidPhase):
		return "invalid_phase"
	case errors.Is(err, game.ErrNotCompleted):
		return "not_completed"
	case errors.Is(err, game.ErrCodeExhausted):
		return "code_exhausted"
	default:
		return "internal"
	}
}
