// Package gateway accepts client websocket connections, runs the
// authenticate handshake, and dispatches protocol events from each
// session's transmitter onto its room.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/parlorhq/parlor/go/internal/lobby"
	"github.com/parlorhq/parlor/go/internal/transmit"
)

var errNotInRoom = errors.New("not in a room")

// Config holds gateway configuration.
type Config struct {
	// AuthTimeout bounds how long a fresh connection may sit
	// unauthenticated before it is forcibly disconnected.
	AuthTimeout time.Duration
	Socket      SocketConfig
}

// DefaultConfig returns default gateway configuration.
func DefaultConfig() Config {
	return Config{
		AuthTimeout: 10 * time.Second,
		Socket:      DefaultSocketConfig(),
	}
}

// Gateway upgrades connections and binds them to sessions.
type Gateway struct {
	sessions *lobby.SessionRegistry
	rooms    *lobby.RoomRegistry
	clock    clockwork.Clock
	cfg      Config
	upgrader websocket.Upgrader
}

// New creates a Gateway over the given registries.
func New(sessions *lobby.SessionRegistry, rooms *lobby.RoomRegistry, clock clockwork.Clock, cfg Config) *Gateway {
	return &Gateway{
		sessions: sessions,
		rooms:    rooms,
		clock:    clock,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.Socket.ReadBufferSize,
			WriteBufferSize: cfg.Socket.WriteBufferSize,
			CheckOrigin:     cfg.Socket.CheckOrigin,
		},
	}
}

// HandleWS upgrades an HTTP request to a websocket connection and
// starts the authenticate handshake.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}
	sock := newWSSocket(conn, g.cfg.Socket)
	go g.handshake(sock)
}

// HandleStats reports registry counts as JSON.
func (g *Gateway) HandleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"sessions": g.sessions.Len(),
		"rooms":    g.rooms.Len(),
	})
}

// handshake waits for the authenticate event on a raw socket. No
// gameplay event is accepted first; a connection that does not
// authenticate within the timeout is disconnected.
func (g *Gateway) handshake(sock *wsSocket) {
	timer := g.clock.NewTimer(g.cfg.AuthTimeout)
	defer timer.Stop()

	var msg []byte
	select {
	case m, ok := <-sock.Messages():
		if !ok {
			return
		}
		msg = m
	case <-sock.Done():
		return
	case <-timer.Chan():
		log.Info().Msg("authentication timeout, disconnecting")
		_ = sock.Close()
		return
	}

	event, seq, data, err := transmit.ParseEvent(msg)
	if err != nil || event != EventAuthenticate {
		log.Warn().Err(err).Str("event", event).Msg("expected authenticate, disconnecting")
		_ = sock.Close()
		return
	}
	var req authenticateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Warn().Err(err).Msg("malformed authenticate payload, disconnecting")
		_ = sock.Close()
		return
	}
	g.authenticate(sock, req, seq)
}

// authenticate resolves the connection to a session: an existing one
// when the supplied session id is known (reconnect, socket rebound in
// place), a fresh one otherwise. The session lands in the requested
// room when possible, in its home room with a warning when not.
func (g *Gateway) authenticate(sock *wsSocket, req authenticateRequest, seq uint64) {
	var s *lobby.Session
	reconnect := false
	if req.SessionID != "" {
		if found, ok := g.sessions.Find(req.SessionID); ok {
			s = found
			reconnect = true
		}
	}
	if s == nil {
		name := req.Name
		if name == "" {
			name = "Guest"
		}
		s = g.sessions.Create(name, transmit.New(g.clock, nil))
		g.bindHandlers(s)
	}
	s.Touch()

	var warning string
	room := s.CurrentRoom()
	if room == nil {
		room, warning = g.placeInRoom(s, req.PublicID)
	}

	resp := authenticateResponse{
		SessionID:       s.ID(),
		JoinRoomWarning: warning,
	}
	if room != nil {
		resp.PublicID = room.PublicID()
		resp.IsHost = room.Owner() == s
	}
	if ack, err := transmit.Ack(EventAuthenticate, seq, resp); err == nil {
		_ = sock.Send(ack)
	}
	s.Transmitter().SetSocket(sock)

	log.Info().
		Str("session_id", s.ID()).
		Str("room_id", resp.PublicID).
		Bool("reconnect", reconnect).
		Msg("session authenticated")
}

// placeInRoom joins s into the room with the requested public id,
// falling back to the session's home room with a warning when the
// requested room does not exist or rejects the join.
func (g *Gateway) placeInRoom(s *lobby.Session, publicID string) (*lobby.Room, string) {
	var warning string
	if publicID != "" {
		if room, ok := g.rooms.Find(publicID); ok {
			err := room.Join(s)
			if err == nil {
				return room, ""
			}
			warning = err.Error()
		} else {
			warning = "room not found"
		}
	}
	home := s.HomeRoom()
	if err := home.Join(s); err != nil {
		// Raced with another connection for the same session.
		return s.CurrentRoom(), warning
	}
	return home, warning
}

// bindHandlers registers the gameplay protocol on a new session's
// transmitter. Handlers survive socket swaps, so this runs once per
// session, not per connection.
func (g *Gateway) bindHandlers(s *lobby.Session) {
	tr := s.Transmitter()
	tr.On(EventLoadGame, func(env transmit.Envelope) { g.handleLoadGame(s, env) })
	tr.On(EventStartGame, func(env transmit.Envelope) { g.handleStartGame(s, env) })
	tr.On(EventStopGame, func(env transmit.Envelope) { g.handleStopGame(s, env) })
	tr.On(EventUpdatePlayer, func(env transmit.Envelope) { g.handleUpdatePlayer(s, env) })
	tr.On(transmit.Disconnect, func(transmit.Envelope) {
		// The session outlives its socket: it stays findable for
		// reconnection until the GC sweep expires it.
		log.Info().Str("session_id", s.ID()).Msg("session disconnected")
	})
}

func (g *Gateway) handleLoadGame(s *lobby.Session, env transmit.Envelope) {
	s.Touch()
	var req loadGameRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		env.Respond(loadGameResponse{Error: errString(fmt.Errorf("malformed payload: %w", err))})
		return
	}
	room := s.CurrentRoom()
	if room == nil {
		env.Respond(loadGameResponse{Error: errString(errNotInRoom)})
		return
	}
	opts := lobby.LoadGameOptions{
		MapID: req.MapID,
		Open:  req.IsOpen,
		Local: req.IsLocalGame,
	}
	if req.TickInterval != nil {
		opts.TickInterval = time.Duration(*req.TickInterval * float64(time.Millisecond))
	}
	res, err := room.LoadGame(s, opts)
	if err != nil {
		env.Respond(loadGameResponse{Error: errString(err)})
		return
	}
	env.Respond(loadGameResponse{
		PlayerID:     res.PlayerID,
		GameData:     res.GameData,
		IsOpen:       res.IsOpen,
		IsLocalGame:  res.IsLocal,
		TickInterval: float64(res.TickInterval) / float64(time.Millisecond),
		TickNum:      res.TickNum,
	})
}

func (g *Gateway) handleStartGame(s *lobby.Session, env transmit.Envelope) {
	s.Touch()
	var req startGameRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		env.Respond(startGameResponse{Error: errString(fmt.Errorf("malformed payload: %w", err))})
		return
	}
	room := s.CurrentRoom()
	if room == nil {
		env.Respond(startGameResponse{Error: errString(errNotInRoom)})
		return
	}
	started, waiting, err := room.StartGame(req.Force)
	if err != nil {
		env.Respond(startGameResponse{Error: errString(err)})
		return
	}
	env.Respond(startGameResponse{IsStarted: started, WaitingPlayerNames: waiting})
}

func (g *Gateway) handleStopGame(s *lobby.Session, env transmit.Envelope) {
	s.Touch()
	var req stopGameRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		env.Respond(stopGameResponse{Error: errString(fmt.Errorf("malformed payload: %w", err))})
		return
	}
	room := s.CurrentRoom()
	if room == nil {
		env.Respond(stopGameResponse{Error: errString(errNotInRoom)})
		return
	}
	err := room.StopGame(s, req.Type)
	env.Respond(stopGameResponse{Error: errString(err), IsStopped: err == nil})
}

func (g *Gateway) handleUpdatePlayer(s *lobby.Session, env transmit.Envelope) {
	s.Touch()
	var req updatePlayerRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		env.Respond(updatePlayerResponse{Error: errString(fmt.Errorf("malformed payload: %w", err))})
		return
	}
	room := s.CurrentRoom()
	if room == nil {
		env.Respond(updatePlayerResponse{Error: errString(errNotInRoom)})
		return
	}
	env.Respond(updatePlayerResponse{Error: errString(room.UpdatePlayer(s, req.PlayerID, req.PlayerData))})
}
