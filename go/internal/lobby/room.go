package lobby

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/parlorhq/parlor/go/internal/datasync"
	"github.com/parlorhq/parlor/go/internal/game"
	"github.com/parlorhq/parlor/go/internal/relay"
)

var (
	// ErrAlreadyInRoom rejects a join from a session that is inside a
	// room.
	ErrAlreadyInRoom = errors.New("lobby: session already in a room")
	// ErrRoomDestroyed rejects operations on a destroyed room.
	ErrRoomDestroyed = errors.New("lobby: room destroyed")
	// ErrRoomClosed rejects a join into a room that is not open.
	ErrRoomClosed = errors.New("lobby: room is not open")
	// ErrRoomFull rejects a join into a full room.
	ErrRoomFull = errors.New("lobby: room is full")
	// ErrNoGame rejects game operations before a game is loaded.
	ErrNoGame = errors.New("lobby: no game loaded")
	// ErrNotOwner rejects owner-only operations.
	ErrNotOwner = errors.New("lobby: only the room owner may do that")
	// ErrWrongPlayer rejects writes to a player slot the session is
	// not bound to.
	ErrWrongPlayer = errors.New("lobby: session is not bound to that player")
	// ErrBadStopType rejects unknown stopGame types.
	ErrBadStopType = errors.New("lobby: unknown stop type")
)

// Room groups sessions around one game simulation. The owner is fixed
// for the room's life. Membership, player slot binding and the
// readiness-gated tick loop all live here.
type Room struct {
	mu       sync.Mutex
	publicID string
	owner    *Session
	members  []*Session
	open     bool
	isLocal  bool
	game     game.Game

	registry *RoomRegistry
	relay    relay.Publisher
	clock    clockwork.Clock
	opts     Options
	rng      *rand.Rand

	// pendingTick marks sessions whose last gameTick send has not yet
	// resolved; waitingTicks counts how many consecutive ticks each
	// such session has held the room.
	pendingTick  map[*Session]bool
	waitingTicks map[*Session]int

	destroyed bool
}

func newRoom(publicID string, owner *Session, registry *RoomRegistry, seed int64) *Room {
	return &Room{
		publicID:     publicID,
		owner:        owner,
		registry:     registry,
		relay:        registry.relay,
		clock:        registry.clock,
		opts:         registry.opts,
		rng:          rand.New(rand.NewSource(seed)),
		pendingTick:  make(map[*Session]bool),
		waitingTicks: make(map[*Session]int),
	}
}

// PublicID returns the room's 6-digit public identifier.
func (r *Room) PublicID() string { return r.publicID }

// Owner returns the fixed owner session.
func (r *Room) Owner() *Session { return r.owner }

// Game returns the currently loaded game, nil before the first
// LoadGame.
func (r *Room) Game() game.Game {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.game
}

// IsOpen reports whether other sessions may join: explicitly opened
// and not a local game.
func (r *Room) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open && !r.isLocal
}

// IsLocal reports the local-game flag.
func (r *Room) IsLocal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isLocal
}

// SetOpen flips the explicit open flag.
func (r *Room) SetOpen(open bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = open
}

// IsFull reports whether the distinct set of members plus the owner
// covers every player slot.
func (r *Room) IsFull() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isFullLocked()
}

func (r *Room) isFullLocked() bool {
	if r.game == nil {
		return false
	}
	count := len(r.members)
	if !r.hasMemberLocked(r.owner) {
		count++
	}
	return count >= r.game.Players().TotalSlots()
}

// IsEmpty reports whether no session is inside the room.
func (r *Room) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members) == 0
}

// Members returns a snapshot of the sessions inside the room.
func (r *Room) Members() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, len(r.members))
	copy(out, r.members)
	return out
}

// Has reports whether s is inside the room.
func (r *Room) Has(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasMemberLocked(s)
}

func (r *Room) hasMemberLocked(s *Session) bool {
	for _, m := range r.members {
		if m == s {
			return true
		}
	}
	return false
}

// Destroyed reports whether the room has been torn down.
func (r *Room) Destroyed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed
}

// Join admits s, binding it to a player slot when a game is loaded.
// Non-owners may join only while the room is open and not full; the
// owner always has a seat.
func (r *Room) Join(s *Session) error {
	if s.CurrentRoom() != nil {
		return ErrAlreadyInRoom
	}
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return ErrRoomDestroyed
	}
	if s != r.owner {
		if !(r.open && !r.isLocal) {
			r.mu.Unlock()
			return ErrRoomClosed
		}
		if r.isFullLocked() {
			r.mu.Unlock()
			return ErrRoomFull
		}
	}
	if r.game != nil {
		slot, err := r.assignSlotLocked(s)
		if err != nil {
			r.mu.Unlock()
			return err
		}
		s.bindPlayer(slot)
	}
	r.members = append(r.members, s)
	r.mu.Unlock()

	s.enteredRoom(r)
	log.Info().
		Str("room_id", r.publicID).
		Str("session_id", s.ID()).
		Int("player_id", s.PlayerID()).
		Msg("session joined room")
	r.Reevaluate()
	return nil
}

// assignSlotLocked picks a player slot for s: the host slot for the
// owner, the previously held slot when returning to the same room and
// it is still free, otherwise uniformly at random among free slots.
// The assigned display name is disambiguated against every reserved
// name in the room.
func (r *Room) assignSlotLocked(s *Session) (int, error) {
	pg := r.game.Players()
	var slot int
	switch {
	case s == r.owner && !pg.IsReserved(pg.HostSlot()):
		slot = pg.HostSlot()
	case s != r.owner && s.PrevRoom() == r && s.PrevPlayerID() >= 0 && !pg.IsReserved(s.PrevPlayerID()):
		slot = s.PrevPlayerID()
	default:
		var err error
		slot, err = pg.RandomFreeSlot(r.rng)
		if err != nil {
			return 0, err
		}
	}
	name := Disambiguate(s.Name(), pg.ReservedNames())
	if err := pg.Reserve(slot, name); err != nil {
		return 0, err
	}
	return slot, nil
}

// RemoveSession takes s out of the room, releasing its player slot and
// cancelling its outstanding transmits so stale responses can never be
// misapplied to a later room context.
func (r *Room) RemoveSession(s *Session) {
	r.mu.Lock()
	idx := -1
	for i, m := range r.members {
		if m == s {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return
	}
	r.members = append(r.members[:idx], r.members[idx+1:]...)
	delete(r.pendingTick, s)
	delete(r.waitingTicks, s)
	if r.game != nil && s.PlayerID() >= 0 {
		r.game.Players().Release(s.PlayerID())
	}
	empty := len(r.members) == 0
	destroyed := r.destroyed
	r.mu.Unlock()

	s.Transmitter().CancelAllWaiting()
	s.leftRoom(r)
	log.Info().
		Str("room_id", r.publicID).
		Str("session_id", s.ID()).
		Msg("session left room")

	if destroyed {
		return
	}
	if empty && r.owner.Destroyed() {
		r.Destroy()
		return
	}
	r.Reevaluate()
}

// LoadGameOptions parameterize a game load.
type LoadGameOptions struct {
	MapID        string
	Open         *bool
	Local        *bool
	TickInterval time.Duration
	Slots        int
}

// LoadGameResult is what the requesting session gets back.
type LoadGameResult struct {
	PlayerID     int
	GameData     datasync.Document
	IsOpen       bool
	IsLocal      bool
	TickInterval time.Duration
	TickNum      uint64
}

func slotsForMap(mapID string) int {
	switch mapID {
	case "small":
		return 2
	case "large":
		return 8
	default:
		return 4
	}
}

// LoadGame replaces the room's game wholesale and rebinds every member
// to a slot in the new one. Owner only.
func (r *Room) LoadGame(s *Session, o LoadGameOptions) (LoadGameResult, error) {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return LoadGameResult{}, ErrRoomDestroyed
	}
	if s != r.owner {
		r.mu.Unlock()
		return LoadGameResult{}, ErrNotOwner
	}
	if o.Open != nil {
		r.open = *o.Open
	}
	if o.Local != nil {
		r.isLocal = *o.Local
	}
	slots := o.Slots
	if slots <= 0 {
		slots = slotsForMap(o.MapID)
	}

	old := r.game
	if old != nil {
		old.Stop()
	}
	g := game.New(game.Config{
		MapID:        o.MapID,
		Slots:        slots,
		TickInterval: o.TickInterval,
		Clock:        r.clock,
		Seed:         r.rng.Int63(),
	})
	r.game = g

	// Rebind members, owner first so the host slot is theirs.
	ordered := make([]*Session, 0, len(r.members))
	if r.hasMemberLocked(r.owner) {
		ordered = append(ordered, r.owner)
	}
	for _, m := range r.members {
		if m != r.owner {
			ordered = append(ordered, m)
		}
	}
	for _, m := range ordered {
		m.SetReady(false)
		slot, err := r.assignSlotLocked(m)
		if err != nil {
			log.Warn().
				Err(err).
				Str("room_id", r.publicID).
				Str("session_id", m.ID()).
				Msg("no slot for member in new game")
			m.bindPlayer(-1)
			continue
		}
		m.bindPlayer(slot)
	}
	res := LoadGameResult{
		PlayerID:     s.PlayerID(),
		GameData:     g.Data(),
		IsOpen:       r.open && !r.isLocal,
		IsLocal:      r.isLocal,
		TickInterval: g.TickInterval(),
		TickNum:      g.TickNum(),
	}
	r.mu.Unlock()

	if old != nil {
		old.Destroy()
	}
	log.Info().
		Str("room_id", r.publicID).
		Str("map_id", o.MapID).
		Int("slots", slots).
		Msg("game loaded")
	return res, nil
}

// UpdatePlayer stages playerData onto the session's bound slot. An
// isReady key doubles as the session readiness flag, which re-runs the
// start gating.
func (r *Room) UpdatePlayer(s *Session, playerID int, playerData datasync.Document) error {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return ErrRoomDestroyed
	}
	if r.game == nil {
		r.mu.Unlock()
		return ErrNoGame
	}
	if s.PlayerID() != playerID {
		r.mu.Unlock()
		return ErrWrongPlayer
	}
	if ready, ok := playerData["isReady"].(bool); ok {
		s.SetReady(ready)
	}
	err := r.game.Players().SetPlayerData(playerID, playerData)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.Reevaluate()
	return nil
}

// startDecision is the outcome of one readiness-gating evaluation; the
// side effects (kicks, gameStop notifications) run outside the lock.
type startDecision struct {
	started      bool
	waitingNames []string
	notify       []*Session
	stopType     string
	kick         []*Session
	transition   string
}

// evaluateStartLocked runs the readiness gate. With no player-bound
// sessions the game is stopped. With everyone ready it is started
// (idempotent). Otherwise, with force the unready are kicked; without
// force the game is stopped and, when at least one ready session is
// actually waiting on the others, a gameStop notification goes to the
// player-bound sessions: pause when the owner is the unready one,
// waiting otherwise.
func (r *Room) evaluateStartLocked(force bool) startDecision {
	d := startDecision{}
	if r.destroyed || r.game == nil {
		return d
	}
	wasRunning := r.game.IsRunning()
	bound := r.boundSessionsLocked()
	if len(bound) == 0 {
		r.game.Stop()
		if wasRunning {
			d.transition = "stopped"
		}
		return d
	}

	var unready []*Session
	ready := 0
	for _, s := range bound {
		if s.Ready() {
			ready++
		} else {
			unready = append(unready, s)
			d.waitingNames = append(d.waitingNames, r.displayNameLocked(s))
		}
	}
	if len(unready) == 0 {
		r.game.Run(r.onTick)
		d.started = true
		if !wasRunning {
			d.transition = "started"
		}
		return d
	}
	if force {
		d.kick = unready
		return d
	}
	r.game.Stop()
	if wasRunning {
		d.transition = "stopped"
	}
	if ready > 0 {
		d.notify = bound
		d.stopType = StopTypeWaiting
		for _, s := range unready {
			if s == r.owner {
				d.stopType = StopTypePause
				break
			}
		}
	}
	return d
}

func (r *Room) applyStartDecision(d startDecision) {
	switch d.transition {
	case "started":
		r.relay.Publish(relay.SubjectGameStarted, map[string]any{"roomID": r.publicID})
	case "stopped":
		r.relay.Publish(relay.SubjectGameStopped, map[string]any{"roomID": r.publicID})
	}
	if len(d.kick) > 0 {
		r.Kick(d.kick, true)
	}
	if len(d.notify) > 0 {
		payload := GameStopPayload{
			Type:               d.stopType,
			Reason:             "waiting for players",
			WaitingPlayerNames: d.waitingNames,
		}
		for _, s := range d.notify {
			go r.sendGameStop(s, payload)
		}
	}
}

// StartGame runs the readiness gate on request. Returns whether the
// game is now running and the display names of unready players.
func (r *Room) StartGame(force bool) (bool, []string, error) {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return false, nil, ErrRoomDestroyed
	}
	if r.game == nil {
		r.mu.Unlock()
		return false, nil, ErrNoGame
	}
	d := r.evaluateStartLocked(force)
	r.mu.Unlock()
	r.applyStartDecision(d)
	return d.started, d.waitingNames, nil
}

// Reevaluate re-runs the readiness gate after a membership or
// readiness change.
func (r *Room) Reevaluate() {
	r.mu.Lock()
	if r.destroyed || r.game == nil {
		r.mu.Unlock()
		return
	}
	d := r.evaluateStartLocked(false)
	r.mu.Unlock()
	r.applyStartDecision(d)
}

// StopGame handles a client stop request: pause halts the tick loop
// and notifies the other players, end additionally kicks every
// non-owner member out of the room. Ending is owner-only.
func (r *Room) StopGame(s *Session, stopType string) error {
	switch stopType {
	case StopTypePause:
		r.mu.Lock()
		if r.game == nil {
			r.mu.Unlock()
			return ErrNoGame
		}
		r.game.Stop()
		var others []*Session
		for _, m := range r.boundSessionsLocked() {
			if m != s {
				others = append(others, m)
			}
		}
		r.mu.Unlock()
		r.relay.Publish(relay.SubjectGameStopped, map[string]any{"roomID": r.publicID})
		payload := GameStopPayload{Type: StopTypePause, Reason: "paused by player"}
		for _, m := range others {
			go r.sendGameStop(m, payload)
		}
		return nil

	case StopTypeEnd:
		r.mu.Lock()
		if r.game == nil {
			r.mu.Unlock()
			return ErrNoGame
		}
		if s != r.owner {
			r.mu.Unlock()
			return ErrNotOwner
		}
		r.game.Stop()
		var targets []*Session
		for _, m := range r.members {
			if m != r.owner {
				targets = append(targets, m)
			}
		}
		r.mu.Unlock()
		r.relay.Publish(relay.SubjectGameStopped, map[string]any{"roomID": r.publicID})
		r.Kick(targets, true)
		return nil

	default:
		return ErrBadStopType
	}
}

// Kick sends a terminal gameStop to each target, best effort with
// timeout and retry, then removes it from the room regardless of
// whether the notification got through.
func (r *Room) Kick(targets []*Session, excludeOwner bool) {
	for _, s := range targets {
		if excludeOwner && s == r.owner {
			continue
		}
		go func(s *Session) {
			payload := GameStopPayload{Type: StopTypeEnd, Reason: "removed from game"}
			_, err := s.Transmitter().Transmit(context.Background(), EventGameStop, payload,
				r.opts.TransmitTimeout, r.opts.RetryCount, r.opts.RetryInterval)
			if err != nil {
				log.Debug().
					Err(err).
					Str("session_id", s.ID()).
					Msg("kick notification undelivered")
			}
			r.RemoveSession(s)
		}(s)
	}
}

// onTick is the per-tick callback driven by the game's interval. The
// readiness gate runs first and may stop the game mid-tick. When a
// session's previous tick is still unacknowledged the tick is held:
// the game does not advance and only the unblocked peers are told, a
// session that stays in that state too many consecutive ticks is
// evicted.
func (r *Room) onTick() {
	r.mu.Lock()
	if r.destroyed || r.game == nil {
		r.mu.Unlock()
		return
	}
	d := r.evaluateStartLocked(false)
	if !d.started {
		r.mu.Unlock()
		r.applyStartDecision(d)
		return
	}
	bound := r.boundSessionsLocked()

	var waiting, held, evict []*Session
	var waitingNames []string
	for _, s := range bound {
		if r.pendingTick[s] {
			waiting = append(waiting, s)
			waitingNames = append(waitingNames, r.displayNameLocked(s))
			r.waitingTicks[s]++
			if r.opts.MaxWaitingTicks > 0 && r.waitingTicks[s] >= r.opts.MaxWaitingTicks {
				evict = append(evict, s)
			}
		}
	}
	if len(waiting) > 0 {
		for _, s := range bound {
			if !r.pendingTick[s] && s.Ready() {
				held = append(held, s)
				r.pendingTick[s] = true
			}
		}
		tickNum := r.game.TickNum()
		r.mu.Unlock()

		log.Debug().
			Str("room_id", r.publicID).
			Strs("waiting", waitingNames).
			Msg("holding tick for unacknowledged sessions")
		payload := GameTickPayload{TickNum: tickNum, GameData: nil, WaitingPlayerNames: waitingNames}
		for _, s := range held {
			go r.sendTick(s, payload)
		}
		if len(evict) > 0 {
			r.Kick(evict, true)
		}
		return
	}

	r.game.Tick(nil)
	diff := r.game.Update()
	tickNum := r.game.TickNum()
	targets := bound
	for _, s := range targets {
		r.pendingTick[s] = true
	}
	r.mu.Unlock()

	payload := GameTickPayload{TickNum: tickNum, GameData: diff}
	for _, s := range targets {
		go r.sendTick(s, payload)
	}
}

// sendTick delivers one gameTick to one session. Delivery failure
// after retries removes the session from the room: an unreachable peer
// must not keep the room waiting indefinitely.
func (r *Room) sendTick(s *Session, payload GameTickPayload) {
	resp, err := s.Transmitter().Transmit(context.Background(), EventGameTick, payload,
		r.opts.TransmitTimeout, r.opts.RetryCount, r.opts.RetryInterval)

	r.mu.Lock()
	delete(r.pendingTick, s)
	if err == nil && !resp.Cancelled {
		delete(r.waitingTicks, s)
	}
	r.mu.Unlock()

	if err != nil {
		log.Warn().
			Err(err).
			Str("room_id", r.publicID).
			Str("session_id", s.ID()).
			Msg("tick undeliverable, removing session")
		r.RemoveSession(s)
	}
}

func (r *Room) sendGameStop(s *Session, payload GameStopPayload) {
	_, err := s.Transmitter().Transmit(context.Background(), EventGameStop, payload,
		r.opts.TransmitTimeout, r.opts.RetryCount, r.opts.RetryInterval)
	if err != nil {
		log.Debug().
			Err(err).
			Str("session_id", s.ID()).
			Msg("gameStop notification undelivered")
	}
}

// boundSessionsLocked returns the members bound to a player slot.
func (r *Room) boundSessionsLocked() []*Session {
	var bound []*Session
	for _, s := range r.members {
		if s.PlayerID() >= 0 {
			bound = append(bound, s)
		}
	}
	return bound
}

// displayNameLocked resolves the in-room display name: the assigned
// slot name when bound, the session name otherwise.
func (r *Room) displayNameLocked(s *Session) string {
	if r.game != nil && s.PlayerID() >= 0 {
		if p, ok := r.game.Players().Slot(s.PlayerID()); ok {
			if name := p.StagedName(); name != "" {
				return name
			}
			if name := p.Name(); name != "" {
				return name
			}
		}
	}
	return s.Name()
}

// Destroy force-removes every remaining member, destroys the game and
// deregisters the room. Deregistration happens before any destruction
// notification goes out.
func (r *Room) Destroy() {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.destroyed = true
	members := r.members
	r.members = nil
	g := r.game
	r.game = nil
	r.mu.Unlock()

	r.registry.deregister(r.publicID)
	for _, s := range members {
		s.Transmitter().CancelAllWaiting()
		s.leftRoom(r)
	}
	if g != nil {
		g.Destroy()
	}
	r.registry.notifyDestroyed(r)
}
