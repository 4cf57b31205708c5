package lobby

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/parlorhq/parlor/go/internal/transmit"
)

// Session is one reconnectable client identity. It owns its
// Transmitter, which is rebound to a fresh socket on reconnect, and its
// home room, created with the session and destroyed only when the
// session is destroyed. A session lives until its expiry elapses
// without a Touch.
type Session struct {
	mu           sync.Mutex
	id           string
	name         string
	lifetime     time.Duration
	expiresAt    time.Time
	clock        clockwork.Clock
	tr           *transmit.Transmitter
	registry     *SessionRegistry
	home         *Room
	current      *Room
	prev         *Room
	playerID     int
	prevPlayerID int
	ready        bool
	destroyed    bool
}

// ID returns the opaque session identifier.
func (s *Session) ID() string { return s.id }

// Name returns the display name.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// SetName updates the display name.
func (s *Session) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

// Transmitter returns the session's transport wrapper.
func (s *Session) Transmitter() *transmit.Transmitter { return s.tr }

// HomeRoom returns the room created with this session.
func (s *Session) HomeRoom() *Room { return s.home }

// CurrentRoom returns the room the session is currently inside, nil
// when in none.
func (s *Session) CurrentRoom() *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// PrevRoom returns the last room departed, used to prefer rebinding
// the same player slot on re-entry.
func (s *Session) PrevRoom() *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prev
}

// PlayerID returns the bound player slot, -1 when unbound.
func (s *Session) PlayerID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playerID
}

// PrevPlayerID returns the slot held in the previous room, -1 if none.
func (s *Session) PrevPlayerID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prevPlayerID
}

// Ready reports whether the session has marked itself ready to play.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// SetReady updates the readiness flag.
func (s *Session) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// Touch resets the expiry to now plus the session lifetime.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiresAt = s.clock.Now().Add(s.lifetime)
}

// SetLifetime overrides the expiry window and re-arms the expiry from
// now. A non-positive lifetime expires the session immediately.
func (s *Session) SetLifetime(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lifetime = d
	s.expiresAt = s.clock.Now().Add(d)
}

// Expired reports whether the expiry has elapsed at now.
func (s *Session) Expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !now.Before(s.expiresAt)
}

// Destroyed reports whether Destroy has run.
func (s *Session) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// bindPlayer records the slot assignment made by a room join.
func (s *Session) bindPlayer(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playerID = id
}

// enteredRoom records room membership.
func (s *Session) enteredRoom(r *Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = r
}

// leftRoom clears membership, remembering the departed room and slot
// for preferential rebinding.
func (s *Session) leftRoom(r *Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != r {
		return
	}
	s.current = nil
	s.prev = r
	s.prevPlayerID = s.playerID
	s.playerID = -1
	s.ready = false
}

// Destroy tears the session down: outstanding transmits are cancelled,
// the current room is left, the transport is disconnected, the session
// is deregistered, and the home room is destroyed if it ended up empty.
func (s *Session) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	current := s.current
	home := s.home
	s.mu.Unlock()

	s.tr.CancelAllWaiting()
	if current != nil {
		current.RemoveSession(s)
	}
	s.tr.Close()
	s.registry.remove(s.id)
	if home != nil && home.IsEmpty() {
		home.Destroy()
	}
	s.registry.notifyDestroyed(s)
}
