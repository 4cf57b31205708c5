package lobby

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/parlorhq/parlor/go/internal/relay"
	"github.com/parlorhq/parlor/go/internal/transmit"
)

// SessionRegistry is the process-wide index of live sessions. It is
// constructed explicitly and injected wherever it is needed so tests
// can run isolated registries side by side. It owns the garbage
// collection sweep that destroys expired sessions.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	rooms *RoomRegistry
	clock clockwork.Clock
	opts  Options
	relay relay.Publisher
}

// NewSessionRegistry wires a registry to the room registry that issues
// home rooms.
func NewSessionRegistry(clock clockwork.Clock, rooms *RoomRegistry, opts Options, pub relay.Publisher) *SessionRegistry {
	if pub == nil {
		pub = relay.Nop{}
	}
	return &SessionRegistry{
		sessions: make(map[string]*Session),
		rooms:    rooms,
		clock:    clock,
		opts:     opts,
		relay:    pub,
	}
}

// newSessionID returns a fresh 128-bit random identifier, base64
// encoded.
func newSessionID() string {
	u := uuid.New()
	return base64.RawURLEncoding.EncodeToString(u[:])
}

// Create registers a new session around the given transmitter and
// creates its home room. The session starts inside no room; joining the
// home room is the caller's move.
func (r *SessionRegistry) Create(name string, tr *transmit.Transmitter) *Session {
	s := &Session{
		id:           newSessionID(),
		name:         name,
		lifetime:     r.opts.SessionLifetime,
		clock:        r.clock,
		tr:           tr,
		registry:     r,
		playerID:     -1,
		prevPlayerID: -1,
	}
	s.expiresAt = r.clock.Now().Add(s.lifetime)
	s.home = r.rooms.CreateHomeRoom(s)

	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()

	log.Info().
		Str("session_id", s.id).
		Str("home_room", s.home.PublicID()).
		Msg("session created")
	r.relay.Publish(relay.SubjectSessionCreated, map[string]any{
		"sessionID": s.id,
		"homeRoom":  s.home.PublicID(),
	})
	return s
}

// Find returns the live session with the given id.
func (r *SessionRegistry) Find(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// remove deregisters an id. Deregistration always happens before any
// destruction listener is notified.
func (r *SessionRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

func (r *SessionRegistry) notifyDestroyed(s *Session) {
	log.Info().Str("session_id", s.ID()).Msg("session destroyed")
	r.relay.Publish(relay.SubjectSessionDestroyed, map[string]any{
		"sessionID": s.ID(),
	})
}

// Sweep destroys every expired session and returns how many went.
func (r *SessionRegistry) Sweep() int {
	now := r.clock.Now()
	r.mu.Lock()
	var expired []*Session
	for _, s := range r.sessions {
		if s.Expired(now) {
			expired = append(expired, s)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		log.Info().Str("session_id", s.ID()).Msg("sweeping expired session")
		s.Destroy()
	}
	return len(expired)
}

// Run drives the periodic GC sweep until ctx is cancelled.
func (r *SessionRegistry) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.opts.GCInterval)
	defer ticker.Stop()
	log.Info().Dur("interval", r.opts.GCInterval).Msg("session GC started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("session GC stopped")
			return
		case <-ticker.Chan():
			if n := r.Sweep(); n > 0 {
				log.Debug().Int("expired", n).Msg("session GC sweep")
			}
		}
	}
}

// DestroyAll tears down every live session, for server shutdown.
func (r *SessionRegistry) DestroyAll() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()
	for _, s := range all {
		s.Destroy()
	}
}
