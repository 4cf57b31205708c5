package lobby

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/parlorhq/parlor/go/internal/relay"
)

// RoomRegistry is the process-wide index of live rooms by public id.
// Like the session registry it is an explicit, injectable object.
type RoomRegistry struct {
	mu    sync.Mutex
	rooms map[string]*Room
	rng   *rand.Rand

	clock clockwork.Clock
	opts  Options
	relay relay.Publisher
}

// NewRoomRegistry returns an empty registry. seed feeds public id
// generation and slot picks.
func NewRoomRegistry(clock clockwork.Clock, opts Options, pub relay.Publisher, seed int64) *RoomRegistry {
	if pub == nil {
		pub = relay.Nop{}
	}
	return &RoomRegistry{
		rooms: make(map[string]*Room),
		rng:   rand.New(rand.NewSource(seed)),
		clock: clock,
		opts:  opts,
		relay: pub,
	}
}

// CreateHomeRoom creates owner's home room under a fresh public id:
// six ASCII digits, zero padded, regenerated on collision with any
// live room.
func (r *RoomRegistry) CreateHomeRoom(owner *Session) *Room {
	r.mu.Lock()
	var id string
	for {
		id = fmt.Sprintf("%06d", r.rng.Intn(1000000))
		if _, taken := r.rooms[id]; !taken {
			break
		}
	}
	room := newRoom(id, owner, r, r.rng.Int63())
	r.rooms[id] = room
	r.mu.Unlock()

	log.Info().Str("room_id", id).Msg("room created")
	r.relay.Publish(relay.SubjectRoomCreated, map[string]any{"roomID": id})
	return room
}

// Find returns the live room with the given public id.
func (r *RoomRegistry) Find(publicID string) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[publicID]
	return room, ok
}

// Len returns the number of live rooms.
func (r *RoomRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// deregister drops the id from the live set. Called before any
// destruction notification goes out.
func (r *RoomRegistry) deregister(publicID string) {
	r.mu.Lock()
	delete(r.rooms, publicID)
	r.mu.Unlock()
}

func (r *RoomRegistry) notifyDestroyed(room *Room) {
	log.Info().Str("room_id", room.PublicID()).Msg("room destroyed")
	r.relay.Publish(relay.SubjectRoomDestroyed, map[string]any{"roomID": room.PublicID()})
}
