package game

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/parlorhq/parlor/go/internal/datasync"
)

var (
	// ErrNoFreeSlots is returned when every player slot is reserved.
	ErrNoFreeSlots = errors.New("game: no free player slots")
	// ErrSlotUnavailable is returned when the requested slot is
	// already reserved.
	ErrSlotUnavailable = errors.New("game: player slot unavailable")
	// ErrNoSuchSlot is returned for slot ids outside the declared set.
	ErrNoSuchSlot = errors.New("game: no such player slot")
)

// Player is one pre-declared seat in the game. Its document carries the
// occupied flag and display name; the staged view doubles as the
// reservation bit so a slot can be held before the next tick commits it.
type Player struct {
	datasync.Updater
	id int
}

func newPlayer(id int, data datasync.Document) *Player {
	p := &Player{id: id}
	p.Updater = *datasync.NewUpdater(data)
	return p
}

// ID returns the slot id.
func (p *Player) ID() int { return p.id }

// Name returns the committed display name.
func (p *Player) Name() string {
	name, _ := p.Get("name").(string)
	return name
}

// StagedName returns the pending display name.
func (p *Player) StagedName() string {
	name, _ := p.GetStaged("name").(string)
	return name
}

// Occupied reports the committed occupancy flag.
func (p *Player) Occupied() bool {
	occ, _ := p.Get("occupied").(bool)
	return occ
}

// Reserved reports the staged occupancy bit: the latest intent for this
// slot, whether or not a tick has committed it yet.
func (p *Player) Reserved() bool {
	occ, _ := p.GetStaged("occupied").(bool)
	return occ
}

// PlayerGroup is the fixed-capacity, pre-declared set of player slots.
// Slot 0 is the host slot.
type PlayerGroup struct {
	*datasync.Group[*Player]
	hostSlot int
}

// NewPlayerGroup declares slots seats, all unoccupied and committed.
func NewPlayerGroup(slots int) *PlayerGroup {
	g := &PlayerGroup{Group: datasync.NewGroup(newPlayer)}
	for i := 0; i < slots; i++ {
		g.New(datasync.Document{"name": "", "occupied": false})
	}
	g.Apply()
	return g
}

// TotalSlots is the declared seat count.
func (g *PlayerGroup) TotalSlots() int { return g.Len() }

// HostSlot is the slot id reserved for the room owner.
func (g *PlayerGroup) HostSlot() int { return g.hostSlot }

// Slot returns the player with the given id.
func (g *PlayerGroup) Slot(id int) (*Player, bool) {
	return g.Lookup(id)
}

// IsReserved reports whether the slot is occupied or staged-occupied.
func (g *PlayerGroup) IsReserved(id int) bool {
	p, ok := g.Lookup(id)
	if !ok {
		return false
	}
	return p.Occupied() || p.Reserved()
}

// Reserve stages occupancy of the slot under the given display name.
func (g *PlayerGroup) Reserve(id int, name string) error {
	p, ok := g.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoSuchSlot, id)
	}
	if p.Occupied() || p.Reserved() {
		return fmt.Errorf("%w: %d", ErrSlotUnavailable, id)
	}
	p.Set("occupied", true)
	p.Set("name", name)
	return nil
}

// Release stages the slot back to unoccupied.
func (g *PlayerGroup) Release(id int) {
	p, ok := g.Lookup(id)
	if !ok {
		return
	}
	p.Set("occupied", false)
	p.Set("name", "")
}

// FreeSlots returns the ids of slots that are neither occupied nor
// staged-occupied, ascending.
func (g *PlayerGroup) FreeSlots() []int {
	var free []int
	g.ForEach(func(id int, p *Player) {
		if !p.Occupied() && !p.Reserved() {
			free = append(free, id)
		}
	})
	return free
}

// RandomFreeSlot picks uniformly among the free slots.
func (g *PlayerGroup) RandomFreeSlot(rng *rand.Rand) (int, error) {
	free := g.FreeSlots()
	if len(free) == 0 {
		return 0, ErrNoFreeSlots
	}
	return free[rng.Intn(len(free))], nil
}

// ReservedNames returns the display names of every occupied or
// staged-occupied slot.
func (g *PlayerGroup) ReservedNames() []string {
	var names []string
	g.ForEach(func(_ int, p *Player) {
		if p.Occupied() && p.Name() != "" {
			names = append(names, p.Name())
		}
		if p.Reserved() && p.StagedName() != "" && p.StagedName() != p.Name() {
			names = append(names, p.StagedName())
		}
	})
	return names
}

// SetPlayerData stages the given document onto the player's slot.
func (g *PlayerGroup) SetPlayerData(id int, data datasync.Document) error {
	p, ok := g.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoSuchSlot, id)
	}
	for k, v := range data {
		p.Set(k, v)
	}
	return nil
}
