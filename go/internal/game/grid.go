package game

import (
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/parlorhq/parlor/go/internal/datasync"
)

// Phase names, in tick order.
const (
	PhaseReset       = "reset"
	PhaseAction      = "action"
	PhaseInteraction = "interaction"
	PhaseCorrection  = "correction"
)

var tickPhases = []string{PhaseReset, PhaseAction, PhaseInteraction, PhaseCorrection}

// Config parameterizes a GridGame.
type Config struct {
	MapID        string
	Slots        int
	TickInterval time.Duration
	Clock        clockwork.Clock
	Seed         int64
}

// mapDimensions derives board size from the map id. Unknown maps get
// the default board.
func mapDimensions(mapID string) (w, h float64) {
	switch mapID {
	case "small":
		return 8, 8
	case "large":
		return 32, 32
	default:
		return 16, 16
	}
}

// Character is one movable entity on the grid, bound to a player slot.
// Its action phase integrates velocity into position and its correction
// phase clamps the result to the board.
type Character struct {
	datasync.Updater
	id int
}

func newCharacter(id int, data datasync.Document) *Character {
	c := &Character{id: id}
	c.Updater = *datasync.NewUpdater(data)
	c.OnPhase(PhaseAction, func(_ string, _ datasync.Document) {
		c.Set("x", num(c.Get("x"))+num(c.Get("dx")))
		c.Set("y", num(c.Get("y"))+num(c.Get("dy")))
	})
	c.OnPhase(PhaseCorrection, func(_ string, props datasync.Document) {
		w := num(props["width"])
		h := num(props["height"])
		if w > 0 {
			c.Set("x", clamp(num(c.GetStaged("x")), 0, w-1))
		}
		if h > 0 {
			c.Set("y", clamp(num(c.GetStaged("y")), 0, h-1))
		}
	})
	return c
}

// ID returns the character's member id, which matches its player slot.
func (c *Character) ID() int { return c.id }

// GridGame is a minimal authoritative simulation: a board, the player
// slots, and one character per slot. It exists so the engine can be run
// end to end; rooms treat it purely through the Game interface.
type GridGame struct {
	runner

	mu       sync.Mutex
	root     *datasync.Updater
	players  *PlayerGroup
	chars    *datasync.Group[*Character]
	width    float64
	height   float64
	tickNum  uint64
	lastDiff datasync.Document
}

var _ Game = (*GridGame)(nil)

// New constructs a GridGame with cfg's slot count and map, placing one
// character per slot at a seeded random position.
func New(cfg Config) *GridGame {
	if cfg.Slots <= 0 {
		cfg.Slots = 2
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 500 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	w, h := mapDimensions(cfg.MapID)
	rng := rand.New(rand.NewSource(cfg.Seed))

	g := &GridGame{
		root:    datasync.NewUpdater(datasync.Document{"mapID": cfg.MapID, "width": w, "height": h}),
		players: NewPlayerGroup(cfg.Slots),
		chars:   datasync.NewGroup(newCharacter),
		width:   w,
		height:  h,
	}
	g.runner = runner{clock: cfg.Clock, interval: cfg.TickInterval}

	for i := 0; i < cfg.Slots; i++ {
		g.chars.New(datasync.Document{
			"x":  float64(rng.Intn(int(w))),
			"y":  float64(rng.Intn(int(h))),
			"dx": 0.0,
			"dy": 0.0,
		})
	}
	g.chars.Apply()

	g.root.Set("players", g.players)
	g.root.Set("chars", g.chars)
	g.root.Apply()
	return g
}

// Run starts the tick interval.
func (g *GridGame) Run(onTick func()) { g.runner.run(onTick) }

// Stop halts the tick interval.
func (g *GridGame) Stop() { g.runner.stop() }

// IsRunning reports whether the tick interval is active.
func (g *GridGame) IsRunning() bool { return g.runner.isRunning() }

// TickInterval returns the configured tick interval.
func (g *GridGame) TickInterval() time.Duration { return g.runner.interval }

// Tick runs one simulation step: the ordered phases over the whole
// entity tree, then the diff is captured and staged state committed.
func (g *GridGame) Tick(props datasync.Document) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.root.Destroyed() {
		return
	}
	if props == nil {
		props = datasync.Document{}
	}
	props["width"] = g.width
	props["height"] = g.height
	for _, phase := range tickPhases {
		g.root.RunPhase(phase, props)
	}
	g.lastDiff = g.root.Update()
	g.root.Apply()
	g.tickNum++
}

// TickNum returns the number of completed ticks.
func (g *GridGame) TickNum() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tickNum
}

// Data returns a full committed snapshot.
func (g *GridGame) Data() datasync.Document {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.root.Data()
}

// Update returns the diff captured by the last Tick, nil when that tick
// changed nothing.
func (g *GridGame) Update() datasync.Document {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastDiff
}

// ApplyUpdate applies a remotely produced diff to the committed state.
func (g *GridGame) ApplyUpdate(diff datasync.Document) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.root.ApplyUpdate(diff)
}

// Players exposes the slot set.
func (g *GridGame) Players() *PlayerGroup { return g.players }

// Character returns the character bound to the given slot.
func (g *GridGame) Character(slot int) (*Character, bool) {
	return g.chars.Lookup(slot)
}

// Destroy stops the tick interval and destroys the state tree.
func (g *GridGame) Destroy() {
	g.Stop()
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.root.Destroyed() {
		g.root.Destroy()
	}
}

func num(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
