package game

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/parlorhq/parlor/go/internal/datasync"
)

// Game is the simulation instance a room drives. The room consumes it
// only through this boundary; the rules behind Tick are the game's own
// business.
type Game interface {
	// Run starts the repeating tick interval, invoking onTick once per
	// interval. Idempotent while running.
	Run(onTick func())
	// Stop halts the tick interval. Idempotent while stopped.
	Stop()
	// Tick advances the simulation by one discrete step.
	Tick(props datasync.Document)
	// Data returns a full snapshot of the committed game state.
	Data() datasync.Document
	// Update returns the sparse diff produced by the last Tick, or nil.
	Update() datasync.Document
	// ApplyUpdate applies a remotely produced diff.
	ApplyUpdate(diff datasync.Document)
	// TickNum is the number of completed ticks, monotonic from 0.
	TickNum() uint64
	// IsRunning reports whether the tick interval is active.
	IsRunning() bool
	// TickInterval is the configured interval between ticks.
	TickInterval() time.Duration
	// Players exposes slot lookup and assignment.
	Players() *PlayerGroup
	// Destroy tears the simulation down.
	Destroy()
}

// runner owns the repeating tick timer. onTick calls are serialized on
// one goroutine, so no two ticks of the same game ever overlap.
type runner struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	interval time.Duration
	stopCh   chan struct{}
	running  bool
}

func (r *runner) run(onTick func()) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	stopCh := make(chan struct{})
	r.stopCh = stopCh
	r.mu.Unlock()

	go func() {
		ticker := r.clock.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.Chan():
				select {
				case <-stopCh:
					return
				default:
				}
				onTick()
			}
		}
	}()
}

func (r *runner) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.running = false
	close(r.stopCh)
}

func (r *runner) isRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
