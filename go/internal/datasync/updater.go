package datasync

// PhaseFunc is a callback invoked when a named update phase reaches
// this node. props carries per-phase parameters from the caller.
type PhaseFunc func(phase string, props Document)

// PhaseRunner is implemented by trackers that participate in phased
// updates. RunPhase recursion only descends into children that
// implement it.
type PhaseRunner interface {
	RunPhase(phase string, props Document)
}

// Updater is a Holder that can run named update phases across its
// subtree. A phase visits every phase-capable child depth-first before
// any local callback fires, so a single RunPhase call from the root
// drives an ordered simulation pass over the whole entity tree.
type Updater struct {
	Holder
	phaseFuncs map[string][]PhaseFunc
	catchAll   []PhaseFunc
}

var _ PhaseRunner = (*Updater)(nil)

// NewUpdater returns an Updater seeded with initial.
func NewUpdater(initial Document) *Updater {
	u := &Updater{}
	u.Holder = *NewHolder(initial)
	return u
}

// OnPhase registers fn to run when the named phase reaches this node.
func (u *Updater) OnPhase(phase string, fn PhaseFunc) {
	if u.phaseFuncs == nil {
		u.phaseFuncs = make(map[string][]PhaseFunc)
	}
	u.phaseFuncs[phase] = append(u.phaseFuncs[phase], fn)
}

// OnAnyPhase registers a catch-all callback that runs after the named
// callbacks for every phase.
func (u *Updater) OnAnyPhase(fn PhaseFunc) {
	u.catchAll = append(u.catchAll, fn)
}

// RunPhase recurses depth-first into every phase-capable child, then
// invokes the local callbacks registered for the phase, then the
// catch-all callbacks.
func (u *Updater) RunPhase(phase string, props Document) {
	u.checkAlive("RunPhase")
	u.EachChild(func(_ string, child Child) {
		if runner, ok := child.(PhaseRunner); ok {
			runner.RunPhase(phase, props)
		}
	})
	for _, fn := range u.phaseFuncs[phase] {
		fn(phase, props)
	}
	for _, fn := range u.catchAll {
		fn(phase, props)
	}
}
