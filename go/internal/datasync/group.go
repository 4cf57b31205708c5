package datasync

import (
	"sort"
	"strconv"
)

// Member is an element of a Group: a phase-capable Child with stable
// integer identity.
type Member interface {
	Child
	PhaseRunner
}

// MemberFactory builds a concrete member for the given id, seeded with
// data as its committed state.
type MemberFactory[M Member] func(id int, data Document) M

// Group is an Updater specialized to hold a dynamically-sized, keyed
// collection of members of one concrete type (players, characters,
// items, tiles). Keys are the decimal form of each member's id.
// Enumeration operates over committed members only.
type Group[M Member] struct {
	Updater
	newMember MemberFactory[M]
	cursor    int
}

// NewGroup returns an empty Group whose members are built by factory.
func NewGroup[M Member](factory MemberFactory[M]) *Group[M] {
	g := &Group[M]{newMember: factory}
	g.Updater = *NewUpdater(nil)
	g.HandleChildren(func(key string, data Document) Child {
		id, err := strconv.Atoi(key)
		if err != nil {
			panic("datasync: non-integer member key " + strconv.Quote(key))
		}
		return factory(id, data)
	})
	return g
}

// New stages a new member with the next unused non-negative integer id,
// scanning upward from an internal cursor and skipping ids already
// present in the committed or staged view. The member itself is
// instantiated on Apply. Returns the allocated id.
func (g *Group[M]) New(data Document) int {
	g.checkAlive("New")
	id := g.cursor
	for {
		key := strconv.Itoa(id)
		_, inCurrent := g.current[key]
		_, inStaged := g.staged[key]
		if !inCurrent && !inStaged {
			break
		}
		id++
	}
	g.cursor = id + 1
	if data == nil {
		data = Document{}
	}
	g.Set(strconv.Itoa(id), data)
	return id
}

// RemoveMember stages the removal of the member with the given id. The
// detached member is destroyed on Apply; members are never left
// half-alive after removal.
func (g *Group[M]) RemoveMember(id int) {
	g.Remove(strconv.Itoa(id))
}

// Lookup returns the committed member with the given id.
func (g *Group[M]) Lookup(id int) (M, bool) {
	var zero M
	child, ok := g.ChildAt(strconv.Itoa(id))
	if !ok {
		return zero, false
	}
	m, ok := child.(M)
	if !ok {
		return zero, false
	}
	return m, true
}

// IDs returns the committed member ids in ascending order.
func (g *Group[M]) IDs() []int {
	g.checkAlive("IDs")
	ids := make([]int, 0, len(g.current))
	for key := range g.current {
		if _, isChild := g.current[key].(Child); !isChild {
			continue
		}
		id, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// List returns the committed members in id order.
func (g *Group[M]) List() []M {
	ids := g.IDs()
	out := make([]M, 0, len(ids))
	for _, id := range ids {
		if m, ok := g.Lookup(id); ok {
			out = append(out, m)
		}
	}
	return out
}

// ForEach visits the committed members in id order.
func (g *Group[M]) ForEach(fn func(id int, m M)) {
	for _, id := range g.IDs() {
		if m, ok := g.Lookup(id); ok {
			fn(id, m)
		}
	}
}

// Filter returns the committed members matching pred, in id order.
func (g *Group[M]) Filter(pred func(m M) bool) []M {
	var out []M
	g.ForEach(func(_ int, m M) {
		if pred(m) {
			out = append(out, m)
		}
	})
	return out
}

// Len returns the number of committed members.
func (g *Group[M]) Len() int {
	return len(g.IDs())
}
