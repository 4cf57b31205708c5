package datasync

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
)

// Child is the surface a Holder needs from a nested tracker. A key
// handled by a Child keeps the Child reference in the current view and
// a nil sentinel in the staged view; all state for that key lives in
// the Child itself.
type Child interface {
	Set(key string, value any)
	IsChanged() bool
	Apply()
	Drop()
	Update() Document
	ApplyUpdate(diff Document)
	Destroy()
}

// ChildFactory builds a new Child for a key that was committed with a
// plain document value. The returned Child starts with data as its
// committed state.
type ChildFactory func(key string, data Document) Child

// Holder tracks one document in two views: current (authoritative,
// externally visible) and staged (pending edits). Writes go to staged;
// Apply commits staged into current and Drop discards staged. Update
// produces a sparse diff of the pending changes and ApplyUpdate applies
// a remotely produced diff directly to current.
//
// Holder is not safe for concurrent use; callers serialize access the
// same way the room lock serializes everything that touches a game.
type Holder struct {
	current   Document
	staged    Document
	makeChild ChildFactory

	changes          *Changes
	parentInvalidate func()
	destroyed        bool
}

var _ Child = (*Holder)(nil)

// NewHolder returns a Holder whose current and staged views both start
// as deep copies of initial.
func NewHolder(initial Document) *Holder {
	h := &Holder{
		current: Document{},
		staged:  Document{},
	}
	for k, v := range initial {
		h.current[k] = cloneValue(v)
		h.staged[k] = cloneValue(v)
	}
	return h
}

// HandleChildren registers the factory used to turn committed document
// values into Child trackers.
func (h *Holder) HandleChildren(factory ChildFactory) {
	h.makeChild = factory
}

func (h *Holder) checkAlive(op string) {
	if h.destroyed {
		panic(fmt.Sprintf("datasync: %s on destroyed holder", op))
	}
}

// Get returns the committed value for key. For a child-handled key this
// is the Child reference itself.
func (h *Holder) Get(key string) any {
	h.checkAlive("Get")
	return h.current[key]
}

// GetStaged returns the pending value for key.
func (h *Holder) GetStaged(key string) any {
	h.checkAlive("GetStaged")
	return h.staged[key]
}

// Has reports whether key exists in the committed view.
func (h *Holder) Has(key string) bool {
	h.checkAlive("Has")
	_, ok := h.current[key]
	return ok
}

// ChildAt returns the Child handling key, if any.
func (h *Holder) ChildAt(key string) (Child, bool) {
	h.checkAlive("ChildAt")
	c, ok := h.current[key].(Child)
	return c, ok
}

// Keys returns the committed keys in sorted order.
func (h *Holder) Keys() []string {
	h.checkAlive("Keys")
	keys := make([]string, 0, len(h.current))
	for k := range h.current {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set stages a write. Assigning a plain document to a key handled by a
// Child forwards the write into the Child instead of replacing it; any
// other non-nil value for a child-handled key panics, as do unsupported
// value shapes. Replace a child by Remove then Set.
func (h *Holder) Set(key string, value any) {
	h.checkAlive("Set")
	if err := validateValue(key, value); err != nil {
		panic(err.Error())
	}
	if child, ok := h.ChildAt(key); ok {
		if doc, isDoc := value.(Document); isDoc {
			for k, v := range doc {
				child.Set(k, v)
			}
			h.invalidate()
			return
		}
		if value == nil {
			// nil is the staged sentinel for a child-handled key; a
			// literal nil write means "no change" here.
			return
		}
		panic(fmt.Sprintf("datasync: cannot replace child-handled key %q with %T; Remove it first", key, value))
	}
	h.staged[key] = cloneValue(value)
	h.invalidate()
}

// Remove stages the removal of key.
func (h *Holder) Remove(key string) {
	h.checkAlive("Remove")
	delete(h.staged, key)
	h.invalidate()
}

func (h *Holder) invalidate() {
	h.changes = nil
	if h.parentInvalidate != nil {
		h.parentInvalidate()
	}
}

type invalidatable interface {
	setParentInvalidate(fn func())
}

func (h *Holder) setParentInvalidate(fn func()) {
	h.parentInvalidate = fn
}

// Changes returns the summary of how staged differs from current. The
// result is memoized until the next mutating call.
func (h *Holder) Changes() *Changes {
	h.checkAlive("Changes")
	if h.changes != nil {
		return h.changes
	}
	ch := &Changes{}
	for key := range h.staged {
		cur, inCurrent := h.current[key]
		if !inCurrent {
			ch.Added = append(ch.Added, key)
			continue
		}
		if child, isChild := cur.(Child); isChild {
			if child.IsChanged() {
				ch.Updated = append(ch.Updated, key)
			} else {
				ch.Unchanged = append(ch.Unchanged, key)
			}
			continue
		}
		if equalValue(cur, h.staged[key]) {
			ch.Unchanged = append(ch.Unchanged, key)
		} else {
			ch.Updated = append(ch.Updated, key)
		}
	}
	for key := range h.current {
		if _, ok := h.staged[key]; !ok {
			ch.Removed = append(ch.Removed, key)
		}
	}
	sort.Strings(ch.Added)
	sort.Strings(ch.Updated)
	sort.Strings(ch.Removed)
	sort.Strings(ch.Unchanged)
	h.changes = ch
	return ch
}

// IsChanged reports whether any pending edit exists in this holder or
// any of its children.
func (h *Holder) IsChanged() bool {
	return h.Changes().IsChanged()
}

// Apply commits staged into current. Added keys holding a plain
// document are turned into Child trackers when a factory is registered.
// Removed child-handled keys destroy the detached Child. Calling Apply
// twice with no interleaving writes is a no-op the second time.
func (h *Holder) Apply() {
	h.checkAlive("Apply")
	ch := h.Changes()
	for _, key := range ch.Added {
		v := h.staged[key]
		if doc, isDoc := v.(Document); isDoc && h.makeChild != nil {
			h.install(key, h.makeChild(key, doc))
			continue
		}
		if child, isChild := v.(Child); isChild {
			h.install(key, child)
			continue
		}
		h.current[key] = cloneValue(v)
	}
	for _, key := range ch.Updated {
		if child, isChild := h.ChildAt(key); isChild {
			child.Apply()
			continue
		}
		h.current[key] = cloneValue(h.staged[key])
	}
	for _, key := range ch.Removed {
		if child, isChild := h.ChildAt(key); isChild {
			child.Destroy()
		}
		delete(h.current, key)
	}
	h.invalidate()
}

func (h *Holder) install(key string, child Child) {
	h.current[key] = child
	h.staged[key] = nil
	if inv, ok := child.(invalidatable); ok {
		inv.setParentInvalidate(h.invalidate)
	}
}

// Drop discards staged edits, resetting staged to a deep copy of
// current. Children drop recursively.
func (h *Holder) Drop() {
	h.checkAlive("Drop")
	for key := range h.staged {
		if _, ok := h.current[key]; !ok {
			delete(h.staged, key)
		}
	}
	for key, v := range h.current {
		if child, isChild := v.(Child); isChild {
			child.Drop()
			h.staged[key] = nil
			continue
		}
		h.staged[key] = cloneValue(v)
	}
	h.invalidate()
}

// Update produces the sparse diff of pending changes: only changed keys
// appear, child-handled keys recurse into the child's own Update, and
// removed keys carry the Removed marker. Returns nil when nothing
// changed.
func (h *Holder) Update() Document {
	h.checkAlive("Update")
	ch := h.Changes()
	if !ch.IsChanged() {
		return nil
	}
	diff := Document{}
	for _, key := range ch.Added {
		diff[key] = cloneValue(h.staged[key])
	}
	for _, key := range ch.Updated {
		if child, isChild := h.ChildAt(key); isChild {
			if sub := child.Update(); sub != nil {
				diff[key] = sub
			}
			continue
		}
		diff[key] = cloneValue(h.staged[key])
	}
	for _, key := range ch.Removed {
		diff[key] = Removed
	}
	if len(diff) == 0 {
		return nil
	}
	return diff
}

// ApplyUpdate applies an externally produced sparse diff directly to
// the current view, bypassing staged. Sub-diffs are routed into
// children by key and the child factory is invoked for keys newly
// present with a document value. Keys carrying the Removed marker are
// deleted, destroying any child. A nil diff is a no-op. Pending staged
// edits are left untouched; keys with no pending edit have their staged
// value refreshed so the views stay consistent. Diff values whose shape
// conflicts with the local child topology are logged and skipped.
func (h *Holder) ApplyUpdate(diff Document) {
	h.checkAlive("ApplyUpdate")
	if diff == nil {
		return
	}
	for key, v := range diff {
		if child, isChild := h.ChildAt(key); isChild {
			if IsRemoved(v) {
				child.Destroy()
				delete(h.current, key)
				delete(h.staged, key)
				continue
			}
			if sub, isDoc := v.(Document); isDoc {
				child.ApplyUpdate(sub)
				continue
			}
			log.Warn().
				Str("key", key).
				Type("value_type", v).
				Msg("update diff conflicts with child topology, skipping key")
			continue
		}

		cur, inCurrent := h.current[key]
		stagedV, inStaged := h.staged[key]
		pendingEdit := inStaged && inCurrent && !equalValue(stagedV, cur)
		pendingAdd := inStaged && !inCurrent
		pendingRemoval := inCurrent && !inStaged

		if IsRemoved(v) {
			delete(h.current, key)
			if !pendingEdit && !pendingAdd {
				delete(h.staged, key)
			}
			continue
		}
		if doc, isDoc := v.(Document); isDoc && h.makeChild != nil && !inCurrent {
			h.install(key, h.makeChild(key, doc))
			continue
		}
		h.current[key] = cloneValue(v)
		if !pendingEdit && !pendingAdd && !pendingRemoval {
			h.staged[key] = cloneValue(v)
		}
	}
	h.invalidate()
}

// EachChild visits every committed Child in key order.
func (h *Holder) EachChild(fn func(key string, child Child)) {
	h.checkAlive("EachChild")
	for _, key := range h.Keys() {
		if child, ok := h.ChildAt(key); ok {
			fn(key, child)
		}
	}
}

// Destroy detaches and destroys all children, then blocks all further
// access to this holder.
func (h *Holder) Destroy() {
	if h.destroyed {
		return
	}
	for _, v := range h.current {
		if child, ok := v.(Child); ok {
			child.Destroy()
		}
	}
	h.current = nil
	h.staged = nil
	h.changes = nil
	h.destroyed = true
}

// Destroyed reports whether Destroy has been called.
func (h *Holder) Destroyed() bool {
	return h.destroyed
}

// Data returns a deep copy of the committed view with children
// flattened into plain documents, suitable for sending a full snapshot.
func (h *Holder) Data() Document {
	h.checkAlive("Data")
	out := Document{}
	for k, v := range h.current {
		if child, ok := v.(Child); ok {
			if snap, okSnap := child.(interface{ Data() Document }); okSnap {
				out[k] = snap.Data()
			}
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}
