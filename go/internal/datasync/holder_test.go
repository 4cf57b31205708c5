package datasync_test

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorhq/parlor/go/internal/datasync"
)

func newTreeHolder() *datasync.Holder {
	h := datasync.NewHolder(nil)
	h.HandleChildren(func(_ string, data datasync.Document) datasync.Child {
		child := datasync.NewHolder(data)
		return child
	})
	return h
}

func TestStagedAndCurrentViews(t *testing.T) {
	h := datasync.NewHolder(datasync.Document{"hp": 10.0})

	h.Set("hp", 12.0)
	assert.Equal(t, 10.0, h.Get("hp"), "reads of the public accessor return current")
	assert.Equal(t, 12.0, h.GetStaged("hp"))
	assert.True(t, h.IsChanged())

	h.Apply()
	assert.Equal(t, 12.0, h.Get("hp"))
	assert.False(t, h.IsChanged())
}

func TestApplyDropNoopWithoutWrites(t *testing.T) {
	h := datasync.NewHolder(datasync.Document{"hp": 10.0, "name": "rook"})

	h.Apply()
	h.Drop()
	assert.False(t, h.IsChanged())
	assert.Nil(t, h.Update())

	h.Drop()
	h.Apply()
	assert.False(t, h.IsChanged())
	assert.Equal(t, 10.0, h.Get("hp"))
	assert.Equal(t, "rook", h.Get("name"))
}

func TestApplyIsIdempotent(t *testing.T) {
	h := datasync.NewHolder(nil)
	h.Set("score", 3.0)

	h.Apply()
	require.Nil(t, h.Update())
	h.Apply()
	assert.Nil(t, h.Update())
	assert.Equal(t, 3.0, h.Get("score"))
}

func TestDropDiscardsStagedEdits(t *testing.T) {
	h := datasync.NewHolder(datasync.Document{"hp": 10.0})
	h.Set("hp", 1.0)
	h.Set("new", "x")

	h.Drop()
	assert.False(t, h.IsChanged())
	assert.Equal(t, 10.0, h.GetStaged("hp"))
	assert.Nil(t, h.GetStaged("new"))
}

func TestDiffRoundTrip(t *testing.T) {
	src := newTreeHolder()
	twin := newTreeHolder()

	// Added plain key and added child.
	src.Set("round", 1.0)
	src.Set("pos", datasync.Document{"x": 1.0, "y": 2.0})
	diff := src.Update()
	require.NotNil(t, diff)
	src.Apply()
	twin.ApplyUpdate(diff)
	require.Empty(t, cmp.Diff(src.Data(), twin.Data()))

	_, isChild := src.ChildAt("pos")
	require.True(t, isChild, "committed document key becomes a child")
	_, isChild = twin.ChildAt("pos")
	require.True(t, isChild, "diff consumer installs the same child")

	// Re-applying the same diff produces no further change.
	twin.ApplyUpdate(diff)
	assert.Empty(t, cmp.Diff(src.Data(), twin.Data()))

	// Update through the child.
	child, _ := src.ChildAt("pos")
	child.Set("x", 7.0)
	diff = src.Update()
	require.NotNil(t, diff)
	src.Apply()
	twin.ApplyUpdate(diff)
	assert.Empty(t, cmp.Diff(src.Data(), twin.Data()))

	// Removal of the child-handled key.
	src.Remove("pos")
	diff = src.Update()
	require.NotNil(t, diff)
	src.Apply()
	twin.ApplyUpdate(diff)
	assert.Empty(t, cmp.Diff(src.Data(), twin.Data()))
	assert.False(t, twin.Has("pos"))
}

func TestDiffPreservesNullValues(t *testing.T) {
	src := datasync.NewHolder(nil)
	twin := datasync.NewHolder(nil)

	src.Set("note", nil)
	diff := src.Update()
	require.NotNil(t, diff)
	src.Apply()
	twin.ApplyUpdate(diff)

	assert.True(t, twin.Has("note"), "a null value is a value, not a removal")
	assert.Nil(t, twin.Get("note"))
	assert.Empty(t, cmp.Diff(src.Data(), twin.Data()))
}

func TestRemovalSurvivesJSONEncoding(t *testing.T) {
	src := newTreeHolder()
	twin := newTreeHolder()

	src.Set("hp", 10.0)
	src.Set("note", nil)
	src.Set("pos", datasync.Document{"x": 1.0})
	twin.ApplyUpdate(src.Update())
	src.Apply()

	src.Remove("hp")
	src.Remove("pos")
	raw, err := json.Marshal(src.Update())
	require.NoError(t, err)
	src.Apply()

	var decoded datasync.Document
	require.NoError(t, json.Unmarshal(raw, &decoded))
	twin.ApplyUpdate(decoded)

	assert.False(t, twin.Has("hp"))
	assert.False(t, twin.Has("pos"))
	assert.True(t, twin.Has("note"))
	assert.Empty(t, cmp.Diff(src.Data(), twin.Data()))
}

func TestUpdateOmitsUnchangedSubtrees(t *testing.T) {
	h := newTreeHolder()
	h.Set("a", datasync.Document{"v": 1.0})
	h.Set("b", datasync.Document{"v": 2.0})
	h.Apply()

	childA, _ := h.ChildAt("a")
	childA.Set("v", 10.0)

	diff := h.Update()
	require.NotNil(t, diff)
	assert.Contains(t, diff, "a")
	assert.NotContains(t, diff, "b", "unaffected subtree is omitted entirely")
}

func TestUpdateNilWhenUnchanged(t *testing.T) {
	h := datasync.NewHolder(datasync.Document{"hp": 10.0})
	assert.Nil(t, h.Update())
}

func TestSetForwardsDocumentIntoChild(t *testing.T) {
	h := newTreeHolder()
	h.Set("pos", datasync.Document{"x": 1.0})
	h.Apply()

	h.Set("pos", datasync.Document{"x": 9.0})
	child, ok := h.ChildAt("pos")
	require.True(t, ok, "child reference survives a document write")
	ch, isHolder := child.(*datasync.Holder)
	require.True(t, isHolder)
	assert.Equal(t, 9.0, ch.GetStaged("x"))
	assert.Equal(t, 1.0, ch.Get("x"))
}

func TestApplyUpdateToleratesTopologySkew(t *testing.T) {
	h := newTreeHolder()
	h.Set("pos", datasync.Document{"x": 1.0})
	h.Apply()

	// Non-document value for a child-handled key is logged and skipped.
	h.ApplyUpdate(datasync.Document{"pos": "bogus"})
	child, ok := h.ChildAt("pos")
	require.True(t, ok)
	assert.Equal(t, 1.0, child.(*datasync.Holder).Get("x"))
}

func TestApplyUpdateNilIsNoop(t *testing.T) {
	h := datasync.NewHolder(datasync.Document{"hp": 10.0})
	h.ApplyUpdate(nil)
	assert.Equal(t, 10.0, h.Get("hp"))
}

func TestApplyUpdatePreservesPendingStagedEdits(t *testing.T) {
	h := datasync.NewHolder(datasync.Document{"hp": 10.0})
	h.Set("hp", 99.0)

	h.ApplyUpdate(datasync.Document{"hp": 50.0})
	assert.Equal(t, 50.0, h.Get("hp"), "diff lands in current")
	assert.Equal(t, 99.0, h.GetStaged("hp"), "pending staged edit is untouched")
}

func TestSetRejectsUnsupportedShapes(t *testing.T) {
	h := datasync.NewHolder(nil)
	assert.Panics(t, func() {
		h.Set("bad", struct{ X int }{1})
	})
	assert.Panics(t, func() {
		h.Set("bad", make(chan int))
	})
}

func TestSetRejectsPlainWriteToChildKey(t *testing.T) {
	h := newTreeHolder()
	h.Set("pos", datasync.Document{"x": 1.0})
	h.Apply()

	assert.Panics(t, func() {
		h.Set("pos", 5.0)
	})

	child, ok := h.ChildAt("pos")
	require.True(t, ok, "child survives the rejected write")
	assert.Equal(t, 1.0, child.(*datasync.Holder).Get("x"))
}

func TestDestroyBlocksAccess(t *testing.T) {
	h := newTreeHolder()
	h.Set("pos", datasync.Document{"x": 1.0})
	h.Apply()
	child, _ := h.ChildAt("pos")

	h.Destroy()
	assert.True(t, h.Destroyed())
	assert.True(t, child.(*datasync.Holder).Destroyed(), "destruction cascades to children")
	assert.Panics(t, func() { h.Get("pos") })
	assert.Panics(t, func() { h.Set("pos", 1.0) })
	assert.Panics(t, func() { h.Apply() })
}
