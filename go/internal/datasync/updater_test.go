package datasync_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/parlorhq/parlor/go/internal/datasync"
)

func TestRunPhaseVisitsChildrenDepthFirst(t *testing.T) {
	var order []string

	root := datasync.NewUpdater(nil)
	root.HandleChildren(func(key string, data datasync.Document) datasync.Child {
		child := datasync.NewUpdater(data)
		child.OnPhase("action", func(_ string, _ datasync.Document) {
			order = append(order, "child:"+key)
		})
		return child
	})
	root.OnPhase("action", func(_ string, _ datasync.Document) {
		order = append(order, "root")
	})
	root.OnAnyPhase(func(phase string, _ datasync.Document) {
		order = append(order, "any:"+phase)
	})

	root.Set("a", datasync.Document{})
	root.Set("b", datasync.Document{})
	root.Apply()

	root.RunPhase("action", nil)

	assert.Equal(t, []string{"child:a", "child:b", "root", "any:action"}, order,
		"children run before local callbacks, catch-all runs last")
}

func TestRunPhasePassesProps(t *testing.T) {
	var got datasync.Document
	u := datasync.NewUpdater(nil)
	u.OnPhase("correction", func(_ string, props datasync.Document) {
		got = props
	})

	u.RunPhase("correction", datasync.Document{"bounds": 4.0})
	assert.Equal(t, 4.0, got["bounds"])
}

func TestRunPhaseIgnoresUnregisteredPhase(t *testing.T) {
	u := datasync.NewUpdater(nil)
	assert.NotPanics(t, func() {
		u.RunPhase("reset", nil)
	})
}
