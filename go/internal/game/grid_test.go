package game_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorhq/parlor/go/internal/datasync"
	"github.com/parlorhq/parlor/go/internal/game"
)

func newTestGame(slots int) *game.GridGame {
	return game.New(game.Config{
		Slots:        slots,
		TickInterval: 50 * time.Millisecond,
		Clock:        clockwork.NewFakeClock(),
		Seed:         1,
	})
}

func TestPlayerGroupReservation(t *testing.T) {
	g := newTestGame(2)
	players := g.Players()
	require.Equal(t, 2, players.TotalSlots())

	require.NoError(t, players.Reserve(0, "Ada"))
	assert.True(t, players.IsReserved(0))
	assert.ErrorIs(t, players.Reserve(0, "Bob"), game.ErrSlotUnavailable)

	require.NoError(t, players.Reserve(1, "Bob"))
	_, err := players.RandomFreeSlot(rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, game.ErrNoFreeSlots)

	players.Release(1)
	assert.False(t, players.IsReserved(1))
	assert.ElementsMatch(t, []string{"Ada"}, players.ReservedNames())
}

func TestReservedNamesIncludeCommittedAndStaged(t *testing.T) {
	g := newTestGame(3)
	players := g.Players()

	require.NoError(t, players.Reserve(0, "Ada"))
	g.Tick(nil) // commits the reservation
	require.NoError(t, players.Reserve(1, "Bob"))

	assert.ElementsMatch(t, []string{"Ada", "Bob"}, players.ReservedNames())

	slot, ok := players.Slot(0)
	require.True(t, ok)
	assert.True(t, slot.Occupied())
}

func TestTickProducesDiffConsumableByTwin(t *testing.T) {
	g := newTestGame(2)

	twin := game.New(game.Config{
		Slots:        2,
		TickInterval: 50 * time.Millisecond,
		Clock:        clockwork.NewFakeClock(),
		Seed:         1,
	})
	require.Empty(t, cmp.Diff(g.Data(), twin.Data()), "same seed, same board")

	char, ok := g.Character(0)
	require.True(t, ok)
	char.Set("dx", 1.0)

	g.Tick(nil)
	require.EqualValues(t, 1, g.TickNum())

	diff := g.Update()
	require.NotNil(t, diff)
	twin.ApplyUpdate(diff)
	assert.Empty(t, cmp.Diff(g.Data(), twin.Data()), "diff round-trips to an equal state")

	twin.ApplyUpdate(diff)
	assert.Empty(t, cmp.Diff(g.Data(), twin.Data()), "re-applying the diff changes nothing")
}

func TestCorrectionClampsToBoard(t *testing.T) {
	g := newTestGame(1)
	char, ok := g.Character(0)
	require.True(t, ok)

	char.Set("dx", -100.0)
	g.Tick(nil) // commits the velocity
	g.Tick(nil) // applies it, correction clamps

	x, _ := char.Get("x").(float64)
	assert.Equal(t, 0.0, x)
}

func TestRunStopIdempotent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := game.New(game.Config{Slots: 1, TickInterval: 100 * time.Millisecond, Clock: clock, Seed: 1})
	defer g.Destroy()

	ticks := make(chan struct{}, 16)
	g.Run(func() { ticks <- struct{}{} })
	g.Run(func() { t.Fatal("second Run must be a no-op while running") })
	require.True(t, g.IsRunning())

	clock.BlockUntil(1)
	clock.Advance(100 * time.Millisecond)
	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatal("tick callback never fired")
	}

	g.Stop()
	g.Stop()
	assert.False(t, g.IsRunning())
}

func TestDestroyBlocksTicks(t *testing.T) {
	g := newTestGame(1)
	g.Destroy()
	assert.NotPanics(t, func() { g.Tick(nil) }, "tick after destroy is ignored")
	assert.False(t, g.IsRunning())
}

func TestSetPlayerDataStagesOntoSlot(t *testing.T) {
	g := newTestGame(2)
	players := g.Players()
	require.NoError(t, players.Reserve(0, "Ada"))

	require.NoError(t, players.SetPlayerData(0, datasync.Document{"color": "teal"}))
	g.Tick(nil)

	slot, _ := players.Slot(0)
	assert.Equal(t, "teal", slot.Get("color"))
	assert.ErrorIs(t, players.SetPlayerData(9, nil), game.ErrNoSuchSlot)
}
