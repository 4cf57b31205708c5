package transmit_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorhq/parlor/go/internal/transmit"
)

// pipeSocket is an in-memory Socket whose sends land in the peer's
// message channel.
type pipeSocket struct {
	in   chan []byte
	peer *pipeSocket
	done chan struct{}
	once sync.Once
}

func newSocketPair() (*pipeSocket, *pipeSocket) {
	a := &pipeSocket{in: make(chan []byte, 64), done: make(chan struct{})}
	b := &pipeSocket{in: make(chan []byte, 64), done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (s *pipeSocket) Send(data []byte) error {
	select {
	case <-s.done:
		return errors.New("socket closed")
	case <-s.peer.done:
		return errors.New("peer closed")
	default:
	}
	s.peer.in <- data
	return nil
}

func (s *pipeSocket) Messages() <-chan []byte { return s.in }
func (s *pipeSocket) Done() <-chan struct{}  { return s.done }

func (s *pipeSocket) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func TestTransmitResolvesWithAck(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a, b := newSocketPair()
	local := transmit.New(clock, a)
	remote := transmit.New(clock, b)
	defer local.Close()
	defer remote.Close()

	remote.On("ping", func(env transmit.Envelope) {
		var req map[string]any
		require.NoError(t, json.Unmarshal(env.Data, &req))
		env.Respond(map[string]any{"echo": req["n"]})
	})

	resp, err := local.Transmit(context.Background(), "ping", map[string]any{"n": 7.0}, time.Second, 0, 0)
	require.NoError(t, err)
	require.False(t, resp.Cancelled)

	var ack map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &ack))
	assert.Equal(t, 7.0, ack["echo"])
}

func TestSecondTransmitSupersedesFirst(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a, _ := newSocketPair()
	local := transmit.New(clock, a)
	defer local.Close()

	first := make(chan transmit.Response, 1)
	go func() {
		r, err := local.Transmit(context.Background(), "evt", nil, time.Minute, 0, 0)
		assert.NoError(t, err)
		first <- r
	}()
	clock.BlockUntil(1)

	second := make(chan transmit.Response, 1)
	go func() {
		r, err := local.Transmit(context.Background(), "evt", nil, time.Minute, 0, 0)
		assert.NoError(t, err)
		second <- r
	}()

	r1 := <-first
	assert.True(t, r1.Cancelled, "superseded wait resolves cancelled, never with live data")

	local.CancelWaiting("evt")
	r2 := <-second
	assert.True(t, r2.Cancelled)
}

func TestTransmitRetriesThenExhausts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a, _ := newSocketPair()
	local := transmit.New(clock, a)
	defer local.Close()

	const (
		timeout  = 100 * time.Millisecond
		interval = 50 * time.Millisecond
		retries  = 2
	)

	errCh := make(chan error, 1)
	go func() {
		_, err := local.Transmit(context.Background(), "evt", nil, timeout, retries, interval)
		errCh <- err
	}()

	for attempt := 0; attempt <= retries; attempt++ {
		clock.BlockUntil(1)
		clock.Advance(timeout)
		if attempt < retries {
			clock.BlockUntil(1)
			clock.Advance(interval)
		}
	}

	err := <-errCh
	require.ErrorIs(t, err, transmit.ErrAckTimeout)
}

func TestCancelWaitingForcesResolution(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a, _ := newSocketPair()
	local := transmit.New(clock, a)
	defer local.Close()

	got := make(chan transmit.Response, 1)
	go func() {
		r, err := local.Transmit(context.Background(), "roomEvent", nil, time.Minute, 5, time.Second)
		assert.NoError(t, err)
		got <- r
	}()
	clock.BlockUntil(1)

	local.CancelWaiting("roomEvent")
	r := <-got
	assert.True(t, r.Cancelled)
}

func TestCancelAllWaiting(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a, _ := newSocketPair()
	local := transmit.New(clock, a)
	defer local.Close()

	gotA := make(chan transmit.Response, 1)
	gotB := make(chan transmit.Response, 1)
	go func() {
		r, _ := local.Transmit(context.Background(), "evtA", nil, time.Minute, 0, 0)
		gotA <- r
	}()
	go func() {
		r, _ := local.Transmit(context.Background(), "evtB", nil, time.Minute, 0, 0)
		gotB <- r
	}()
	clock.BlockUntil(2)

	local.CancelAllWaiting()
	assert.True(t, (<-gotA).Cancelled)
	assert.True(t, (<-gotB).Cancelled)
}

func TestSetSocketPreservesInflightAndHandlers(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a1, _ := newSocketPair()
	local := transmit.New(clock, a1)
	defer local.Close()

	handlerFired := make(chan struct{}, 1)
	local.On("hello", func(env transmit.Envelope) {
		handlerFired <- struct{}{}
		env.Respond(map[string]any{"error": nil})
	})

	const (
		timeout  = 100 * time.Millisecond
		interval = 10 * time.Millisecond
	)
	got := make(chan transmit.Response, 1)
	go func() {
		r, err := local.Transmit(context.Background(), "evt", nil, timeout, 3, interval)
		assert.NoError(t, err)
		got <- r
	}()
	clock.BlockUntil(1)

	// Reconnect: swap in a fresh socket whose far side acknowledges.
	a2, b2 := newSocketPair()
	remote := transmit.New(clock, b2)
	defer remote.Close()
	remote.On("evt", func(env transmit.Envelope) {
		env.Respond(map[string]any{"ok": true})
	})
	local.SetSocket(a2)

	// First attempt times out on the dead socket, retry lands on the
	// new one.
	clock.Advance(timeout)
	clock.BlockUntil(1)
	clock.Advance(interval)

	r := <-got
	require.False(t, r.Cancelled, "in-flight transmit resolves across a socket swap")

	// Handlers registered before the swap still fire afterwards.
	_, err := remote.Transmit(context.Background(), "hello", nil, time.Second, 0, 0)
	require.NoError(t, err)
	<-handlerFired
}

func TestOnceHandlerFiresOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a, b := newSocketPair()
	local := transmit.New(clock, a)
	remote := transmit.New(clock, b)
	defer local.Close()
	defer remote.Close()

	var mu sync.Mutex
	count := 0
	remote.Once("poke", func(env transmit.Envelope) {
		mu.Lock()
		count++
		mu.Unlock()
		env.Respond(nil)
	})
	remote.On("poke", func(env transmit.Envelope) {
		env.Respond(nil)
	})

	for i := 0; i < 3; i++ {
		_, err := local.Transmit(context.Background(), "poke", nil, time.Second, 0, 0)
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestDisconnectEventDelivered(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a, b := newSocketPair()
	local := transmit.New(clock, a)
	defer local.Close()

	disconnected := make(chan struct{})
	local.On(transmit.Disconnect, func(transmit.Envelope) {
		close(disconnected)
	})

	require.NoError(t, b.Close())
	require.NoError(t, a.Close())

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("disconnect event never delivered")
	}
}
