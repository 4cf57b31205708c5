package transmit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

var (
	// ErrAckTimeout is returned when every send attempt went
	// unacknowledged.
	ErrAckTimeout = errors.New("transmit: acknowledgment timed out")
	// ErrClosed is returned for operations on a closed transmitter.
	ErrClosed = errors.New("transmit: transmitter closed")
	// ErrNoSocket is returned when a send is attempted with no socket
	// attached.
	ErrNoSocket = errors.New("transmit: no socket attached")
)

// Envelope is one inbound application event. Respond sends the
// acknowledgment the remote Transmit call is waiting on.
type Envelope struct {
	Event   string
	Data    json.RawMessage
	Respond func(resp any)
}

// Handler consumes inbound envelopes.
type Handler func(env Envelope)

// Response is the outcome of a Transmit call. Cancelled is set when the
// wait was superseded by a newer Transmit of the same event type or
// force-resolved by CancelWaiting.
type Response struct {
	Data      json.RawMessage
	Cancelled bool
}

type handlerEntry struct {
	id   int
	fn   Handler
	once bool
}

// pendingWait tracks one in-flight Transmit. At most one exists per
// event type; a newer call closes cancelCh on the older one.
type pendingWait struct {
	seq      uint64
	ackCh    chan json.RawMessage
	cancelCh chan struct{}
}

// Transmitter wraps one bidirectional socket, converting raw messages
// into typed envelopes and providing send-and-await-acknowledgment with
// timeout, bounded retry and cancellation. The socket can be hot-swapped
// on reconnect without losing registered handlers or in-flight waits.
type Transmitter struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	socket   Socket
	gen      uint64
	handlers map[string][]*handlerEntry
	nextID   int
	pending  map[string]*pendingWait
	seq      uint64
	closed   bool
}

// New returns a Transmitter bound to sock. sock may be nil; attach one
// later with SetSocket.
func New(clock clockwork.Clock, sock Socket) *Transmitter {
	t := &Transmitter{
		clock:    clock,
		handlers: make(map[string][]*handlerEntry),
		pending:  make(map[string]*pendingWait),
	}
	if sock != nil {
		t.SetSocket(sock)
	}
	return t
}

// On registers a handler for the given event type and returns an id
// usable with Off.
func (t *Transmitter) On(event string, fn Handler) int {
	return t.register(event, fn, false)
}

// Once registers a handler that is removed after its first invocation.
func (t *Transmitter) Once(event string, fn Handler) int {
	return t.register(event, fn, true)
}

func (t *Transmitter) register(event string, fn Handler, once bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	t.handlers[event] = append(t.handlers[event], &handlerEntry{id: t.nextID, fn: fn, once: once})
	return t.nextID
}

// Off removes the handler with the given id from the event type.
func (t *Transmitter) Off(event string, id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := t.handlers[event]
	for i, e := range entries {
		if e.id == id {
			t.handlers[event] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// OffAll removes every handler for the event type.
func (t *Transmitter) OffAll(event string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, event)
}

// SetSocket hot-swaps the underlying transport. The old socket is
// detached and disconnected; registered handlers and in-flight Transmit
// calls carry over to the new socket.
func (t *Transmitter) SetSocket(sock Socket) {
	t.mu.Lock()
	old := t.socket
	t.gen++
	gen := t.gen
	t.socket = sock
	t.mu.Unlock()

	if old != nil && old != sock {
		_ = old.Close()
	}
	if sock != nil {
		go t.readLoop(sock, gen)
	}
}

func (t *Transmitter) currentSocket() (Socket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	if t.socket == nil {
		return nil, ErrNoSocket
	}
	return t.socket, nil
}

// Transmit sends one event and awaits its acknowledgment. The wait
// times out after timeout; on timeout or transport error the send is
// retried up to retryCount additional times, pausing retryInterval
// between attempts. Starting a new Transmit for an event type that
// already has one in flight resolves the older call with a cancelled
// response: at most one in-flight request exists per event type.
func (t *Transmitter) Transmit(ctx context.Context, event string, data any, timeout time.Duration, retryCount int, retryInterval time.Duration) (Response, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return Response{}, fmt.Errorf("transmit %q: marshal: %w", event, err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return Response{}, ErrClosed
	}
	if prev, ok := t.pending[event]; ok {
		close(prev.cancelCh)
		delete(t.pending, event)
	}
	t.seq++
	pw := &pendingWait{
		seq:      t.seq,
		ackCh:    make(chan json.RawMessage, 1),
		cancelCh: make(chan struct{}),
	}
	t.pending[event] = pw
	t.mu.Unlock()

	msg, err := json.Marshal(frame{Kind: kindEvent, Event: event, Seq: pw.seq, Data: payload})
	if err != nil {
		t.abandon(event, pw)
		return Response{}, fmt.Errorf("transmit %q: marshal frame: %w", event, err)
	}

	attempts := retryCount + 1
	for attempt := 0; attempt < attempts; attempt++ {
		sock, sockErr := t.currentSocket()
		sendErr := sockErr
		if sendErr == nil {
			sendErr = sock.Send(msg)
		}

		if sendErr == nil {
			timer := t.clock.NewTimer(timeout)
			select {
			case ack := <-pw.ackCh:
				stopAndDrainTimer(timer)
				return Response{Data: ack}, nil
			case <-pw.cancelCh:
				stopAndDrainTimer(timer)
				return Response{Cancelled: true}, nil
			case <-ctx.Done():
				stopAndDrainTimer(timer)
				t.abandon(event, pw)
				return Response{}, ctx.Err()
			case <-timer.Chan():
				log.Debug().
					Str("event", event).
					Int("attempt", attempt+1).
					Msg("acknowledgment timed out")
			}
		} else {
			log.Debug().
				Err(sendErr).
				Str("event", event).
				Int("attempt", attempt+1).
				Msg("send failed")
		}

		if attempt == attempts-1 {
			break
		}
		timer := t.clock.NewTimer(retryInterval)
		select {
		case ack := <-pw.ackCh:
			// A late acknowledgment during backoff still wins.
			stopAndDrainTimer(timer)
			return Response{Data: ack}, nil
		case <-pw.cancelCh:
			stopAndDrainTimer(timer)
			return Response{Cancelled: true}, nil
		case <-ctx.Done():
			stopAndDrainTimer(timer)
			t.abandon(event, pw)
			return Response{}, ctx.Err()
		case <-timer.Chan():
		}
	}

	t.abandon(event, pw)
	return Response{}, fmt.Errorf("transmit %q after %d attempts: %w", event, attempts, ErrAckTimeout)
}

// abandon removes pw from the pending map if it is still the current
// wait for the event type. A superseded wait must never disturb the
// wait that replaced it.
func (t *Transmitter) abandon(event string, pw *pendingWait) {
	t.mu.Lock()
	if t.pending[event] == pw {
		delete(t.pending, event)
	}
	t.mu.Unlock()
}

// CancelWaiting force-resolves the pending wait for one event type with
// a cancelled response.
func (t *Transmitter) CancelWaiting(event string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pw, ok := t.pending[event]; ok {
		close(pw.cancelCh)
		delete(t.pending, event)
	}
}

// CancelAllWaiting force-resolves every pending wait. Used when the
// caller context is torn down, e.g. a session leaving a room while a
// room-scoped event is outstanding.
func (t *Transmitter) CancelAllWaiting() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for event, pw := range t.pending {
		close(pw.cancelCh)
		delete(t.pending, event)
	}
}

// Close cancels all waits and disconnects the socket. Further Transmit
// calls return ErrClosed.
func (t *Transmitter) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	sock := t.socket
	t.socket = nil
	for event, pw := range t.pending {
		close(pw.cancelCh)
		delete(t.pending, event)
	}
	t.mu.Unlock()
	if sock != nil {
		_ = sock.Close()
	}
}

func (t *Transmitter) readLoop(sock Socket, gen uint64) {
	for {
		select {
		case msg, ok := <-sock.Messages():
			if !ok {
				t.handleDisconnect(gen)
				return
			}
			t.dispatch(msg)
		case <-sock.Done():
			t.handleDisconnect(gen)
			return
		}
	}
}

func (t *Transmitter) dispatch(msg []byte) {
	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		log.Warn().Err(err).Msg("dropping malformed frame")
		return
	}

	switch f.Kind {
	case kindAck:
		t.mu.Lock()
		pw := t.pending[f.Event]
		if pw == nil || pw.seq != f.Seq {
			// Stale ack for a superseded or abandoned wait.
			t.mu.Unlock()
			return
		}
		delete(t.pending, f.Event)
		t.mu.Unlock()
		pw.ackCh <- f.Data

	case kindEvent:
		seq := f.Seq
		event := f.Event
		env := Envelope{
			Event: event,
			Data:  f.Data,
			Respond: func(resp any) {
				t.sendAck(event, seq, resp)
			},
		}
		t.deliver(env)

	default:
		log.Warn().Str("kind", f.Kind).Msg("dropping frame of unknown kind")
	}
}

func (t *Transmitter) sendAck(event string, seq uint64, resp any) {
	payload, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("marshal ack response")
		return
	}
	msg, err := json.Marshal(frame{Kind: kindAck, Event: event, Seq: seq, Data: payload})
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("marshal ack frame")
		return
	}
	sock, err := t.currentSocket()
	if err != nil {
		return
	}
	if err := sock.Send(msg); err != nil {
		log.Debug().Err(err).Str("event", event).Msg("send ack failed")
	}
}

// deliver runs the handlers registered for env.Event, removing
// once-handlers first.
func (t *Transmitter) deliver(env Envelope) {
	t.mu.Lock()
	entries := t.handlers[env.Event]
	run := make([]*handlerEntry, len(entries))
	copy(run, entries)
	kept := entries[:0]
	for _, e := range entries {
		if !e.once {
			kept = append(kept, e)
		}
	}
	t.handlers[env.Event] = kept
	t.mu.Unlock()

	if len(run) == 0 {
		log.Debug().Str("event", env.Event).Msg("no handler for event")
		return
	}
	for _, e := range run {
		e.fn(env)
	}
}

func (t *Transmitter) handleDisconnect(gen uint64) {
	t.mu.Lock()
	stale := t.gen != gen || t.closed
	t.mu.Unlock()
	if stale {
		// A newer socket has already taken over.
		return
	}
	t.deliver(Envelope{Event: Disconnect, Respond: func(any) {}})
}

// stopAndDrainTimer stops a timer and drains its channel so an already
// fired timer cannot leak a stray value into a later select.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
