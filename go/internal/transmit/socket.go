package transmit

import (
	"encoding/json"
	"errors"
)

var errUnexpectedFrame = errors.New("transmit: not an event frame")

// Socket is one bidirectional message pipe. The gateway implements it
// over a websocket connection; tests implement it in memory.
type Socket interface {
	// Send writes one message to the peer.
	Send(data []byte) error
	// Messages yields inbound messages. The channel is closed when the
	// socket disconnects.
	Messages() <-chan []byte
	// Done is closed when the socket disconnects for any reason.
	Done() <-chan struct{}
	// Close tears the socket down. Safe to call more than once.
	Close() error
}

const (
	kindEvent = "evt"
	kindAck   = "ack"
)

// frame is the wire envelope. Every event frame is acknowledged by an
// ack frame carrying the same event type and sequence number.
type frame struct {
	Kind  string          `json:"kind"`
	Event string          `json:"event"`
	Seq   uint64          `json:"seq"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Disconnect is the synthetic event type delivered to handlers when
// the underlying socket drops.
const Disconnect = "disconnect"

// ParseEvent decodes a raw message as an application event frame. Used
// for handshake traffic read before a socket is attached to a
// Transmitter.
func ParseEvent(msg []byte) (event string, seq uint64, data json.RawMessage, err error) {
	var f frame
	if err = json.Unmarshal(msg, &f); err != nil {
		return "", 0, nil, err
	}
	if f.Kind != kindEvent {
		return "", 0, nil, errUnexpectedFrame
	}
	return f.Event, f.Seq, f.Data, nil
}

// Ack encodes the acknowledgment for an event obtained via ParseEvent.
func Ack(event string, seq uint64, resp any) ([]byte, error) {
	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return json.Marshal(frame{Kind: kindAck, Event: event, Seq: seq, Data: payload})
}
