// Package relay publishes lifecycle events to NATS so external
// consumers (dashboards, matchmaking, analytics) can observe the
// server without participating in the game protocol.
package relay

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Subjects published by the server.
const (
	SubjectSessionCreated   = "parlor.session.created"
	SubjectSessionDestroyed = "parlor.session.destroyed"
	SubjectRoomCreated      = "parlor.room.created"
	SubjectRoomDestroyed    = "parlor.room.destroyed"
	SubjectGameStarted      = "parlor.game.started"
	SubjectGameStopped      = "parlor.game.stopped"
)

// Publisher emits one lifecycle event. Implementations must be safe
// for concurrent use and must never block the caller on broker
// trouble.
type Publisher interface {
	Publish(subject string, payload any)
	Close()
}

// Nop discards every event. Used when no NATS URL is configured.
type Nop struct{}

func (Nop) Publish(string, any) {}
func (Nop) Close()              {}

// NATS publishes events as JSON messages on a NATS connection.
type NATS struct {
	conn *nats.Conn
}

// Connect dials the NATS server at url.
func Connect(url string) (*NATS, error) {
	conn, err := nats.Connect(url,
		nats.Name("parlor-relay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &NATS{conn: conn}, nil
}

// Publish marshals payload and fires it at subject. Failures are
// logged, never propagated; the relay is observability, not state.
func (n *NATS) Publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("marshal relay event")
		return
	}
	if err := n.conn.Publish(subject, data); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("publish relay event")
	}
}

// Close drains the connection.
func (n *NATS) Close() {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
	}
}
