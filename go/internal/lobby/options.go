package lobby

import "time"

// Options tunes the delivery and eviction behavior shared by every
// room and session.
type Options struct {
	// TransmitTimeout bounds each outbound room-to-session send.
	TransmitTimeout time.Duration
	// RetryCount is the number of additional send attempts after the
	// first times out.
	RetryCount int
	// RetryInterval is the pause between send attempts.
	RetryInterval time.Duration
	// MaxWaitingTicks is how many consecutive ticks a session may hold
	// the room (previous tick still unacknowledged) before it is
	// evicted.
	MaxWaitingTicks int
	// SessionLifetime is the expiry window reset by Touch.
	SessionLifetime time.Duration
	// GCInterval is the session garbage collection sweep period.
	GCInterval time.Duration
}

// DefaultOptions returns the production tuning.
func DefaultOptions() Options {
	return Options{
		TransmitTimeout: 5 * time.Second,
		RetryCount:      2,
		RetryInterval:   time.Second,
		MaxWaitingTicks: 10,
		SessionLifetime: 30 * time.Minute,
		GCInterval:      time.Minute,
	}
}
