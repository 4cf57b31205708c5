package lobby

import "github.com/parlorhq/parlor/go/internal/datasync"

// Event types pushed from room to session. Both require an
// acknowledgment from the receiving side.
const (
	EventGameTick = "gameTick"
	EventGameStop = "gameStop"
)

// Stop reasons carried by the gameStop event.
const (
	StopTypePause   = "pause"
	StopTypeWaiting = "waiting"
	StopTypeEnd     = "end"
)

// GameTickPayload is pushed once per advanced tick. GameData is nil
// when the tick is being held for sessions that have not yet
// acknowledged the previous one.
type GameTickPayload struct {
	TickNum            uint64            `json:"tickNum"`
	GameData           datasync.Document `json:"gameData"`
	WaitingPlayerNames []string          `json:"waitingPlayerNames"`
}

// GameStopPayload is pushed when the tick loop stops or a session is
// removed from the game.
type GameStopPayload struct {
	Type               string   `json:"type"`
	Reason             string   `json:"reason"`
	WaitingPlayerNames []string `json:"waitingPlayerNames"`
}
