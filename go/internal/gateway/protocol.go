package gateway

import (
	"github.com/parlorhq/parlor/go/internal/datasync"
)

// Client-initiated event types.
const (
	EventAuthenticate = "authenticate"
	EventLoadGame     = "loadGame"
	EventStartGame    = "startGame"
	EventStopGame     = "stopGame"
	EventUpdatePlayer = "updatePlayer"
)

type authenticateRequest struct {
	SessionID string `json:"sessionID"`
	PublicID  string `json:"publicID"`
	Name      string `json:"name"`
}

type authenticateResponse struct {
	Error           *string `json:"error"`
	JoinRoomWarning string  `json:"joinRoomWarning,omitempty"`
	SessionID       string  `json:"sessionID"`
	PublicID        string  `json:"publicID"`
	IsHost          bool    `json:"isHost"`
}

type loadGameRequest struct {
	MapID        string   `json:"mapID"`
	IsOpen       *bool    `json:"isOpen"`
	IsLocalGame  *bool    `json:"isLocalGame"`
	TickInterval *float64 `json:"tickInterval"`
}

type loadGameResponse struct {
	Error        *string           `json:"error"`
	PlayerID     int               `json:"playerID"`
	GameData     datasync.Document `json:"gameData"`
	IsOpen       bool              `json:"isOpen"`
	IsLocalGame  bool              `json:"isLocalGame"`
	TickInterval float64           `json:"tickInterval"`
	TickNum      uint64            `json:"tickNum"`
}

type startGameRequest struct {
	Force bool `json:"force"`
}

type startGameResponse struct {
	Error              *string  `json:"error"`
	IsStarted          bool     `json:"isStarted"`
	WaitingPlayerNames []string `json:"waitingPlayerNames"`
}

type stopGameRequest struct {
	Type string `json:"type"`
}

type stopGameResponse struct {
	Error     *string `json:"error"`
	IsStopped bool    `json:"isStopped"`
}

type updatePlayerRequest struct {
	PlayerID   int               `json:"playerID"`
	PlayerData datasync.Document `json:"playerData"`
}

type updatePlayerResponse struct {
	Error *string `json:"error"`
}

// errString converts a handler error into the response error field:
// nil stays null, everything else becomes the error message. Handler
// errors never cross the socket boundary as anything but this string.
func errString(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}
