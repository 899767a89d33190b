package gateway

import "github.com/Geekomaniac1009/ARAgilityTrainer/internal/models"

// EventType tags a challenge lifecycle event pushed to clients.
type EventType string

const (
	EventOpponentJoined EventType = "opponent_joined"
	EventFinalResult    EventType = "final_result"
)

// Event is the JSON frame sent over the websocket.
type Event struct {
	Type    EventType `json:"type"`
	Code    string    `json:"code"`
	Payload any       `json:"payload,omitempty"`
}

// OpponentJoinedPayload announces that the challenge went active.
type OpponentJoinedPayload struct {
	OpponentID string `json:"opponent_id"`
	GameSeed   int    `json:"game_seed"`
}

// FinalResultPayload carries the locally derived challenge outcome.
type FinalResultPayload struct {
	PlayerID string             `json:"player_id"`
	Result   models.FinalResult `json:"result"`
}
