package models

// HitRecord is one successfully touched cone: how long the player took to
// reach it and how many points it was worth. Records are immutable once
// written and accumulate in an unbounded per-player history.
type HitRecord struct {
	ReactionTime float64 `json:"reaction_time"` // seconds
	Score        int     `json:"score"`         // 1 or 2
}

// GameRecord is one finished game as archived under
// game_history/{userId}/{autoId} in the remote store.
type GameRecord struct {
	Score           int     `json:"score"`
	DifficultyLevel float64 `json:"difficultyLevel"`
	Timestamp       int64   `json:"timestamp"` // unix millis, server-assigned
}
