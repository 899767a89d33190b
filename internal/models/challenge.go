package models

// ChallengeStatus defines the lifecycle state of a challenge session as
// stored remotely. The strings are part of the wire format.
type ChallengeStatus string

const (
	ChallengeStatusWaiting ChallengeStatus = "waiting"
	ChallengeStatusActive  ChallengeStatus = "active"
)

// ChallengeSession is the shared record at challenges/{code}. Its lifecycle
// is owned by the remote store; each client only holds a read/write view.
// The game seed doubles as the challenge code, so both players generate an
// identical cone sequence.
type ChallengeSession struct {
	GameSeed   int             `json:"gameSeed"`
	Status     ChallengeStatus `json:"status"`
	CreatorID  string          `json:"creatorId"`
	OpponentID string          `json:"opponentId,omitempty"`
}

// PlayerScore is one player's entry under challenges/{code}/scores/{playerId}.
// Last write wins per player; the timestamp is server-assigned.
type PlayerScore struct {
	Score     int   `json:"score"`
	Timestamp int64 `json:"timestamp"` // unix millis
}

// FinalResult is the locally computed outcome of a challenge. It is derived
// once the opponent's score arrives, or after the wait budget runs out, in
// which case the opponent score defaults to zero. Never persisted.
type FinalResult struct {
	LocalScore    int    `json:"local_score"`
	OpponentScore int    `json:"opponent_score"`
	OpponentName  string `json:"opponent_name"`
}
