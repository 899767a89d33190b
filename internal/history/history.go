// Package history archives finished games to the remote store under
// game_history/{userId}/{autoId}, one append-only record per game.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/models"
	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/remote"
)

// Recorder writes and reads a player's game archive.
type Recorder struct {
	store remote.Store
}

// NewRecorder wires the recorder against the remote store.
func NewRecorder(store remote.Store) *Recorder {
	return &Recorder{store: store}
}

func userPath(userID string) string {
	return "game_history/" + userID
}

// Record appends one finished game. The entry key is store-generated so
// concurrent devices of the same account never collide.
func (r *Recorder) Record(ctx context.Context, userID string, score int, difficultyLevel float64) error {
	now, err := r.store.ServerTime(ctx)
	if err != nil {
		return fmt.Errorf("read server time: %w", err)
	}
	record := models.GameRecord{
		Score:           score,
		DifficultyLevel: difficultyLevel,
		Timestamp:       now.UnixMilli(),
	}

	path := userPath(userID) + "/" + r.store.NewChildKey()
	if err := r.store.Set(ctx, path, record); err != nil {
		return fmt.Errorf("archive game record: %w", err)
	}

	log.Info().Str("user_id", userID).Int("score", score).Msg("game archived")
	return nil
}

// Games returns the player's archived games, oldest first. Malformed entries
// are skipped, never fatal.
func (r *Recorder) Games(ctx context.Context, userID string) ([]models.GameRecord, error) {
	entries, err := r.store.List(ctx, userPath(userID))
	if err != nil {
		return nil, fmt.Errorf("list game history: %w", err)
	}

	records := make([]models.GameRecord, 0, len(entries))
	for key, raw := range entries {
		var record models.GameRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Str("entry", key).Msg("skipping malformed game record")
			continue
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp < records[j].Timestamp
	})
	return records, nil
}
