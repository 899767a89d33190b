// Package difficulty adapts the cone display timeout to recent player
// performance. A weighted average of recent reaction times is compared
// against a target band and the timeout is nudged toward it, clamped to a
// configured range. Only the adaptive single-player mode uses this;
// competitive games run on a fixed timeout.
package difficulty

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/models"
)

const (
	// window is how many of the most recent hits feed the average.
	window = 50
	// minSamples is the fewest qualifying hits worth adjusting on.
	minSamples = 10

	// Reaction times outside this range are sensor noise or an
	// interrupted player, not performance.
	minReactionTime = 0.2
	maxReactionTime = 15.0

	// baselineTime anchors the weighting: hits faster than this weigh
	// more, slower ones less, clamped so a single hit cannot dominate.
	baselineTime = 5.0
	minWeight    = 0.1
	maxWeight    = 5.0

	// The target band for the weighted average. Below targetFast the
	// player is clearly underchallenged; above targetSlow, overwhelmed.
	targetFast = 2.0
	targetMid  = 2.5
	targetSlow = 3.0
)

// Settings bound the timeout and size each adjustment step.
type Settings struct {
	MinTimeout       float64
	MaxTimeout       float64
	InitialTimeout   float64
	AdjustmentFactor float64
}

// DefaultSettings returns the tuning the trainer ships with.
func DefaultSettings() Settings {
	return Settings{
		MinTimeout:       1.5,
		MaxTimeout:       8.0,
		InitialTimeout:   5.0,
		AdjustmentFactor: 0.25,
	}
}

// HistoryStore is what the controller needs from local persistence.
type HistoryStore interface {
	SaveHitHistory(ctx context.Context, encoded string) error
	LoadHitHistory(ctx context.Context) (string, error)
	DeleteHitHistory(ctx context.Context) error
	SaveLastDifficulty(ctx context.Context, timeout float64) error
	LastDifficulty(ctx context.Context) (float64, bool, error)
}

// Controller owns the mutable difficulty state for one training session.
// It runs synchronously inside the per-frame update path and never blocks.
type Controller struct {
	settings Settings
	store    HistoryStore
	history  []models.HitRecord
	timeout  float64

	// adjusted is the history length at the last Adjust call; repeated
	// calls without new hits are no-ops.
	adjusted int
}

// NewController loads the persisted history and last difficulty, falling
// back to the initial timeout on first run.
func NewController(ctx context.Context, settings Settings, store HistoryStore) (*Controller, error) {
	encoded, err := store.LoadHitHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("load hit history: %w", err)
	}

	timeout := settings.InitialTimeout
	if last, ok, err := store.LastDifficulty(ctx); err != nil {
		return nil, fmt.Errorf("load last difficulty: %w", err)
	} else if ok {
		timeout = clamp(last, settings.MinTimeout, settings.MaxTimeout)
	}

	history := decodeHistory(encoded)
	return &Controller{
		settings: settings,
		store:    store,
		history:  history,
		timeout:  timeout,
		adjusted: len(history),
	}, nil
}

// Timeout is the current cone display duration in seconds. Always within
// [MinTimeout, MaxTimeout].
func (c *Controller) Timeout() float64 {
	return c.timeout
}

// HistoryLen reports how many hits the controller has seen, all sessions
// included.
func (c *Controller) HistoryLen() int {
	return len(c.history)
}

// RecordHit appends one cone touch to the history and persists it.
func (c *Controller) RecordHit(ctx context.Context, reactionTime float64, score int) error {
	c.history = append(c.history, models.HitRecord{ReactionTime: reactionTime, Score: score})
	if err := c.store.SaveHitHistory(ctx, encodeHistory(c.history)); err != nil {
		return fmt.Errorf("persist hit history: %w", err)
	}
	return nil
}

// Adjust recomputes the timeout from the most recent hits. Degenerate input
// (short history, everything filtered out, zero total weight) leaves the
// timeout unchanged; this is a tuning heuristic, not a correctness path.
// Deterministic given identical history and idempotent when no new hits
// arrive.
func (c *Controller) Adjust(ctx context.Context) {
	if len(c.history) == c.adjusted {
		return
	}
	c.adjusted = len(c.history)

	recent := c.history
	if len(recent) > window {
		recent = recent[len(recent)-window:]
	}

	var sumWeighted, sumWeights float64
	qualifying := 0
	for _, hit := range recent {
		if hit.ReactionTime < minReactionTime || hit.ReactionTime > maxReactionTime {
			continue
		}
		qualifying++
		weight := clamp(baselineTime/hit.ReactionTime, minWeight, maxWeight) * float64(hit.Score)
		sumWeighted += hit.ReactionTime * weight
		sumWeights += weight
	}
	if qualifying < minSamples || sumWeights == 0 {
		return
	}

	average := sumWeighted / sumWeights
	previous := c.timeout
	switch {
	case average < targetFast:
		c.timeout -= 2 * c.settings.AdjustmentFactor
	case average < targetMid:
		c.timeout -= c.settings.AdjustmentFactor
	case average > targetSlow:
		c.timeout += 2 * c.settings.AdjustmentFactor
	}
	c.timeout = clamp(c.timeout, c.settings.MinTimeout, c.settings.MaxTimeout)

	if c.timeout != previous {
		log.Debug().
			Float64("weighted_avg", average).
			Float64("timeout", c.timeout).
			Int("samples", qualifying).
			Msg("difficulty adjusted")
	}

	if err := c.store.SaveLastDifficulty(ctx, c.timeout); err != nil {
		// The next adjustment rewrites it.
		log.Warn().Err(err).Msg("failed to persist difficulty")
	}
}

// ResetHistory clears the accumulated hits, locally and in the store.
func (c *Controller) ResetHistory(ctx context.Context) error {
	c.history = nil
	c.adjusted = 0
	if err := c.store.DeleteHitHistory(ctx); err != nil {
		return fmt.Errorf("clear hit history: %w", err)
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
