// Package session holds the per-game state the engine layer drives: mode,
// score, the deterministic cone sequence and the difficulty feedback loop.
// A challenge's seed makes two sessions on two devices deal out identical
// cone placements.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/difficulty"
)

// Mode selects how the cone timeout behaves during a game.
type Mode int

const (
	// ModeAdaptive lets the difficulty controller tune the timeout after
	// every hit. Single-player training only.
	ModeAdaptive Mode = iota
	// ModeCompetitive runs with a fixed timeout so both challenge players
	// face the same game.
	ModeCompetitive
)

// Cone is one target to place on the detected plane: a normalized position
// in [-1, 1]² (the engine scales it to the playfield) and its point value.
type Cone struct {
	X      float64
	Z      float64
	Points int
}

// Config describes one game.
type Config struct {
	Mode Mode
	// Seed drives cone placement. In competitive mode this is the
	// challenge code, shared by both players.
	Seed int
	// FixedTimeout is the cone display duration in competitive mode.
	FixedTimeout float64
}

// Session is the explicit game context handed to gameplay code in place of
// any ambient global. Owned by a single goroutine; never shared.
type Session struct {
	cfg  Config
	rng  *rand.Rand
	diff *difficulty.Controller

	score int
	hits  int
}

// New creates a session. Adaptive mode requires a difficulty controller;
// competitive mode ignores it.
func New(cfg Config, diff *difficulty.Controller) (*Session, error) {
	if cfg.Mode == ModeAdaptive && diff == nil {
		return nil, errors.New("adaptive session needs a difficulty controller")
	}
	if cfg.Mode == ModeCompetitive && cfg.FixedTimeout <= 0 {
		return nil, fmt.Errorf("competitive session needs a positive fixed timeout, got %v", cfg.FixedTimeout)
	}
	return &Session{
		cfg:  cfg,
		rng:  rand.New(rand.NewPCG(uint64(cfg.Seed), 0)),
		diff: diff,
	}, nil
}

// ConeTimeout is how long the next cone stays touchable.
func (s *Session) ConeTimeout() float64 {
	if s.cfg.Mode == ModeCompetitive {
		return s.cfg.FixedTimeout
	}
	return s.diff.Timeout()
}

// NextCone deals the next target. The sequence is a pure function of the
// seed, so both challenge players see the same cones in the same order.
func (s *Session) NextCone() Cone {
	x := s.rng.Float64()*2 - 1
	z := s.rng.Float64()*2 - 1
	points := 1
	// Every fourth cone or so is a double-value target.
	if s.rng.IntN(4) == 0 {
		points = 2
	}
	return Cone{X: x, Z: z, Points: points}
}

// RegisterHit scores one touched cone and, in adaptive mode, feeds the
// difficulty loop.
func (s *Session) RegisterHit(ctx context.Context, reactionTime float64, points int) error {
	s.hits++
	s.score += points

	if s.cfg.Mode != ModeAdaptive {
		return nil
	}
	if err := s.diff.RecordHit(ctx, reactionTime, points); err != nil {
		return err
	}
	s.diff.Adjust(ctx)
	return nil
}

// Score is the accumulated point total.
func (s *Session) Score() int {
	return s.score
}

// Hits is how many cones have been touched this game.
func (s *Session) Hits() int {
	return s.hits
}

// Seed returns the placement seed the session was dealt from.
func (s *Session) Seed() int {
	return s.cfg.Seed
}
