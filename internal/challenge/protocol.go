// Package challenge coordinates two independent game clients through the
// remote store: one creates a five-digit challenge code, the other joins it,
// both play the identical seeded cone sequence, and each uploads its score
// and waits for the other's. The store is the only communication channel;
// there is no peer connection.
package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/identity"
	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/models"
	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/remote"
)

const (
	// Challenge codes are exactly five ASCII digits; the code doubles as
	// the game seed.
	codeMin = 10000
	codeMax = 99999

	// scoreWaitBudget bounds how long a client waits for the opponent's
	// score before defaulting it to zero.
	scoreWaitBudget   = 30 * time.Second
	scorePollInterval = 2 * time.Second
)

func sessionPath(code string) string { return "challenges/" + code }
func scoresPath(code string) string  { return sessionPath(code) + "/scores" }

// Protocol drives the challenge handshake for one local player.
type Protocol struct {
	store remote.Store
	ids   identity.Provider
	clock clockwork.Clock

	// newCode is swappable for deterministic tests.
	newCode func() int
}

// NewProtocol wires the protocol against a remote store and the local
// identity.
func NewProtocol(store remote.Store, ids identity.Provider) *Protocol {
	return &Protocol{
		store: store,
		ids:   ids,
		clock: clockwork.NewRealClock(),
		newCode: func() int {
			return codeMin + rand.IntN(codeMax-codeMin+1)
		},
	}
}

// Create allocates a new challenge code and publishes the session in the
// waiting state. Each call creates a fresh code; it is never idempotent.
// Fails when the local player is not signed in.
func (p *Protocol) Create(ctx context.Context) (string, error) {
	uid, ok := p.ids.UserID()
	if !ok {
		return "", ErrNotAuthenticated
	}

	// Codes are drawn blind from a 90k space, so collisions are rare but
	// possible. One re-roll keeps a live session from being overwritten
	// without turning creation into a scan.
	for attempt := 0; attempt < 2; attempt++ {
		seed := p.newCode()
		code := strconv.Itoa(seed)

		var existing models.ChallengeSession
		err := p.store.Get(ctx, sessionPath(code), &existing)
		if err == nil {
			log.Warn().Str("code", code).Msg("challenge code already in use, re-rolling")
			continue
		}
		if !errors.Is(err, remote.ErrNotFound) {
			return "", fmt.Errorf("check challenge code: %w", err)
		}

		sess := models.ChallengeSession{
			GameSeed:  seed,
			Status:    models.ChallengeStatusWaiting,
			CreatorID: uid,
		}
		if err := p.store.Set(ctx, sessionPath(code), sess); err != nil {
			return "", fmt.Errorf("create challenge session: %w", err)
		}

		log.Info().Str("code", code).Str("creator_id", uid).Msg("challenge created")
		return code, nil
	}
	return "", errors.New("could not allocate a free challenge code")
}

// Join validates the code against the remote session and claims the
// opponent slot, returning the shared game seed. Only a waiting session can
// be joined.
func (p *Protocol) Join(ctx context.Context, code string) (int, error) {
	uid, ok := p.ids.UserID()
	if !ok {
		return 0, ErrNotAuthenticated
	}

	var sess models.ChallengeSession
	err := p.store.Get(ctx, sessionPath(code), &sess)
	if errors.Is(err, remote.ErrNotFound) {
		return 0, ErrInvalidCode
	}
	if err != nil {
		return 0, fmt.Errorf("read challenge session: %w", err)
	}

	switch sess.Status {
	case models.ChallengeStatusWaiting:
	case models.ChallengeStatusActive:
		return 0, ErrChallengeInProgress
	default:
		return 0, ErrChallengeUnavailable
	}

	sess.Status = models.ChallengeStatusActive
	sess.OpponentID = uid
	if err := p.store.Set(ctx, sessionPath(code), sess); err != nil {
		return 0, fmt.Errorf("activate challenge session: %w", err)
	}

	log.Info().Str("code", code).Str("opponent_id", uid).Msg("challenge joined")
	return sess.GameSeed, nil
}

// WatchForOpponentJoin registers a one-shot observer on the session. The
// returned watch resolves exactly once, when the status turns active, and
// detaches its store subscription after firing, on error, and on Close.
func (p *Protocol) WatchForOpponentJoin(ctx context.Context, code string) (*JoinWatch, error) {
	sub, err := p.store.Watch(ctx, sessionPath(code))
	if err != nil {
		return nil, fmt.Errorf("watch challenge session: %w", err)
	}

	w := &JoinWatch{sub: sub, joined: make(chan models.ChallengeSession, 1)}
	go w.run(code)
	return w, nil
}

// UploadScore publishes the local player's final score under its own key.
// Idempotent per player: last write wins, with a server-assigned timestamp.
func (p *Protocol) UploadScore(ctx context.Context, code, playerID string, score int) error {
	now, err := p.store.ServerTime(ctx)
	if err != nil {
		return fmt.Errorf("read server time: %w", err)
	}
	entry := models.PlayerScore{Score: score, Timestamp: now.UnixMilli()}
	if err := p.store.Set(ctx, scoresPath(code)+"/"+playerID, entry); err != nil {
		return fmt.Errorf("upload score: %w", err)
	}

	log.Info().Str("code", code).Str("player_id", playerID).Int("score", score).Msg("score uploaded")
	return nil
}

// AwaitOpponentScore polls the session's scores until an entry keyed by a
// different player appears, then derives the final result. Score uploads
// arrive in no guaranteed order, so matching is by key, never by arrival.
// Read failures are treated as "not yet" and retried; when the wait budget
// runs out the opponent score defaults to zero. Cancel via ctx; a read that
// completes after cancellation is discarded.
func (p *Protocol) AwaitOpponentScore(ctx context.Context, code, selfID string, localScore int) (models.FinalResult, error) {
	deadline := p.clock.Now().Add(scoreWaitBudget)
	for {
		if entry, opponentID, found := p.findOpponentScore(ctx, code, selfID); found {
			if ctx.Err() != nil {
				return models.FinalResult{}, ctx.Err()
			}
			return models.FinalResult{
				LocalScore:    localScore,
				OpponentScore: entry.Score,
				OpponentName:  opponentID,
			}, nil
		}

		now := p.clock.Now()
		if !now.Before(deadline) {
			log.Warn().Str("code", code).Msg("opponent score not found within wait budget")
			return models.FinalResult{
				LocalScore:   localScore,
				OpponentName: p.opponentName(ctx, code, selfID),
			}, nil
		}

		wait := scorePollInterval
		if remaining := deadline.Sub(now); remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return models.FinalResult{}, ctx.Err()
		case <-p.clock.After(wait):
		}
	}
}

func (p *Protocol) findOpponentScore(ctx context.Context, code, selfID string) (models.PlayerScore, string, bool) {
	entries, err := p.store.List(ctx, scoresPath(code))
	if err != nil {
		log.Warn().Err(err).Str("code", code).Msg("score read failed, treating as not yet available")
		return models.PlayerScore{}, "", false
	}

	for playerID, raw := range entries {
		if playerID == selfID {
			continue
		}
		var entry models.PlayerScore
		if err := json.Unmarshal(raw, &entry); err != nil {
			log.Warn().Err(err).Str("code", code).Str("player_id", playerID).Msg("skipping malformed score entry")
			continue
		}
		return entry, playerID, true
	}
	return models.PlayerScore{}, "", false
}

// opponentName resolves the other party's id from the session record,
// best-effort: an empty name on a timed-out challenge is acceptable.
func (p *Protocol) opponentName(ctx context.Context, code, selfID string) string {
	var sess models.ChallengeSession
	if err := p.store.Get(ctx, sessionPath(code), &sess); err != nil {
		return ""
	}
	if sess.CreatorID == selfID {
		return sess.OpponentID
	}
	return sess.CreatorID
}

// JoinWatch is the one-shot observer handle returned by
// WatchForOpponentJoin. Read Joined for the single resolution; Close cancels
// an unresolved watch.
type JoinWatch struct {
	sub    remote.Subscription
	joined chan models.ChallengeSession
}

func (w *JoinWatch) run(code string) {
	defer close(w.joined)
	defer func() {
		if err := w.sub.Close(); err != nil {
			log.Warn().Err(err).Str("code", code).Msg("failed to detach join watch")
		}
	}()

	for raw := range w.sub.Changes() {
		var sess models.ChallengeSession
		if err := json.Unmarshal(raw, &sess); err != nil {
			log.Warn().Err(err).Str("code", code).Msg("skipping malformed session update")
			continue
		}
		if sess.Status != models.ChallengeStatusActive {
			continue
		}
		log.Info().Str("code", code).Str("opponent_id", sess.OpponentID).Msg("opponent joined")
		w.joined <- sess
		return
	}
}

// Joined yields the activated session exactly once; the channel is closed
// after resolution or when the watch is closed unresolved.
func (w *JoinWatch) Joined() <-chan models.ChallengeSession {
	return w.joined
}

// Close detaches the watch. Safe to call after resolution.
func (w *JoinWatch) Close() error {
	return w.sub.Close()
}
