package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/challenge"
	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/history"
	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/identity"
)

// joinWaitBudget bounds how long an unjoined challenge keeps its store
// subscription before the watch is detached.
const joinWaitBudget = 10 * time.Minute

// Service bridges the challenge protocol and the connected clients: it runs
// the protocol's waits in the background and pushes their outcomes as
// websocket events.
type Service struct {
	protocol *challenge.Protocol
	recorder *history.Recorder
	manager  *ConnectionManager
	ids      identity.Provider
	clock    clockwork.Clock
}

// NewService wires the gateway service.
func NewService(protocol *challenge.Protocol, recorder *history.Recorder, manager *ConnectionManager, ids identity.Provider) *Service {
	return &Service{
		protocol: protocol,
		recorder: recorder,
		manager:  manager,
		ids:      ids,
		clock:    clockwork.NewRealClock(),
	}
}

// CreateChallenge creates a session and starts the one-shot join watch;
// when the opponent arrives, subscribers on the code get an
// opponent_joined event.
func (s *Service) CreateChallenge(ctx context.Context) (string, error) {
	code, err := s.protocol.Create(ctx)
	if err != nil {
		return "", err
	}

	// The watch must outlive the request: the opponent joins long after
	// this handler has returned.
	watch, err := s.protocol.WatchForOpponentJoin(context.WithoutCancel(ctx), code)
	if err != nil {
		// The session exists; the creator can still poll by re-joining
		// the websocket. Surface the watch failure regardless.
		return code, fmt.Errorf("watch for opponent: %w", err)
	}

	go func() {
		defer watch.Close()
		select {
		case sess, ok := <-watch.Joined():
			if !ok {
				return
			}
			s.manager.Broadcast(Event{
				Type: EventOpponentJoined,
				Code: code,
				Payload: OpponentJoinedPayload{
					OpponentID: sess.OpponentID,
					GameSeed:   sess.GameSeed,
				},
			})
		case <-s.clock.After(joinWaitBudget):
			log.Info().Str("code", code).Msg("no opponent joined, detaching watch")
		}
	}()

	return code, nil
}

// JoinChallenge claims the opponent slot and returns the shared seed.
func (s *Service) JoinChallenge(ctx context.Context, code string) (int, error) {
	return s.protocol.Join(ctx, code)
}

// SubmitScore uploads the local player's score, archives the game, and
// starts the background wait for the opponent's score. The eventual final
// result is pushed as a websocket event.
func (s *Service) SubmitScore(ctx context.Context, code string, score int, difficultyLevel float64) error {
	playerID, ok := s.ids.UserID()
	if !ok {
		return challenge.ErrNotAuthenticated
	}

	if err := s.protocol.UploadScore(ctx, code, playerID, score); err != nil {
		return err
	}
	if err := s.recorder.Record(ctx, playerID, score, difficultyLevel); err != nil {
		// Archival is best-effort; the challenge outcome matters more.
		log.Warn().Err(err).Str("player_id", playerID).Msg("failed to archive game")
	}

	go func() {
		// Detached from the request; the poll budget bounds its lifetime.
		result, err := s.protocol.AwaitOpponentScore(context.Background(), code, playerID, score)
		if err != nil {
			log.Warn().Err(err).Str("code", code).Msg("wait for opponent score abandoned")
			return
		}
		s.manager.Broadcast(Event{
			Type:    EventFinalResult,
			Code:    code,
			Payload: FinalResultPayload{PlayerID: playerID, Result: result},
		})
	}()

	return nil
}
