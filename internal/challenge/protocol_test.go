package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/identity"
	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/models"
	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/remote"
	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/remote/memstore"
)

func newTestProtocol(store remote.Store, playerID string, clock clockwork.Clock) *Protocol {
	p := NewProtocol(store, identity.Static(playerID))
	p.clock = clock
	return p
}

func fixedCodes(codes ...int) func() int {
	i := 0
	return func() int {
		code := codes[i%len(codes)]
		i++
		return code
	}
}

func TestCreateRequiresSignIn(t *testing.T) {
	p := newTestProtocol(memstore.New(), "", clockwork.NewFakeClock())
	if _, err := p.Create(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("Create without identity: err = %v, want ErrNotAuthenticated", err)
	}
}

func TestCreateWritesWaitingSession(t *testing.T) {
	store := memstore.New()
	p := newTestProtocol(store, "creator", clockwork.NewFakeClock())
	p.newCode = fixedCodes(12345)

	code, err := p.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if code != "12345" {
		t.Fatalf("code = %q, want 12345", code)
	}

	var sess models.ChallengeSession
	if err := store.Get(context.Background(), "challenges/12345", &sess); err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	want := models.ChallengeSession{
		GameSeed:  12345,
		Status:    models.ChallengeStatusWaiting,
		CreatorID: "creator",
	}
	if sess != want {
		t.Fatalf("session = %+v, want %+v", sess, want)
	}
}

func TestCreateRerollsOnCodeCollision(t *testing.T) {
	store := memstore.New()
	taken := models.ChallengeSession{GameSeed: 11111, Status: models.ChallengeStatusWaiting, CreatorID: "other"}
	if err := store.Set(context.Background(), "challenges/11111", taken); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	p := newTestProtocol(store, "creator", clockwork.NewFakeClock())
	p.newCode = fixedCodes(11111, 22222)

	code, err := p.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if code != "22222" {
		t.Fatalf("code = %q, want re-rolled 22222", code)
	}

	var untouched models.ChallengeSession
	if err := store.Get(context.Background(), "challenges/11111", &untouched); err != nil || untouched.CreatorID != "other" {
		t.Fatalf("existing session was overwritten: %+v, %v", untouched, err)
	}
}

func TestJoin(t *testing.T) {
	tests := []struct {
		name    string
		status  models.ChallengeStatus
		exists  bool
		wantErr error
	}{
		{"nonexistent code", "", false, ErrInvalidCode},
		{"active challenge", models.ChallengeStatusActive, true, ErrChallengeInProgress},
		{"finished challenge", "finished", true, ErrChallengeUnavailable},
		{"waiting challenge", models.ChallengeStatusWaiting, true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memstore.New()
			if tt.exists {
				sess := models.ChallengeSession{GameSeed: 54321, Status: tt.status, CreatorID: "creator"}
				if err := store.Set(context.Background(), "challenges/54321", sess); err != nil {
					t.Fatalf("seed store: %v", err)
				}
			}

			p := newTestProtocol(store, "opponent", clockwork.NewFakeClock())
			seed, err := p.Join(context.Background(), "54321")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Join err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Join: %v", err)
			}
			if seed != 54321 {
				t.Fatalf("seed = %d, want 54321", seed)
			}

			var sess models.ChallengeSession
			if err := store.Get(context.Background(), "challenges/54321", &sess); err != nil {
				t.Fatalf("read session: %v", err)
			}
			if sess.Status != models.ChallengeStatusActive || sess.OpponentID != "opponent" {
				t.Fatalf("session after join = %+v", sess)
			}
		})
	}
}

func TestJoinErrorMessages(t *testing.T) {
	// The strings are shown to players verbatim.
	if got := ErrInvalidCode.Error(); got != "Invalid Challenge Code." {
		t.Fatalf("invalid code message = %q", got)
	}
	if got := ErrChallengeInProgress.Error(); got != "Challenge is already in progress." {
		t.Fatalf("in-progress message = %q", got)
	}
}

func TestJoinRequiresSignIn(t *testing.T) {
	p := newTestProtocol(memstore.New(), "", clockwork.NewFakeClock())
	if _, err := p.Join(context.Background(), "12345"); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("Join without identity: err = %v, want ErrNotAuthenticated", err)
	}
}

func TestWatchForOpponentJoinFiresExactlyOnce(t *testing.T) {
	store := memstore.New()
	creator := newTestProtocol(store, "creator", clockwork.NewFakeClock())
	creator.newCode = fixedCodes(33333)

	code, err := creator.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	watch, err := creator.WatchForOpponentJoin(context.Background(), code)
	if err != nil {
		t.Fatalf("WatchForOpponentJoin: %v", err)
	}
	defer watch.Close()

	joiner := newTestProtocol(store, "opponent", clockwork.NewFakeClock())
	if _, err := joiner.Join(context.Background(), code); err != nil {
		t.Fatalf("Join: %v", err)
	}

	select {
	case sess := <-watch.Joined():
		if sess.OpponentID != "opponent" {
			t.Fatalf("joined session = %+v", sess)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch never fired")
	}

	// The watch detaches after firing: a later rewrite of the session must
	// not produce a second event, and the channel drains closed.
	sess := models.ChallengeSession{GameSeed: 33333, Status: models.ChallengeStatusActive, CreatorID: "creator", OpponentID: "someone-else"}
	if err := store.Set(context.Background(), "challenges/"+code, sess); err != nil {
		t.Fatalf("rewrite session: %v", err)
	}
	select {
	case extra, ok := <-watch.Joined():
		if ok {
			t.Fatalf("watch fired twice: %+v", extra)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("joined channel never closed after firing")
	}
}

func TestWatchForOpponentJoinSeesEarlierJoin(t *testing.T) {
	store := memstore.New()
	creator := newTestProtocol(store, "creator", clockwork.NewFakeClock())
	creator.newCode = fixedCodes(55555)

	code, err := creator.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// The opponent joins before the creator's watch is in place; the
	// current value delivered on subscribe covers the gap.
	joiner := newTestProtocol(store, "opponent", clockwork.NewFakeClock())
	if _, err := joiner.Join(context.Background(), code); err != nil {
		t.Fatalf("Join: %v", err)
	}

	watch, err := creator.WatchForOpponentJoin(context.Background(), code)
	if err != nil {
		t.Fatalf("WatchForOpponentJoin: %v", err)
	}
	defer watch.Close()

	select {
	case sess := <-watch.Joined():
		if sess.OpponentID != "opponent" {
			t.Fatalf("joined session = %+v", sess)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch missed a join that preceded it")
	}
}

func TestWatchForOpponentJoinIgnoresNonActiveUpdates(t *testing.T) {
	store := memstore.New()
	p := newTestProtocol(store, "creator", clockwork.NewFakeClock())
	p.newCode = fixedCodes(44444)

	code, err := p.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	watch, err := p.WatchForOpponentJoin(context.Background(), code)
	if err != nil {
		t.Fatalf("WatchForOpponentJoin: %v", err)
	}
	defer watch.Close()

	// Touch the session without activating it.
	sess := models.ChallengeSession{GameSeed: 44444, Status: models.ChallengeStatusWaiting, CreatorID: "creator"}
	if err := store.Set(context.Background(), "challenges/"+code, sess); err != nil {
		t.Fatalf("rewrite session: %v", err)
	}

	select {
	case got := <-watch.Joined():
		t.Fatalf("watch fired on a waiting update: %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUploadScoreLastWriteWins(t *testing.T) {
	store := memstore.New()
	p := newTestProtocol(store, "player-1", clockwork.NewFakeClock())

	if err := p.UploadScore(context.Background(), "12345", "player-1", 5); err != nil {
		t.Fatalf("UploadScore: %v", err)
	}
	if err := p.UploadScore(context.Background(), "12345", "player-1", 9); err != nil {
		t.Fatalf("UploadScore (rewrite): %v", err)
	}

	entries, err := store.List(context.Background(), "challenges/12345/scores")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("score entries = %d, want 1", len(entries))
	}
	var entry models.PlayerScore
	if err := json.Unmarshal(entries["player-1"], &entry); err != nil {
		t.Fatalf("unmarshal score: %v", err)
	}
	if entry.Score != 9 {
		t.Fatalf("score = %d, want last write 9", entry.Score)
	}
}

func TestAwaitOpponentScoreMatchesByKeyNotOrder(t *testing.T) {
	for _, selfFirst := range []bool{true, false} {
		store := memstore.New()
		p := newTestProtocol(store, "self", clockwork.NewFakeClock())

		uploads := []struct {
			player string
			score  int
		}{{"self", 7}, {"rival", 11}}
		if !selfFirst {
			uploads[0], uploads[1] = uploads[1], uploads[0]
		}
		for _, u := range uploads {
			if err := p.UploadScore(context.Background(), "12345", u.player, u.score); err != nil {
				t.Fatalf("UploadScore: %v", err)
			}
		}

		result, err := p.AwaitOpponentScore(context.Background(), "12345", "self", 7)
		if err != nil {
			t.Fatalf("AwaitOpponentScore: %v", err)
		}
		want := models.FinalResult{LocalScore: 7, OpponentScore: 11, OpponentName: "rival"}
		if result != want {
			t.Fatalf("result = %+v, want %+v (selfFirst=%v)", result, want, selfFirst)
		}
	}
}

func TestAwaitOpponentScoreTimesOutAtBudget(t *testing.T) {
	store := memstore.New()
	clock := clockwork.NewFakeClock()
	p := newTestProtocol(store, "self", clock)

	if err := p.UploadScore(context.Background(), "12345", "self", 5); err != nil {
		t.Fatalf("UploadScore: %v", err)
	}

	type outcome struct {
		result models.FinalResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := p.AwaitOpponentScore(context.Background(), "12345", "self", 5)
		done <- outcome{result, err}
	}()

	// 15 poll sleeps of 2s span the whole 30s budget; the call must not
	// resolve before the last one elapses.
	for i := 0; i < 15; i++ {
		clock.BlockUntil(1)
		select {
		case out := <-done:
			t.Fatalf("resolved after %ds: %+v", i*2, out)
		default:
		}
		clock.Advance(2 * time.Second)
	}

	select {
	case out := <-done:
		if out.err != nil {
			t.Fatalf("AwaitOpponentScore: %v", out.err)
		}
		if out.result.OpponentScore != 0 || out.result.LocalScore != 5 {
			t.Fatalf("timeout result = %+v, want opponent score 0", out.result)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("never resolved after budget elapsed")
	}
}

// flakyStore fails List a fixed number of times before delegating.
type flakyStore struct {
	*memstore.Store
	failures int
}

func (f *flakyStore) List(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("transient read failure")
	}
	return f.Store.List(ctx, path)
}

func TestAwaitOpponentScoreRetriesThroughReadFailures(t *testing.T) {
	store := &flakyStore{Store: memstore.New(), failures: 3}
	clock := clockwork.NewFakeClock()
	p := newTestProtocol(store, "self", clock)

	if err := p.UploadScore(context.Background(), "12345", "rival", 4); err != nil {
		t.Fatalf("UploadScore: %v", err)
	}

	done := make(chan models.FinalResult, 1)
	go func() {
		result, err := p.AwaitOpponentScore(context.Background(), "12345", "self", 8)
		if err != nil {
			t.Errorf("AwaitOpponentScore: %v", err)
		}
		done <- result
	}()

	for i := 0; i < 3; i++ {
		clock.BlockUntil(1)
		clock.Advance(scorePollInterval)
	}

	select {
	case result := <-done:
		if result.OpponentScore != 4 {
			t.Fatalf("result = %+v, want opponent score 4", result)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("never recovered from transient failures")
	}
}

func TestAwaitOpponentScoreCancellation(t *testing.T) {
	store := memstore.New()
	clock := clockwork.NewFakeClock()
	p := newTestProtocol(store, "self", clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.AwaitOpponentScore(ctx, "12345", "self", 5)
		done <- err
	}()

	clock.BlockUntil(1)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancellation did not abandon the wait")
	}
}
