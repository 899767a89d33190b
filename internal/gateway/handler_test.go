package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/challenge"
	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/history"
	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/identity"
	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/remote/memstore"
)

// newTestMux builds a full gateway for one player. Two muxes sharing a store
// model two game clients talking through the same remote backend.
func newTestMux(playerID string, store *memstore.Store) *http.ServeMux {
	ids := identity.Static(playerID)
	protocol := challenge.NewProtocol(store, ids)
	manager := NewConnectionManager(DefaultConnectionConfig())
	service := NewService(protocol, history.NewRecorder(store), manager, ids)

	mux := http.NewServeMux()
	NewHandler(service, manager).RegisterRoutes(mux)
	return mux
}

func TestCreateAndJoinChallengeOverHTTP(t *testing.T) {
	store := memstore.New()
	creatorMux := newTestMux("creator", store)
	joinerMux := newTestMux("opponent", store)

	rec := httptest.NewRecorder()
	creatorMux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/challenges", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body)
	}
	var created struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if len(created.Code) != 5 {
		t.Fatalf("code = %q, want 5 digits", created.Code)
	}

	rec = httptest.NewRecorder()
	joinerMux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/challenges/"+created.Code+"/join", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("join status = %d, body %s", rec.Code, rec.Body)
	}
	var joined struct {
		GameSeed int `json:"game_seed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &joined); err != nil {
		t.Fatalf("decode join response: %v", err)
	}
	wantSeed, err := strconv.Atoi(created.Code)
	if err != nil {
		t.Fatalf("code is not numeric: %q", created.Code)
	}
	if joined.GameSeed != wantSeed {
		t.Fatalf("seed = %d, want %d (the code itself)", joined.GameSeed, wantSeed)
	}

	// A third client cannot join the now-active challenge.
	rec = httptest.NewRecorder()
	newTestMux("late", store).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/challenges/"+created.Code+"/join", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("late join status = %d, want 409", rec.Code)
	}
}

func TestJoinMissingChallengeMapsTo404(t *testing.T) {
	mux := newTestMux("opponent", memstore.New())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/challenges/99999/join", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error != "Invalid Challenge Code." {
		t.Fatalf("error = %q", body.Error)
	}
}

func TestCreateUnauthenticatedMapsTo401(t *testing.T) {
	mux := newTestMux("", memstore.New()) // signed out

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/challenges", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestScoreRejectsBadBody(t *testing.T) {
	mux := newTestMux("player", memstore.New())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/challenges/12345/score", strings.NewReader("{"))
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWebSocketRequiresCode(t *testing.T) {
	mux := newTestMux("player", memstore.New())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/challenge", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
