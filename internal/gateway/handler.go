package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/challenge"
)

// Handler exposes the challenge operations over HTTP plus the websocket
// event stream.
type Handler struct {
	service *Service
	manager *ConnectionManager
}

// NewHandler creates the HTTP handler.
func NewHandler(service *Service, manager *ConnectionManager) *Handler {
	return &Handler{service: service, manager: manager}
}

// RegisterRoutes registers all gateway routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /challenges", h.handleCreate)
	mux.HandleFunc("POST /challenges/{code}/join", h.handleJoin)
	mux.HandleFunc("POST /challenges/{code}/score", h.handleScore)
	mux.HandleFunc("GET /ws/challenge", h.handleWebSocket)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	code, err := h.service.CreateChallenge(r.Context())
	if err != nil && code == "" {
		writeError(w, err)
		return
	}
	if err != nil {
		// Session created but the join watch could not attach.
		log.Warn().Err(err).Str("code", code).Msg("challenge created without join watch")
	}
	writeJSON(w, http.StatusCreated, map[string]string{"code": code})
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	seed, err := h.service.JoinChallenge(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"game_seed": seed})
}

func (h *Handler) handleScore(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")

	var req struct {
		Score           int     `json:"score"`
		DifficultyLevel float64 `json:"difficulty_level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.SubmitScore(r.Context(), code, req.Score, req.DifficultyLevel); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "waiting_for_opponent"})
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}
	playerID := r.URL.Query().Get("player_id")
	if playerID == "" {
		playerID = "anonymous"
	}

	if err := h.manager.UpgradeConnection(w, r, playerID, code); err != nil {
		log.Error().Err(err).Str("code", code).Msg("websocket upgrade failed")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError maps the protocol's precondition failures onto HTTP statuses,
// keeping their user-facing messages intact.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, challenge.ErrNotAuthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, challenge.ErrInvalidCode):
		status = http.StatusNotFound
	case errors.Is(err, challenge.ErrChallengeInProgress),
		errors.Is(err, challenge.ErrChallengeUnavailable):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
