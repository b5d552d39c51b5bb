package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/mafia/go/internal/game/orchestrator"
	"github.com/mcdev12/mafia/go/internal/lobby"
	"github.com/mcdev12/mafia/go/internal/matchmaking"
	"github.com/mcdev12/mafia/go/internal/models"
)

// Queue is the matchmaking surface exposed over HTTP.
type Queue interface {
	AddPlayer(ctx context.Context, qp models.QueuePlayer) (string, error)
	RemovePlayer(ctx context.Context, userID string) bool
	Position(userID string) (models.GameMode, int, bool)
	Stats() matchmaking.Stats
}

// Lobbies is the lobby surface exposed over HTTP.
type Lobbies interface {
	PlayerReady(ctx context.Context, lobbyID, userID string) bool
	PlayerLeave(ctx context.Context, lobbyID, userID string) bool
	Get(lobbyID string) (lobby.View, bool)
}

// Games serves per-player game views.
type Games interface {
	GetStateFor(gameID, playerID string) (orchestrator.PlayerView, error)
}

// Profiles loads the matchmaking profile of an authenticated user.
type Profiles interface {
	GetProfile(ctx context.Context, userID string) (models.PlayerProfile, error)
}

// Verifier resolves a bearer token to a user id.
type Verifier interface {
	Verify(token string) (string, error)
}

// Handler serves the JSON API next to the websocket gateway.
type Handler struct {
	queue    Queue
	lobbies  Lobbies
	games    Games
	profiles Profiles
	verifier Verifier
}

func NewHandler(queue Queue, lobbies Lobbies, games Games, profiles Profiles, verifier Verifier) *Handler {
	return &Handler{
		queue:    queue,
		lobbies:  lobbies,
		games:    games,
		profiles: profiles,
		verifier: verifier,
	}
}

// RegisterRoutes registers the API on r.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet)

	authed := r.NewRoute().Subrouter()
	authed.Use(h.authenticate)
	authed.HandleFunc("/matchmaking/join", h.HandleJoin).Methods(http.MethodPost)
	authed.HandleFunc("/matchmaking/join", h.HandleLeaveQueue).Methods(http.MethodDelete)
	authed.HandleFunc("/matchmaking/status", h.HandleQueueStatus).Methods(http.MethodGet)
	authed.HandleFunc("/matchmaking/stats", h.HandleQueueStats).Methods(http.MethodGet)
	authed.HandleFunc("/lobbies/{lobbyID}", h.HandleGetLobby).Methods(http.MethodGet)
	authed.HandleFunc("/lobbies/{lobbyID}/ready", h.HandleReady).Methods(http.MethodPost)
	authed.HandleFunc("/lobbies/{lobbyID}/leave", h.HandleLeaveLobby).Methods(http.MethodPost)
	authed.HandleFunc("/games/{gameID}/state", h.HandleGameState).Methods(http.MethodGet)
}

type userKey struct{}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userKey{}).(string)
	return id
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		id, err := h.verifier.Verify(strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, id)))
	})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type joinRequest struct {
	Mode               models.GameMode `json:"mode"`
	PreferredLanguages []string        `json:"preferred_languages"`
	PartyID            string          `json:"party_id"`
	InviteCode         string          `json:"invite_code"`
}

// HandleJoin handles POST /matchmaking/join
func (h *Handler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Mode == "" {
		req.Mode = models.GameModeQuick
	}

	uid := userID(r)
	profile, err := h.profiles.GetProfile(r.Context(), uid)
	if err != nil {
		log.Error().Err(err).Str("user_id", uid).Msg("failed to load profile for matchmaking")
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}

	status, err := h.queue.AddPlayer(r.Context(), models.QueuePlayer{
		Profile:            profile,
		Mode:               req.Mode,
		PreferredLanguages: req.PreferredLanguages,
		PartyID:            req.PartyID,
		InviteCode:         req.InviteCode,
	})
	switch {
	case errors.Is(err, matchmaking.ErrPlayerBanned):
		writeError(w, http.StatusForbidden, err.Error())
		return
	case errors.Is(err, matchmaking.ErrUnknownMode):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		log.Warn().Err(err).Str("user_id", uid).Msg("lobby hand-off failed after join")
	}

	resp := map[string]any{"status": status}
	if status == matchmaking.Queued {
		if mode, pos, ok := h.queue.Position(uid); ok {
			resp["mode"] = mode
			resp["position"] = pos
		}
	} else {
		resp["lobby_id"] = status
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleLeaveQueue handles DELETE /matchmaking/join
func (h *Handler) HandleLeaveQueue(w http.ResponseWriter, r *http.Request) {
	if !h.queue.RemovePlayer(r.Context(), userID(r)) {
		writeError(w, http.StatusNotFound, "not in queue")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleQueueStatus handles GET /matchmaking/status
func (h *Handler) HandleQueueStatus(w http.ResponseWriter, r *http.Request) {
	mode, pos, ok := h.queue.Position(userID(r))
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"queued": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queued": true, "mode": mode, "position": pos})
}

// HandleQueueStats handles GET /matchmaking/stats
func (h *Handler) HandleQueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.queue.Stats())
}

// HandleGetLobby handles GET /lobbies/{lobbyID}
func (h *Handler) HandleGetLobby(w http.ResponseWriter, r *http.Request) {
	view, ok := h.lobbies.Get(mux.Vars(r)["lobbyID"])
	if !ok || !inLobby(view, userID(r)) {
		writeError(w, http.StatusNotFound, "lobby not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleReady handles POST /lobbies/{lobbyID}/ready
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	if !h.lobbies.PlayerReady(r.Context(), mux.Vars(r)["lobbyID"], userID(r)) {
		writeError(w, http.StatusNotFound, "lobby not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

// HandleLeaveLobby handles POST /lobbies/{lobbyID}/leave
func (h *Handler) HandleLeaveLobby(w http.ResponseWriter, r *http.Request) {
	if !h.lobbies.PlayerLeave(r.Context(), mux.Vars(r)["lobbyID"], userID(r)) {
		writeError(w, http.StatusNotFound, "lobby not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGameState handles GET /games/{gameID}/state
func (h *Handler) HandleGameState(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["gameID"]
	view, err := h.games.GetStateFor(gameID, userID(r))
	if errors.Is(err, orchestrator.ErrGameNotFound) {
		writeError(w, http.StatusNotFound, "game not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("game_id", gameID).Msg("failed to get game state")
		writeError(w, http.StatusInternalServerError, "failed to get game state")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func inLobby(view lobby.View, userID string) bool {
	for _, id := range view.Lobby.PlayerIDs() {
		if id == userID {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
