// Package handlers provides HTTP and websocket request handlers
package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/findosh/mingle/internal/config"
	"github.com/findosh/mingle/internal/middleware"
	"github.com/findosh/mingle/internal/models"
	"github.com/findosh/mingle/internal/realtime"
	"github.com/findosh/mingle/internal/services/assignment"
	"github.com/findosh/mingle/internal/services/auth"
	"github.com/findosh/mingle/internal/services/lobby"
	"github.com/findosh/mingle/internal/services/matching"
	"github.com/findosh/mingle/internal/services/presence"
	"github.com/gorilla/websocket"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 64 << 10

// Handler contains all HTTP handlers and dependencies
type Handler struct {
	cfg          *config.Config
	authService  *auth.Service
	lobby        *lobby.Service
	leaderboards *lobby.Leaderboards
	presence     *presence.Manager
	assignments  *assignment.Engine
	matches      *matching.Protocol
	hub          *realtime.Hub
	upgrader     websocket.Upgrader
}

// New creates a new handler with all dependencies
func New(
	cfg *config.Config,
	authService *auth.Service,
	lobbyService *lobby.Service,
	leaderboards *lobby.Leaderboards,
	presenceManager *presence.Manager,
	assignments *assignment.Engine,
	matches *matching.Protocol,
	hub *realtime.Hub,
) *Handler {
	h := &Handler{
		cfg:          cfg,
		authService:  authService,
		lobby:        lobbyService,
		leaderboards: leaderboards,
		presence:     presenceManager,
		assignments:  assignments,
		matches:      matches,
		hub:          hub,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Routes registers every endpoint on a new mux
func (h *Handler) Routes(authMiddleware *middleware.Auth) *http.ServeMux {
	mux := http.NewServeMux()

	// Session lifecycle (host PIN in X-Host-PIN)
	mux.HandleFunc("POST /api/sessions", h.CreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", h.GetSession)
	mux.HandleFunc("POST /api/sessions/{id}/start", h.StartSession)
	mux.HandleFunc("POST /api/sessions/{id}/end", h.EndSession)
	mux.HandleFunc("GET /api/sessions/{id}/leaderboard", h.Leaderboard)

	// Presence
	mux.HandleFunc("POST /api/join", h.Join)
	mux.HandleFunc("GET /ws", h.WebSocket)

	// Player actions (require a player token)
	mux.Handle("POST /api/disconnect", authMiddleware.RequirePlayer(http.HandlerFunc(h.Disconnect)))
	mux.Handle("POST /api/profile", authMiddleware.RequirePlayer(http.HandlerFunc(h.SubmitProfile)))
	mux.Handle("POST /api/assignments", authMiddleware.RequirePlayer(http.HandlerFunc(h.RequestAssignment)))
	mux.Handle("POST /api/matches", authMiddleware.RequirePlayer(http.HandlerFunc(h.ConfirmMatch)))
	mux.Handle("POST /api/guesses/wrong", authMiddleware.RequirePlayer(http.HandlerFunc(h.WrongGuess)))

	return mux
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.cfg.AllowedOrigin == "" {
		return true
	}
	return r.Header.Get("Origin") == h.cfg.AllowedOrigin
}

// decode reads a JSON request body into v
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeJSON writes v as a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("handlers: failed to encode response: %v", err)
	}
}

// jsonError writes a JSON error response
func (h *Handler) jsonError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeError maps service errors to HTTP responses
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidPIN):
		h.jsonError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrSessionExpired):
		h.jsonError(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, models.ErrNotFound):
		h.jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, models.ErrStateConflict):
		h.jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, models.ErrInvalidInput):
		h.jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		log.Printf("handlers: %v", err)
		h.jsonError(w, "Internal server error", http.StatusInternalServerError)
	}
}
