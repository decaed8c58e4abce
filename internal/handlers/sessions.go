package handlers

import (
	"net/http"

	"github.com/findosh/mingle/internal/models"
	"github.com/findosh/mingle/internal/services/lobby"
)

type createSessionRequest struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	MaxPlayers int               `json:"max_players"`
	Questions  []models.Question `json:"questions"`
	HostPIN    string            `json:"host_pin"`
}

// CreateSession creates a new waiting session
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.lobby.Create(r.Context(), lobby.CreateInput{
		ID:         req.ID,
		Name:       req.Name,
		MaxPlayers: req.MaxPlayers,
		Questions:  req.Questions,
		HostPIN:    req.HostPIN,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, session)
}

// GetSession returns a session
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.lobby.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

// StartSession moves a session from waiting to playing
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.lobby.Start(r.Context(), r.PathValue("id"), r.Header.Get("X-Host-PIN"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

// EndSession ends a session
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.lobby.End(r.Context(), r.PathValue("id"), r.Header.Get("X-Host-PIN"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

// Leaderboard returns the current standings of a session
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := h.leaderboards.Leaderboard(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, board)
}
