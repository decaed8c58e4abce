package handlers

import (
	"errors"
	"net/http"

	"github.com/findosh/mingle/internal/middleware"
	"github.com/findosh/mingle/internal/services/assignment"
	"github.com/findosh/mingle/internal/services/auth"
	"github.com/findosh/mingle/internal/services/matching"
	"github.com/findosh/mingle/internal/services/presence"
	"github.com/google/uuid"
)

type joinRequest struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
	Token     string `json:"token"` // reconnect token from an earlier join
}

// Join joins or rejoins a session without opening a socket. The returned
// token lets the client open /ws or call the player endpoints.
func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !h.decode(w, r, &req) {
		return
	}

	prior, name, err := h.resolvePrior(req.SessionID, req.Name, req.Token)
	if err != nil {
		h.writeError(w, err)
		return
	}

	snapshot, err := h.presence.JoinOrReconnect(r.Context(), presence.JoinInput{
		SessionID:     req.SessionID,
		Name:          name,
		PriorPlayerID: prior,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusCreated
	if snapshot.Reconnected {
		status = http.StatusOK
	}
	h.writeJSON(w, status, snapshot)
}

// Disconnect marks the calling player disconnected
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	player := middleware.GetPlayer(r)
	if err := h.presence.Disconnect(r.Context(), player.PlayerID, ""); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type profileRequest struct {
	Answers map[string]string `json:"answers"`
}

// SubmitProfile stores the calling player's answers
func (h *Handler) SubmitProfile(w http.ResponseWriter, r *http.Request) {
	player := middleware.GetPlayer(r)
	var req profileRequest
	if !h.decode(w, r, &req) {
		return
	}

	profile, err := h.lobby.SubmitProfile(r.Context(), player.SessionID, player.PlayerID, req.Answers)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"profile": profile})
}

type assignmentRequest struct {
	SkipID string `json:"skip_id"`
}

// RequestAssignment hands the calling player the next profile to find
func (h *Handler) RequestAssignment(w http.ResponseWriter, r *http.Request) {
	player := middleware.GetPlayer(r)
	var req assignmentRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}

	skip := uuid.Nil
	if req.SkipID != "" {
		parsed, err := uuid.Parse(req.SkipID)
		if err != nil {
			h.jsonError(w, "Invalid skip_id", http.StatusBadRequest)
			return
		}
		skip = parsed
	}

	result, err := h.assignments.Request(r.Context(), player.SessionID, player.PlayerID, skip)
	if errors.Is(err, assignment.ErrExhausted) {
		h.writeJSON(w, http.StatusOK, map[string]interface{}{"exhausted": true})
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

type matchRequest struct {
	FoundID string `json:"found_id"`
	Proof   string `json:"proof"`
}

// ConfirmMatch records that the calling player found someone
func (h *Handler) ConfirmMatch(w http.ResponseWriter, r *http.Request) {
	player := middleware.GetPlayer(r)
	var req matchRequest
	if !h.decode(w, r, &req) {
		return
	}

	foundID, err := uuid.Parse(req.FoundID)
	if err != nil {
		h.jsonError(w, "Invalid found_id", http.StatusBadRequest)
		return
	}

	result, err := h.matches.Confirm(r.Context(), matching.ConfirmInput{
		SessionID: player.SessionID,
		FinderID:  player.PlayerID,
		FoundID:   foundID,
		Proof:     req.Proof,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// WrongGuess charges the calling player for a wrong identification
func (h *Handler) WrongGuess(w http.ResponseWriter, r *http.Request) {
	player := middleware.GetPlayer(r)
	score, err := h.matches.WrongGuess(r.Context(), player.SessionID, player.PlayerID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"score": score})
}

// resolvePrior turns an optional reconnect token into the prior player ID.
// The token's name stands in when the client did not resend one.
func (h *Handler) resolvePrior(sessionID, name, token string) (uuid.UUID, string, error) {
	if token == "" {
		return uuid.Nil, name, nil
	}
	claims, err := h.authService.ValidatePlayerToken(token)
	if err != nil {
		return uuid.Nil, "", err
	}
	if claims.SessionID != sessionID {
		return uuid.Nil, "", auth.ErrInvalidToken
	}
	if name == "" {
		name = claims.Name
	}
	return claims.PlayerID, name, nil
}
