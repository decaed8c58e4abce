package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/findosh/mingle/internal/realtime"
	"github.com/findosh/mingle/internal/services/broadcast"
	"github.com/findosh/mingle/internal/services/presence"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// maxClientMessage bounds inbound socket frames; clients only send pongs
const maxClientMessage = 512

// WebSocket joins or reconnects a player and streams room events until the
// socket closes. Query: session, name, token (optional reconnect token).
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	// Joining creates a player, so refuse anything that cannot upgrade first
	if !websocket.IsWebSocketUpgrade(r) {
		h.jsonError(w, "Websocket upgrade required", http.StatusBadRequest)
		return
	}
	if !h.checkOrigin(r) {
		h.jsonError(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	q := r.URL.Query()
	sessionID := q.Get("session")

	prior, name, err := h.resolvePrior(sessionID, q.Get("name"), q.Get("token"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	connectionID := uuid.NewString()
	snapshot, err := h.presence.JoinOrReconnect(r.Context(), presence.JoinInput{
		SessionID:     sessionID,
		Name:          name,
		PriorPlayerID: prior,
		ConnectionID:  connectionID,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	playerID := snapshot.Self.ID

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		h.disconnect(playerID, connectionID)
		return
	}

	sub := h.hub.Subscribe(sessionID, playerID, connectionID, conn)
	if err := h.hub.Send(sub, broadcast.EventSnapshot, snapshot); err != nil {
		log.Printf("handlers: failed to send snapshot to %s: %v", playerID, err)
	}

	conn.SetReadLimit(maxClientMessage)
	conn.SetReadDeadline(time.Now().Add(realtime.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(realtime.PongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.hub.Unsubscribe(sessionID, connectionID)
	h.disconnect(playerID, connectionID)
}

func (h *Handler) disconnect(playerID uuid.UUID, connectionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.presence.Disconnect(ctx, playerID, connectionID); err != nil {
		log.Printf("handlers: failed to disconnect %s: %v", playerID, err)
	}
}
