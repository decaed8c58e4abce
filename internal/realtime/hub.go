// Package realtime fans session events out to websocket subscribers.
package realtime

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// SendBufferSize is how many outbound messages a subscriber may lag by
	// before further messages to it are dropped
	SendBufferSize = 32

	// WriteTimeout bounds a single socket write
	WriteTimeout = 5 * time.Second

	// PongWait is how long a connection may stay silent before it is dropped
	PongWait = 60 * time.Second

	pingPeriod = (PongWait * 9) / 10
)

// Envelope is the wire format of every pushed event
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Subscriber is one live socket in a session room
type Subscriber struct {
	PlayerID     uuid.UUID
	ConnectionID string

	conn   *websocket.Conn
	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// Hub owns the session rooms of one server process
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Subscriber // session ID -> connection ID -> subscriber
	debug bool
}

// NewHub creates an empty hub
func NewHub(debug bool) *Hub {
	return &Hub{
		rooms: make(map[string]map[string]*Subscriber),
		debug: debug,
	}
}

// Subscribe adds conn to the session room and starts its writer.
// A subscriber already registered under the same connection ID is replaced.
func (h *Hub) Subscribe(sessionID string, playerID uuid.UUID, connectionID string, conn *websocket.Conn) *Subscriber {
	sub := &Subscriber{
		PlayerID:     playerID,
		ConnectionID: connectionID,
		conn:         conn,
		send:         make(chan []byte, SendBufferSize),
	}

	h.mu.Lock()
	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[string]*Subscriber)
		h.rooms[sessionID] = room
	}
	previous := room[connectionID]
	room[connectionID] = sub
	h.mu.Unlock()

	if previous != nil {
		previous.close()
	}

	go sub.writePump()
	return sub
}

// Unsubscribe removes a connection from its room and stops its writer
func (h *Hub) Unsubscribe(sessionID, connectionID string) {
	h.mu.Lock()
	room := h.rooms[sessionID]
	sub := room[connectionID]
	if sub != nil {
		delete(room, connectionID)
		if len(room) == 0 {
			delete(h.rooms, sessionID)
		}
	}
	h.mu.Unlock()

	if sub != nil {
		sub.close()
	}
}

// Publish queues an event for every subscriber of the session. It never
// blocks on a socket: subscribers whose buffer is full miss the message.
func (h *Hub) Publish(sessionID, event string, payload interface{}) error {
	data, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event, err)
	}

	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.rooms[sessionID]))
	for _, sub := range h.rooms[sessionID] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		if sub.enqueue(data) {
			delivered++
		} else {
			log.Printf("realtime: dropped %s for %s, send buffer full", event, sub.PlayerID)
		}
	}
	if h.debug {
		log.Printf("realtime: %s to %s queued for %d/%d subscribers", event, sessionID, delivered, len(subs))
	}
	return nil
}

// Send queues an event for a single subscriber
func (h *Hub) Send(sub *Subscriber, event string, payload interface{}) error {
	data, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event, err)
	}
	if !sub.enqueue(data) {
		return fmt.Errorf("send buffer full for %s", sub.PlayerID)
	}
	return nil
}

// SubscriberCount returns the number of live sockets in a session room
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

func (s *Subscriber) enqueue(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

// writePump is the only goroutine writing to the socket.
func (s *Subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("realtime: write to %s failed: %v", s.PlayerID, err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
