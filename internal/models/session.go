// Package models defines core domain types
package models

import (
	"time"
)

// SessionStatus is the lifecycle state of a game session
type SessionStatus string

const (
	SessionWaiting SessionStatus = "waiting"
	SessionPlaying SessionStatus = "playing"
	SessionEnded   SessionStatus = "ended"
)

// IsValid reports whether s is a known status
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionWaiting, SessionPlaying, SessionEnded:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the lifecycle may move from s to next.
// Status only moves forward: waiting -> playing -> ended, or waiting -> ended
// when a host abandons a session that never started.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case SessionWaiting:
		return next == SessionPlaying || next == SessionEnded
	case SessionPlaying:
		return next == SessionEnded
	default:
		return false
	}
}

// Question is one prompt of the session's profile form
type Question struct {
	Field  string `json:"field"`  // e.g., "favorite_food"
	Prompt string `json:"prompt"` // e.g., "What's your favorite food?"
}

// Session is one running instance of the game
type Session struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	MaxPlayers  int           `json:"max_players"`
	Status      SessionStatus `json:"status"`
	Questions   []Question    `json:"questions"`
	HostPINHash string        `json:"-"` // Never serialize
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	EndedAt     *time.Time    `json:"ended_at,omitempty"`
}

// NewSession creates a waiting session with timestamps set
func NewSession(id, name string, maxPlayers int, questions []Question, pinHash string) *Session {
	return &Session{
		ID:          id,
		Name:        name,
		MaxPlayers:  maxPlayers,
		Status:      SessionWaiting,
		Questions:   questions,
		HostPINHash: pinHash,
		CreatedAt:   time.Now().UTC(),
	}
}

// AcceptsNewPlayers reports whether fresh joins are allowed
func (s *Session) AcceptsNewPlayers() bool {
	return s.Status == SessionWaiting
}

// QuestionFields returns the field names in question order
func (s *Session) QuestionFields() []string {
	fields := make([]string, 0, len(s.Questions))
	for _, q := range s.Questions {
		fields = append(fields, q.Field)
	}
	return fields
}
