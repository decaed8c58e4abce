package models

import (
	"time"

	"github.com/google/uuid"
)

// ConnectionStatus tracks whether a player has a live socket
type ConnectionStatus string

const (
	Connected    ConnectionStatus = "connected"
	Disconnected ConnectionStatus = "disconnected"
)

// Profile maps question field names to a player's answers
type Profile map[string]string

// Match is a confirmed identification of another player.
// Entries are append-only.
type Match struct {
	PlayerID   uuid.UUID `json:"player_id"`
	PlayerName string    `json:"player_name"` // snapshot at match time
	Proof      string    `json:"proof,omitempty"`
	MatchedAt  time.Time `json:"matched_at"`
}

// Player is a participant in exactly one session
type Player struct {
	ID               uuid.UUID        `json:"id"`
	SessionID        string           `json:"session_id"`
	Name             string           `json:"name"`
	Score            int              `json:"score"`
	Status           ConnectionStatus `json:"status"`
	ConnectionID     string           `json:"-"`
	Profile          Profile          `json:"profile,omitempty"`
	HasProfile       bool             `json:"has_profile"`
	Matches          []Match          `json:"matches"`
	PeopleKnown      int              `json:"people_known"`
	PeopleWhoKnowYou int              `json:"people_who_know_you"`
	WrongGuesses     int              `json:"wrong_guesses"`
	TimesAssigned    int              `json:"times_assigned"`
	LastMatchAt      *time.Time       `json:"last_match_at,omitempty"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	IsCompleted      bool             `json:"is_completed"`
	JoinedAt         time.Time        `json:"joined_at"`
}

// NewPlayer creates a connected player with a generated ID
func NewPlayer(sessionID, name, connectionID string) *Player {
	return &Player{
		ID:           uuid.New(),
		SessionID:    sessionID,
		Name:         name,
		Status:       Connected,
		ConnectionID: connectionID,
		Matches:      []Match{},
		JoinedAt:     time.Now().UTC(),
	}
}

// PublicView strips fields other players should not see
func (p *Player) PublicView() PlayerView {
	return PlayerView{
		ID:               p.ID,
		Name:             p.Name,
		Score:            p.Score,
		Status:           p.Status,
		HasProfile:       p.HasProfile,
		PeopleKnown:      p.PeopleKnown,
		PeopleWhoKnowYou: p.PeopleWhoKnowYou,
		IsCompleted:      p.IsCompleted,
	}
}

// PlayerView is the subset of a player shared with the whole room
type PlayerView struct {
	ID               uuid.UUID        `json:"id"`
	Name             string           `json:"name"`
	Score            int              `json:"score"`
	Status           ConnectionStatus `json:"status"`
	HasProfile       bool             `json:"has_profile"`
	PeopleKnown      int              `json:"people_known"`
	PeopleWhoKnowYou int              `json:"people_who_know_you"`
	IsCompleted      bool             `json:"is_completed"`
}
