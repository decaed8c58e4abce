// Package assignment hands a searching player the next unseen profile to
// find, spreading load by how often each profile was handed out.
package assignment

import (
	"context"
	"errors"
	"fmt"

	"github.com/findosh/mingle/internal/models"
	"github.com/google/uuid"
)

var (
	ErrPlayerNotFound = fmt.Errorf("player %w", models.ErrNotFound)

	// ErrExhausted means the requester has found everyone there is to find.
	// It is a terminal result, not a failure.
	ErrExhausted = errors.New("no more profiles to find")
)

// PlayerStore is the player persistence the engine needs
type PlayerStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Player, error)
	ClaimLeastAssigned(ctx context.Context, sessionID string, requesterID, skipID uuid.UUID) (uuid.UUID, bool, error)
}

// Engine selects assignment candidates
type Engine struct {
	players PlayerStore
}

// NewEngine creates a new assignment engine
func NewEngine(players PlayerStore) *Engine {
	return &Engine{players: players}
}

// Assignment is the profile a player should go find
type Assignment struct {
	CandidateID   uuid.UUID      `json:"candidate_id"`
	CandidateName string         `json:"candidate_name"`
	Profile       models.Profile `json:"profile"`
	SkipIgnored   bool           `json:"skip_ignored"` // the skipped profile was the only one left
}

// Request picks the least-assigned eligible profile for playerID, never one
// already matched and, while anyone else remains, never skipID. Pass
// uuid.Nil to skip nothing. The candidate's assignment counter is bumped
// whether or not the requester ends up confirming it.
func (e *Engine) Request(ctx context.Context, sessionID string, playerID, skipID uuid.UUID) (*Assignment, error) {
	requester, err := e.players.GetByID(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if requester == nil || requester.SessionID != sessionID {
		return nil, ErrPlayerNotFound
	}

	candidateID, ok, err := e.players.ClaimLeastAssigned(ctx, sessionID, playerID, skipID)
	if err != nil {
		return nil, err
	}

	skipIgnored := false
	if !ok && skipID != uuid.Nil {
		candidateID, ok, err = e.players.ClaimLeastAssigned(ctx, sessionID, playerID, uuid.Nil)
		if err != nil {
			return nil, err
		}
		skipIgnored = ok
	}
	if !ok {
		return nil, ErrExhausted
	}

	candidate, err := e.players.GetByID(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	if candidate == nil {
		return nil, ErrPlayerNotFound
	}

	return &Assignment{
		CandidateID:   candidate.ID,
		CandidateName: candidate.Name,
		Profile:       candidate.Profile,
		SkipIgnored:   skipIgnored,
	}, nil
}
