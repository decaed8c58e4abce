// Package matching records confirmed finder -> found matches exactly once
// and keeps scores, counters, and completion in step.
package matching

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/findosh/mingle/internal/models"
	"github.com/findosh/mingle/internal/services/broadcast"
	"github.com/google/uuid"
)

var (
	ErrPlayerNotFound = fmt.Errorf("player %w", models.ErrNotFound)
	ErrSelfMatch      = fmt.Errorf("%w: a player cannot match themselves", models.ErrInvalidInput)
	ErrNoProfile      = fmt.Errorf("%w: player has not submitted a profile", models.ErrStateConflict)
)

// MaxProofLength bounds the proof reference stored with a match
const MaxProofLength = 2048

// Rewards are the score changes applied by the protocol
type Rewards struct {
	Finder            int // credited to the finder per new match
	Found             int // credited to the player who was found
	WrongGuessPenalty int
}

// DefaultRewards returns the standard scoring
func DefaultRewards() Rewards {
	return Rewards{
		Finder:            100,
		Found:             0,
		WrongGuessPenalty: 10,
	}
}

// PlayerStore is the player persistence the protocol needs
type PlayerStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Player, error)
	RecordMatch(ctx context.Context, finderID uuid.UUID, m models.Match, reward int) (int, bool, error)
	CreditFound(ctx context.Context, id uuid.UUID, reward int) error
	CountProfiles(ctx context.Context, sessionID string, exclude uuid.UUID) (int, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, required int, at time.Time) (bool, error)
	RecordWrongGuess(ctx context.Context, sessionID string, id uuid.UUID, penalty int) (int, bool, error)
}

// Notifier is told whenever a session's leaderboard may have changed
type Notifier interface {
	Notify(sessionID string)
}

// Protocol handles match confirmation
type Protocol struct {
	players   PlayerStore
	rewards   Rewards
	publisher broadcast.Publisher
	notifier  Notifier
}

// NewProtocol creates a new match confirmation protocol
func NewProtocol(players PlayerStore, rewards Rewards, publisher broadcast.Publisher, notifier Notifier) *Protocol {
	return &Protocol{
		players:   players,
		rewards:   rewards,
		publisher: publisher,
		notifier:  notifier,
	}
}

// ConfirmInput identifies a claimed match
type ConfirmInput struct {
	SessionID string
	FinderID  uuid.UUID
	FoundID   uuid.UUID
	Proof     string // optional selfie/proof reference
}

// ConfirmResult describes the outcome of a confirmation. AlreadyRecorded is
// an idempotent success: the pair was matched before and nothing changed.
type ConfirmResult struct {
	Recorded        bool `json:"recorded"`
	AlreadyRecorded bool `json:"already_recorded"`
	IsCompleted     bool `json:"is_completed"`
	MatchCount      int  `json:"match_count"`
	RequiredCount   int  `json:"required_count"`
}

// Confirm records that finder found found. Concurrent duplicates of the same
// pair produce exactly one Recorded result; the rest report AlreadyRecorded.
func (p *Protocol) Confirm(ctx context.Context, input ConfirmInput) (*ConfirmResult, error) {
	if input.FinderID == input.FoundID {
		return nil, ErrSelfMatch
	}
	if len(input.Proof) > MaxProofLength {
		return nil, fmt.Errorf("%w: proof reference too long", models.ErrInvalidInput)
	}

	finder, err := p.loadInSession(ctx, input.SessionID, input.FinderID)
	if err != nil {
		return nil, err
	}
	found, err := p.loadInSession(ctx, input.SessionID, input.FoundID)
	if err != nil {
		return nil, err
	}
	// Only profiled players count toward completion, so only they can be found
	if !found.HasProfile {
		return nil, ErrNoProfile
	}

	now := time.Now().UTC()
	count, recorded, err := p.players.RecordMatch(ctx, finder.ID, models.Match{
		PlayerID:   found.ID,
		PlayerName: found.Name,
		Proof:      input.Proof,
		MatchedAt:  now,
	}, p.rewards.Finder)
	if err != nil {
		return nil, err
	}

	if recorded {
		// The match is committed at this point; a failure here costs the
		// found player a counter bump but must not fail the confirmation.
		if err := p.players.CreditFound(ctx, found.ID, p.rewards.Found); err != nil {
			log.Printf("matching: %v", err)
		}
	}

	required, err := p.players.CountProfiles(ctx, input.SessionID, finder.ID)
	if err != nil {
		return nil, err
	}

	// Run on duplicates too, so a completion interrupted after the match
	// commit is picked up by the retry.
	completedNow := false
	if required > 0 && count >= required {
		completedNow, err = p.players.MarkCompleted(ctx, finder.ID, required, now)
		if err != nil {
			return nil, err
		}
	}

	result := &ConfirmResult{
		Recorded:        recorded,
		AlreadyRecorded: !recorded,
		IsCompleted:     finder.IsCompleted || completedNow || (required > 0 && count >= required),
		MatchCount:      count,
		RequiredCount:   required,
	}

	if recorded {
		p.announce(input.SessionID, broadcast.EventMatchRecorded, map[string]interface{}{
			"finder_id":   finder.ID,
			"finder_name": finder.Name,
			"found_id":    found.ID,
			"found_name":  found.Name,
			"matched_at":  now,
		})
	}
	if completedNow {
		log.Printf("matching: %s completed session %s with %d matches", finder.ID, input.SessionID, count)
		p.announce(input.SessionID, broadcast.EventPlayerCompleted, map[string]interface{}{
			"player_id":    finder.ID,
			"player_name":  finder.Name,
			"completed_at": now,
		})
	}
	if recorded || completedNow {
		p.notifier.Notify(input.SessionID)
	}

	return result, nil
}

// WrongGuess charges the wrong-guess penalty and returns the new score.
// Scores may go negative.
func (p *Protocol) WrongGuess(ctx context.Context, sessionID string, playerID uuid.UUID) (int, error) {
	score, ok, err := p.players.RecordWrongGuess(ctx, sessionID, playerID, p.rewards.WrongGuessPenalty)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrPlayerNotFound
	}
	p.notifier.Notify(sessionID)
	return score, nil
}

func (p *Protocol) loadInSession(ctx context.Context, sessionID string, id uuid.UUID) (*models.Player, error) {
	player, err := p.players.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if player == nil || player.SessionID != sessionID {
		return nil, ErrPlayerNotFound
	}
	return player, nil
}

func (p *Protocol) announce(sessionID, event string, payload interface{}) {
	if err := p.publisher.Publish(sessionID, event, payload); err != nil {
		log.Printf("matching: failed to publish %s for %s: %v", event, sessionID, err)
	}
}
