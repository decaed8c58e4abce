// Package lobby manages the session lifecycle: creation, start/end, profile
// submission, and leaderboard reads.
package lobby

import (
	"context"
	crand "crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/findosh/mingle/internal/models"
	"github.com/findosh/mingle/internal/services/broadcast"
	"github.com/findosh/mingle/internal/storage"
	"github.com/google/uuid"
)

var (
	ErrSessionNotFound   = fmt.Errorf("session %w", models.ErrNotFound)
	ErrPlayerNotFound    = fmt.Errorf("player %w", models.ErrNotFound)
	ErrSessionExists     = fmt.Errorf("%w: session id already in use", models.ErrStateConflict)
	ErrInvalidTransition = fmt.Errorf("%w: invalid session status transition", models.ErrStateConflict)
	ErrSessionEnded      = fmt.Errorf("%w: session has ended", models.ErrStateConflict)
)

const (
	// MinPlayers and MaxPlayers bound a session's capacity
	MinPlayers = 2
	MaxPlayers = 500

	// RoomCodeLength is the length of generated session IDs
	RoomCodeLength = 6

	// RoomCodeChars excludes characters that are easy to misread
	RoomCodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	maxCodeAttempts = 10
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)

// SessionStore is the session persistence the lobby needs
type SessionStore interface {
	Create(ctx context.Context, s *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	Transition(ctx context.Context, id string, from, to models.SessionStatus, at time.Time) (bool, error)
}

// PlayerStore is the player persistence the lobby needs
type PlayerStore interface {
	ListRanked(ctx context.Context, sessionID string) ([]*models.Player, error)
	SaveProfile(ctx context.Context, sessionID string, id uuid.UUID, profile models.Profile) (bool, error)
}

// PINHasher hashes and verifies host PINs
type PINHasher interface {
	HashPIN(pin string) (string, error)
	CheckPIN(hash, pin string) error
}

// Notifier is told whenever a session's leaderboard may have changed
type Notifier interface {
	Notify(sessionID string)
}

// Service handles session lifecycle operations
type Service struct {
	sessions          SessionStore
	players           PlayerStore
	pins              PINHasher
	publisher         broadcast.Publisher
	notifier          Notifier
	defaultMaxPlayers int
}

// NewService creates a new lobby service
func NewService(sessions SessionStore, players PlayerStore, pins PINHasher, publisher broadcast.Publisher, notifier Notifier, defaultMaxPlayers int) *Service {
	if defaultMaxPlayers < MinPlayers || defaultMaxPlayers > MaxPlayers {
		defaultMaxPlayers = 50
	}
	return &Service{
		sessions:          sessions,
		players:           players,
		pins:              pins,
		publisher:         publisher,
		notifier:          notifier,
		defaultMaxPlayers: defaultMaxPlayers,
	}
}

// CreateInput contains session creation data
type CreateInput struct {
	ID         string // optional; generated when empty
	Name       string
	MaxPlayers int // optional; service default when zero
	Questions  []models.Question
	HostPIN    string
}

// Create validates input and stores a new waiting session
func (s *Service) Create(ctx context.Context, input CreateInput) (*models.Session, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", models.ErrInvalidInput)
	}

	maxPlayers := input.MaxPlayers
	if maxPlayers == 0 {
		maxPlayers = s.defaultMaxPlayers
	}
	if maxPlayers < MinPlayers || maxPlayers > MaxPlayers {
		return nil, fmt.Errorf("%w: max players must be between %d and %d", models.ErrInvalidInput, MinPlayers, MaxPlayers)
	}

	questions, err := normalizeQuestions(input.Questions)
	if err != nil {
		return nil, err
	}

	pinHash, err := s.pins.HashPIN(input.HostPIN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}

	id := strings.TrimSpace(input.ID)
	if id != "" {
		if !sessionIDPattern.MatchString(id) {
			return nil, fmt.Errorf("%w: session id must be 3-32 letters, digits, '-' or '_'", models.ErrInvalidInput)
		}
		session := models.NewSession(id, name, maxPlayers, questions, pinHash)
		if err := s.sessions.Create(ctx, session); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return nil, ErrSessionExists
			}
			return nil, err
		}
		log.Printf("lobby: created session %s (%q, max %d)", session.ID, name, maxPlayers)
		return session, nil
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		session := models.NewSession(GenerateRoomCode(), name, maxPlayers, questions, pinHash)
		err := s.sessions.Create(ctx, session)
		if errors.Is(err, storage.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, err
		}
		log.Printf("lobby: created session %s (%q, max %d)", session.ID, name, maxPlayers)
		return session, nil
	}
	return nil, fmt.Errorf("failed to generate a unique session id after %d attempts", maxCodeAttempts)
}

// Get returns a session by ID
func (s *Service) Get(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Start moves a waiting session to playing
func (s *Service) Start(ctx context.Context, id, pin string) (*models.Session, error) {
	return s.transition(ctx, id, pin, models.SessionPlaying)
}

// End moves a waiting or playing session to ended
func (s *Service) End(ctx context.Context, id, pin string) (*models.Session, error) {
	return s.transition(ctx, id, pin, models.SessionEnded)
}

func (s *Service) transition(ctx context.Context, id, pin string, to models.SessionStatus) (*models.Session, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.pins.CheckPIN(session.HostPINHash, pin); err != nil {
		return nil, err
	}
	if !session.Status.CanTransitionTo(to) {
		return nil, ErrInvalidTransition
	}

	ok, err := s.sessions.Transition(ctx, id, session.Status, to, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		// Someone else moved the session first
		return nil, ErrInvalidTransition
	}

	updated, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	log.Printf("lobby: session %s %s -> %s", id, session.Status, to)

	if err := s.publisher.Publish(id, broadcast.EventSessionState, updated); err != nil {
		log.Printf("lobby: failed to publish state for %s: %v", id, err)
	}
	s.notifier.Notify(id)
	return updated, nil
}

// SubmitProfile stores a player's answers. Every question must be answered;
// answers to unknown fields are dropped.
func (s *Service) SubmitProfile(ctx context.Context, sessionID string, playerID uuid.UUID, answers map[string]string) (models.Profile, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == models.SessionEnded {
		return nil, ErrSessionEnded
	}

	profile := make(models.Profile, len(session.Questions))
	for _, q := range session.Questions {
		answer := strings.TrimSpace(answers[q.Field])
		if answer == "" {
			return nil, fmt.Errorf("%w: missing answer for %q", models.ErrInvalidInput, q.Field)
		}
		profile[q.Field] = answer
	}

	ok, err := s.players.SaveProfile(ctx, sessionID, playerID, profile)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPlayerNotFound
	}

	s.notifier.Notify(sessionID)
	return profile, nil
}

// GenerateRoomCode creates a random session ID
func GenerateRoomCode() string {
	code := make([]byte, RoomCodeLength)
	for i := range code {
		n, err := crand.Int(crand.Reader, big.NewInt(int64(len(RoomCodeChars))))
		if err != nil {
			// fall back to a UUID-derived byte if the system RNG fails
			code[i] = RoomCodeChars[int(uuid.New()[i])%len(RoomCodeChars)]
			continue
		}
		code[i] = RoomCodeChars[n.Int64()]
	}
	return string(code)
}

func normalizeQuestions(in []models.Question) ([]models.Question, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: at least one question is required", models.ErrInvalidInput)
	}

	seen := make(map[string]bool, len(in))
	out := make([]models.Question, 0, len(in))
	for _, q := range in {
		field := strings.TrimSpace(q.Field)
		prompt := strings.TrimSpace(q.Prompt)
		if field == "" || prompt == "" {
			return nil, fmt.Errorf("%w: questions need a field and a prompt", models.ErrInvalidInput)
		}
		if seen[field] {
			return nil, fmt.Errorf("%w: duplicate question field %q", models.ErrInvalidInput, field)
		}
		seen[field] = true
		out = append(out, models.Question{Field: field, Prompt: prompt})
	}
	return out, nil
}
