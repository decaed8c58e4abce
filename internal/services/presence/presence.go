// Package presence maps live connections to players across joins,
// reconnects, and disconnects.
package presence

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/findosh/mingle/internal/models"
	"github.com/findosh/mingle/internal/services/broadcast"
	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = fmt.Errorf("session %w", models.ErrNotFound)
	ErrPlayerNotFound  = fmt.Errorf("player %w", models.ErrNotFound)
	ErrSessionClosed   = fmt.Errorf("%w: session is not accepting new players", models.ErrStateConflict)
	ErrSessionFull     = fmt.Errorf("%w: session is full", models.ErrStateConflict)
	ErrNameCollision   = fmt.Errorf("%w: name already taken in this session", models.ErrStateConflict)
)

// MaxNameLength bounds player display names, in runes
const MaxNameLength = 40

// SessionStore is the session persistence presence needs
type SessionStore interface {
	GetByID(ctx context.Context, id string) (*models.Session, error)
}

// PlayerStore is the player persistence presence needs
type PlayerStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Player, error)
	FindByName(ctx context.Context, sessionID, name string) (*models.Player, error)
	ListBySession(ctx context.Context, sessionID string) ([]*models.Player, error)
	CreateIfOpen(ctx context.Context, p *models.Player) (bool, error)
	Bind(ctx context.Context, sessionID string, id uuid.UUID, connectionID string) (bool, error)
	MarkDisconnected(ctx context.Context, id uuid.UUID, connectionID string) (bool, error)
}

// TokenIssuer signs reconnect tokens
type TokenIssuer interface {
	IssuePlayerToken(playerID uuid.UUID, sessionID, name string) (string, time.Time, error)
}

// Notifier is told whenever a session's leaderboard may have changed
type Notifier interface {
	Notify(sessionID string)
}

// Manager handles presence operations
type Manager struct {
	sessions  SessionStore
	players   PlayerStore
	tokens    TokenIssuer
	publisher broadcast.Publisher
	notifier  Notifier
}

// NewManager creates a new presence manager
func NewManager(sessions SessionStore, players PlayerStore, tokens TokenIssuer, publisher broadcast.Publisher, notifier Notifier) *Manager {
	return &Manager{
		sessions:  sessions,
		players:   players,
		tokens:    tokens,
		publisher: publisher,
		notifier:  notifier,
	}
}

// JoinInput identifies who is connecting
type JoinInput struct {
	SessionID     string
	Name          string
	PriorPlayerID uuid.UUID // uuid.Nil for a fresh join
	ConnectionID  string    // generated when empty
}

// Snapshot is the full state handed to a client on join, since throttled
// pushes may have been coalesced before it subscribed.
type Snapshot struct {
	Session      *models.Session     `json:"session"`
	Players      []models.PlayerView `json:"players"`
	Self         *models.Player      `json:"self"`
	Token        string              `json:"token"`
	TokenExpires time.Time           `json:"token_expires"`
	ConnectionID string              `json:"-"`
	Reconnected  bool                `json:"reconnected"`
}

// JoinOrReconnect binds a connection to an existing player when
// PriorPlayerID resolves within the session, otherwise creates a new player
// if the session still accepts them.
func (m *Manager) JoinOrReconnect(ctx context.Context, input JoinInput) (*Snapshot, error) {
	name := strings.TrimSpace(input.Name)
	connectionID := input.ConnectionID
	if connectionID == "" {
		connectionID = uuid.NewString()
	}

	session, err := m.sessions.GetByID(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	if input.PriorPlayerID != uuid.Nil {
		prior, err := m.players.GetByID(ctx, input.PriorPlayerID)
		if err != nil {
			return nil, err
		}
		if prior != nil && prior.SessionID == session.ID {
			return m.reconnect(ctx, session, prior, connectionID)
		}

		// The old identity is gone; refuse to hand out a name someone
		// else in the room already answers to.
		if name != "" {
			existing, err := m.players.FindByName(ctx, session.ID, name)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				return nil, ErrNameCollision
			}
		}
	}

	return m.join(ctx, session, name, connectionID)
}

func (m *Manager) reconnect(ctx context.Context, session *models.Session, player *models.Player, connectionID string) (*Snapshot, error) {
	ok, err := m.players.Bind(ctx, session.ID, player.ID, connectionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPlayerNotFound
	}

	snapshot, err := m.snapshot(ctx, session, player.ID, connectionID)
	if err != nil {
		return nil, err
	}
	snapshot.Reconnected = true

	log.Printf("presence: %s reconnected to %s", player.ID, session.ID)
	m.announce(session.ID, broadcast.EventPlayerReconnected, snapshot.Self.PublicView())
	return snapshot, nil
}

func (m *Manager) join(ctx context.Context, session *models.Session, name, connectionID string) (*Snapshot, error) {
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return nil, fmt.Errorf("%w: name must be 1-%d characters", models.ErrInvalidInput, MaxNameLength)
	}
	if !session.AcceptsNewPlayers() {
		return nil, ErrSessionClosed
	}

	player := models.NewPlayer(session.ID, name, connectionID)
	ok, err := m.players.CreateIfOpen(ctx, player)
	if err != nil {
		return nil, err
	}
	if !ok {
		// The insert re-checks status and capacity; find out which failed.
		current, err := m.sessions.GetByID(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		switch {
		case current == nil:
			return nil, ErrSessionNotFound
		case !current.AcceptsNewPlayers():
			return nil, ErrSessionClosed
		default:
			return nil, ErrSessionFull
		}
	}

	snapshot, err := m.snapshot(ctx, session, player.ID, connectionID)
	if err != nil {
		return nil, err
	}

	log.Printf("presence: %s joined %s as %q", player.ID, session.ID, name)
	m.announce(session.ID, broadcast.EventPlayerJoined, snapshot.Self.PublicView())
	return snapshot, nil
}

// Disconnect marks a player disconnected while keeping its score and
// matches. With a non-empty connectionID only that connection counts: a
// socket superseded by a reconnect closes without effect.
func (m *Manager) Disconnect(ctx context.Context, playerID uuid.UUID, connectionID string) error {
	player, err := m.players.GetByID(ctx, playerID)
	if err != nil {
		return err
	}
	if player == nil {
		return ErrPlayerNotFound
	}

	ok, err := m.players.MarkDisconnected(ctx, playerID, connectionID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	player.Status = models.Disconnected
	log.Printf("presence: %s left %s", playerID, player.SessionID)
	m.announce(player.SessionID, broadcast.EventPlayerLeft, player.PublicView())
	return nil
}

func (m *Manager) snapshot(ctx context.Context, session *models.Session, playerID uuid.UUID, connectionID string) (*Snapshot, error) {
	current, err := m.sessions.GetByID(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrSessionNotFound
	}

	self, err := m.players.GetByID(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if self == nil {
		return nil, ErrPlayerNotFound
	}

	players, err := m.players.ListBySession(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	views := make([]models.PlayerView, 0, len(players))
	for _, p := range players {
		views = append(views, p.PublicView())
	}

	token, expires, err := m.tokens.IssuePlayerToken(self.ID, session.ID, self.Name)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Session:      current,
		Players:      views,
		Self:         self,
		Token:        token,
		TokenExpires: expires,
		ConnectionID: connectionID,
	}, nil
}

// announce is fire-and-forget: delivery failures never undo the state change.
func (m *Manager) announce(sessionID, event string, payload interface{}) {
	if err := m.publisher.Publish(sessionID, event, payload); err != nil {
		log.Printf("presence: failed to publish %s for %s: %v", event, sessionID, err)
	}
	m.notifier.Notify(sessionID)
}
