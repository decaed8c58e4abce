package lobby

import (
	"context"
	"time"

	"github.com/findosh/mingle/internal/models"
)

// Leaderboards reads ranked session standings. It is the source the
// broadcast throttler re-reads on every push.
type Leaderboards struct {
	sessions SessionStore
	players  PlayerStore
}

// NewLeaderboards creates a leaderboard reader
func NewLeaderboards(sessions SessionStore, players PlayerStore) *Leaderboards {
	return &Leaderboards{sessions: sessions, players: players}
}

// Leaderboard builds the current ranked leaderboard of a session
func (l *Leaderboards) Leaderboard(ctx context.Context, sessionID string) (*models.Leaderboard, error) {
	session, err := l.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	players, err := l.players.ListRanked(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	profiles := 0
	for _, p := range players {
		if p.HasProfile {
			profiles++
		}
	}

	return &models.Leaderboard{
		SessionID: sessionID,
		Status:    session.Status,
		Entries:   models.RankPlayers(players, profiles),
		AsOf:      time.Now().UTC(),
	}, nil
}
