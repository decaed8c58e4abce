package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/findosh/mingle/internal/models"
)

// SessionRepository provides session data access
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session. Returns ErrDuplicate if the ID is taken.
func (r *SessionRepository) Create(ctx context.Context, s *models.Session) error {
	questions, err := json.Marshal(s.Questions)
	if err != nil {
		return fmt.Errorf("failed to encode questions: %w", err)
	}

	query := `
		INSERT INTO sessions (id, name, max_players, status, questions, host_pin_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		s.ID,
		s.Name,
		s.MaxPlayers,
		string(s.Status),
		string(questions),
		s.HostPINHash,
		s.CreatedAt,
	)
	if isDuplicate(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetByID retrieves a session by ID. Returns nil, nil when absent.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := `
		SELECT id, name, max_players, status, questions, host_pin_hash, created_at, started_at, ended_at
		FROM sessions WHERE id = ?
	`
	var s models.Session
	var status, questions string
	var startedAt, endedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&s.ID,
		&s.Name,
		&s.MaxPlayers,
		&status,
		&questions,
		&s.HostPINHash,
		&s.CreatedAt,
		&startedAt,
		&endedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	s.Status = models.SessionStatus(status)
	if !s.Status.IsValid() {
		return nil, fmt.Errorf("session %s has unknown status %q", s.ID, status)
	}
	if err := json.Unmarshal([]byte(questions), &s.Questions); err != nil {
		return nil, fmt.Errorf("failed to decode questions: %w", err)
	}
	if startedAt.Valid {
		s.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		s.EndedAt = &endedAt.Time
	}

	return &s, nil
}

// Transition moves a session from one status to another only if it is still
// in the expected status. Returns false when the precondition no longer holds.
func (r *SessionRepository) Transition(ctx context.Context, id string, from, to models.SessionStatus, at time.Time) (bool, error) {
	query := `
		UPDATE sessions SET
			status = ?,
			started_at = CASE WHEN ? = 'playing' THEN ? ELSE started_at END,
			ended_at = CASE WHEN ? = 'ended' THEN ? ELSE ended_at END
		WHERE id = ? AND status = ?
	`
	res, err := r.db.ExecContext(ctx, query,
		string(to),
		string(to), at,
		string(to), at,
		id,
		string(from),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update session status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update session status: %w", err)
	}
	return n == 1, nil
}
