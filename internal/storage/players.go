package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/findosh/mingle/internal/models"
	"github.com/google/uuid"
)

// PlayerRepository provides player and match data access.
// Every mutation that can race is a single conditional statement (or a
// transaction confined to one player's rows) so a failed precondition
// leaves the records untouched.
type PlayerRepository struct {
	db *DB
}

// NewPlayerRepository creates a new player repository
func NewPlayerRepository(db *DB) *PlayerRepository {
	return &PlayerRepository{db: db}
}

const playerColumns = `
	id, session_id, name, score, status, connection_id, profile, has_profile,
	people_known, people_who_know_you, wrong_guesses, times_assigned,
	last_match_at, completed_at, is_completed, joined_at
`

// CreateIfOpen inserts p only if its session is still waiting and below
// capacity. Both checks and the insert happen in one statement. Returns
// false when the precondition failed.
func (r *PlayerRepository) CreateIfOpen(ctx context.Context, p *models.Player) (bool, error) {
	query := `
		INSERT INTO players (id, session_id, name, score, status, connection_id, joined_at)
		SELECT ?, ?, ?, 0, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM sessions WHERE id = ? AND status = 'waiting')
		  AND (SELECT COUNT(*) FROM players WHERE session_id = ?) <
		      (SELECT max_players FROM sessions WHERE id = ?)
	`
	res, err := r.db.ExecContext(ctx, query,
		p.ID.String(),
		p.SessionID,
		p.Name,
		string(p.Status),
		p.ConnectionID,
		p.JoinedAt,
		p.SessionID,
		p.SessionID,
		p.SessionID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create player: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to create player: %w", err)
	}
	return n == 1, nil
}

// GetByID retrieves a player with its match list. Returns nil, nil when absent.
func (r *PlayerRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	query := `SELECT ` + playerColumns + ` FROM players WHERE id = ?`
	p, err := scanPlayer(r.db.QueryRowContext(ctx, query, id.String()))
	if err != nil || p == nil {
		return p, err
	}

	matches, err := r.loadMatches(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Matches = matches
	return p, nil
}

// FindByName looks up a player by display name within a session,
// ignoring case. Returns nil, nil when absent.
func (r *PlayerRepository) FindByName(ctx context.Context, sessionID, name string) (*models.Player, error) {
	query := `SELECT ` + playerColumns + `
		FROM players WHERE session_id = ? AND name = ? COLLATE NOCASE
		ORDER BY rowid LIMIT 1`
	return scanPlayer(r.db.QueryRowContext(ctx, query, sessionID, name))
}

// ListBySession returns all players of a session in join order.
// Match lists are not loaded.
func (r *PlayerRepository) ListBySession(ctx context.Context, sessionID string) ([]*models.Player, error) {
	query := `SELECT ` + playerColumns + ` FROM players WHERE session_id = ? ORDER BY rowid`
	return r.queryPlayers(ctx, query, sessionID)
}

// ListRanked returns all players of a session ordered for the leaderboard:
// score descending, then earliest last match first. Players who never
// matched sort after those who did.
func (r *PlayerRepository) ListRanked(ctx context.Context, sessionID string) ([]*models.Player, error) {
	query := `SELECT ` + playerColumns + `
		FROM players WHERE session_id = ?
		ORDER BY score DESC, last_match_at IS NULL, last_match_at ASC, rowid ASC`
	return r.queryPlayers(ctx, query, sessionID)
}

// CountProfiles counts players in a session who submitted a profile,
// excluding the given player (pass uuid.Nil to count everyone).
func (r *PlayerRepository) CountProfiles(ctx context.Context, sessionID string, exclude uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM players WHERE session_id = ? AND has_profile = 1 AND id != ?",
		sessionID, exclude.String(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count profiles: %w", err)
	}
	return count, nil
}

// SaveProfile stores a player's answers and flips has_profile.
// Returns false if the player does not belong to the session.
func (r *PlayerRepository) SaveProfile(ctx context.Context, sessionID string, id uuid.UUID, profile models.Profile) (bool, error) {
	data, err := json.Marshal(profile)
	if err != nil {
		return false, fmt.Errorf("failed to encode profile: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		"UPDATE players SET profile = ?, has_profile = 1 WHERE id = ? AND session_id = ?",
		string(data), id.String(), sessionID,
	)
	return affectedOne(res, err, "save profile")
}

// Bind marks a player connected on a new connection handle.
// Returns false if the player does not belong to the session.
func (r *PlayerRepository) Bind(ctx context.Context, sessionID string, id uuid.UUID, connectionID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE players SET status = 'connected', connection_id = ? WHERE id = ? AND session_id = ?",
		connectionID, id.String(), sessionID,
	)
	return affectedOne(res, err, "bind player")
}

// MarkDisconnected flips a player to disconnected, but only while the stored
// connection handle still equals connectionID. An empty connectionID skips
// the handle check.
func (r *PlayerRepository) MarkDisconnected(ctx context.Context, id uuid.UUID, connectionID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE players SET status = 'disconnected'
		WHERE id = ? AND (? = '' OR connection_id = ?)`,
		id.String(), connectionID, connectionID,
	)
	return affectedOne(res, err, "disconnect player")
}

// ClaimLeastAssigned picks the eligible candidate with the lowest
// times_assigned and increments its counter in the same statement.
// Eligible means: same session, not the requester, has a profile, not
// already matched by the requester, and not skipID (uuid.Nil skips nothing).
// Ties go to the earliest joiner. Returns uuid.Nil, false when no one is left.
func (r *PlayerRepository) ClaimLeastAssigned(ctx context.Context, sessionID string, requesterID, skipID uuid.UUID) (uuid.UUID, bool, error) {
	query := `
		UPDATE players SET times_assigned = times_assigned + 1
		WHERE id = (
			SELECT p.id FROM players p
			WHERE p.session_id = ?
			  AND p.id != ?
			  AND p.id != ?
			  AND p.has_profile = 1
			  AND p.id NOT IN (SELECT found_id FROM matches WHERE finder_id = ?)
			ORDER BY p.times_assigned ASC, p.rowid ASC
			LIMIT 1
		)
		RETURNING id
	`
	var id string
	err := r.db.QueryRowContext(ctx, query,
		sessionID,
		requesterID.String(),
		skipID.String(),
		requesterID.String(),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to claim candidate: %w", err)
	}

	candidate, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to parse candidate id: %w", err)
	}
	return candidate, true, nil
}

// countProfiledMatches counts a finder's matches against players who have a
// profile, the same population CountProfiles measures completion against.
const countProfiledMatches = `
	SELECT COUNT(*) FROM matches m
	JOIN players p ON p.id = m.found_id
	WHERE m.finder_id = ? AND p.has_profile = 1`

// RecordMatch appends m to the finder's match list unless an entry for the
// same found player already exists, and credits the finder in the same
// transaction. Returns the finder's count of profiled matches after the
// operation and whether a new match was written.
func (r *PlayerRepository) RecordMatch(ctx context.Context, finderID uuid.UUID, m models.Match, reward int) (int, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO matches (finder_id, found_id, found_name, proof, matched_at)
		VALUES (?, ?, ?, ?, ?)`,
		finderID.String(),
		m.PlayerID.String(),
		m.PlayerName,
		m.Proof,
		m.MatchedAt,
	)
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert match: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert match: %w", err)
	}

	if inserted == 1 {
		_, err = tx.ExecContext(ctx, `
			UPDATE players SET
				score = score + ?,
				people_known = people_known + 1,
				last_match_at = ?
			WHERE id = ?`,
			reward, m.MatchedAt, finderID.String(),
		)
		if err != nil {
			return 0, false, fmt.Errorf("failed to credit finder: %w", err)
		}
	}

	var count int
	if err := tx.QueryRowContext(ctx, countProfiledMatches, finderID.String()).Scan(&count); err != nil {
		return 0, false, fmt.Errorf("failed to count matches: %w", err)
	}

	if inserted == 0 {
		return count, false, nil
	}
	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("failed to commit match: %w", err)
	}
	return count, true, nil
}

// CreditFound records that someone found this player.
func (r *PlayerRepository) CreditFound(ctx context.Context, id uuid.UUID, reward int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE players SET
			people_who_know_you = people_who_know_you + 1,
			score = score + ?
		WHERE id = ?`,
		reward, id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to credit found player: %w", err)
	}
	return nil
}

// MarkCompleted sets completed_at once, and only if the player's stored
// count of profiled matches has reached required. Returns true if this call
// set it.
func (r *PlayerRepository) MarkCompleted(ctx context.Context, id uuid.UUID, required int, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE players SET completed_at = ?, is_completed = 1
		WHERE id = ?
		  AND completed_at IS NULL
		  AND ? > 0
		  AND (`+countProfiledMatches+`) >= ?`,
		at, id.String(), required, id.String(), required,
	)
	return affectedOne(res, err, "mark completed")
}

// RecordWrongGuess increments wrong_guesses and applies the penalty.
// Returns the new score and false if the player is not in the session.
func (r *PlayerRepository) RecordWrongGuess(ctx context.Context, sessionID string, id uuid.UUID, penalty int) (int, bool, error) {
	var score int
	err := r.db.QueryRowContext(ctx, `
		UPDATE players SET
			wrong_guesses = wrong_guesses + 1,
			score = score - ?
		WHERE id = ? AND session_id = ?
		RETURNING score`,
		penalty, id.String(), sessionID,
	).Scan(&score)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to record wrong guess: %w", err)
	}
	return score, true, nil
}

func (r *PlayerRepository) loadMatches(ctx context.Context, finderID uuid.UUID) ([]models.Match, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT found_id, found_name, proof, matched_at
		FROM matches WHERE finder_id = ?
		ORDER BY matched_at, rowid`,
		finderID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer rows.Close()

	matches := make([]models.Match, 0)
	for rows.Next() {
		var m models.Match
		var foundID string
		if err := rows.Scan(&foundID, &m.PlayerName, &m.Proof, &m.MatchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		m.PlayerID, _ = uuid.Parse(foundID)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (r *PlayerRepository) queryPlayers(ctx context.Context, query string, args ...interface{}) ([]*models.Player, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query players: %w", err)
	}
	defer rows.Close()

	players := make([]*models.Player, 0)
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlayer(row rowScanner) (*models.Player, error) {
	var p models.Player
	var id, status string
	var profile sql.NullString
	var lastMatchAt, completedAt sql.NullTime

	err := row.Scan(
		&id,
		&p.SessionID,
		&p.Name,
		&p.Score,
		&status,
		&p.ConnectionID,
		&profile,
		&p.HasProfile,
		&p.PeopleKnown,
		&p.PeopleWhoKnowYou,
		&p.WrongGuesses,
		&p.TimesAssigned,
		&lastMatchAt,
		&completedAt,
		&p.IsCompleted,
		&p.JoinedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan player: %w", err)
	}

	p.ID, _ = uuid.Parse(id)
	p.Status = models.ConnectionStatus(status)
	p.Matches = []models.Match{}
	if profile.Valid && profile.String != "" {
		if err := json.Unmarshal([]byte(profile.String), &p.Profile); err != nil {
			return nil, fmt.Errorf("failed to decode profile: %w", err)
		}
	}
	if lastMatchAt.Valid {
		p.LastMatchAt = &lastMatchAt.Time
	}
	if completedAt.Valid {
		p.CompletedAt = &completedAt.Time
	}

	return &p, nil
}

func affectedOne(res sql.Result, err error, op string) (bool, error) {
	if err != nil {
		return false, fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to %s: %w", op, err)
	}
	return n == 1, nil
}
