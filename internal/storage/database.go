// Package storage provides database access and repositories
package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// ErrDuplicate is returned when an insert collides with an existing primary key
var ErrDuplicate = errors.New("record already exists")

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// New creates a new database connection.
// SQLite admits a single writer, so the pool is capped at one connection;
// every conditional update then runs against the same serialized handle,
// and ":memory:" databases stay shared across callers.
func New(databaseURL string) (*DB, error) {
	db, err := sql.Open("sqlite3", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// WAL lets readers proceed while the writer commits
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return &DB{db}, nil
}

// Migrate runs database migrations
func (db *DB) Migrate() error {
	migrations := []string{
		createSessionsTable,
		createPlayersTable,
		createMatchesTable,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

func isDuplicate(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

const createSessionsTable = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	max_players INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'waiting',
	questions TEXT NOT NULL,
	host_pin_hash TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	started_at DATETIME,
	ended_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
`

// Player rows keep their implicit rowid: it is the stable insertion order
// used to break fairness ties.
const createPlayersTable = `
CREATE TABLE IF NOT EXISTS players (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	name TEXT NOT NULL,
	score INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'connected',
	connection_id TEXT NOT NULL DEFAULT '',
	profile TEXT,
	has_profile INTEGER NOT NULL DEFAULT 0,
	people_known INTEGER NOT NULL DEFAULT 0,
	people_who_know_you INTEGER NOT NULL DEFAULT 0,
	wrong_guesses INTEGER NOT NULL DEFAULT 0,
	times_assigned INTEGER NOT NULL DEFAULT 0,
	last_match_at DATETIME,
	completed_at DATETIME,
	is_completed INTEGER NOT NULL DEFAULT 0,
	joined_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_players_session_id ON players(session_id);
CREATE INDEX IF NOT EXISTS idx_players_assignment ON players(session_id, has_profile, times_assigned);
`

const createMatchesTable = `
CREATE TABLE IF NOT EXISTS matches (
	finder_id TEXT NOT NULL,
	found_id TEXT NOT NULL,
	found_name TEXT NOT NULL,
	proof TEXT NOT NULL DEFAULT '',
	matched_at DATETIME NOT NULL,
	PRIMARY KEY (finder_id, found_id),
	FOREIGN KEY (finder_id) REFERENCES players(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_matches_found_id ON matches(found_id);
`
