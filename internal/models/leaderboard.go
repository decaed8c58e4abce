package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LeaderboardEntry is one ranked row of a session leaderboard
type LeaderboardEntry struct {
	Rank          int              `json:"rank"`
	PlayerID      uuid.UUID        `json:"player_id"`
	Name          string           `json:"name"`
	Score         int              `json:"score"`
	Status        ConnectionStatus `json:"status"`
	MatchCount    int              `json:"match_count"`
	RequiredCount int              `json:"required_count"`
	Progress      decimal.Decimal  `json:"progress"` // percent of required matches
	IsCompleted   bool             `json:"is_completed"`
	LastMatchAt   *time.Time       `json:"last_match_at,omitempty"`
}

// Leaderboard is the full-state payload pushed to a session room
type Leaderboard struct {
	SessionID string             `json:"session_id"`
	Status    SessionStatus      `json:"status"`
	Entries   []LeaderboardEntry `json:"entries"`
	AsOf      time.Time          `json:"as_of"`
}

// CalculateProgress returns matches/required as a percentage rounded to one place
func CalculateProgress(matches, required int) decimal.Decimal {
	if required <= 0 {
		return decimal.Zero
	}
	if matches >= required {
		return decimal.NewFromInt(100)
	}
	return decimal.NewFromInt(int64(matches)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(required))).
		Round(1)
}

// RankPlayers turns players already ordered by score desc, last match asc
// into leaderboard entries. profileCount is the number of players in the
// session with a submitted profile.
func RankPlayers(players []*Player, profileCount int) []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(players))
	for i, p := range players {
		required := profileCount
		if p.HasProfile {
			required--
		}
		matchCount := p.PeopleKnown
		entries = append(entries, LeaderboardEntry{
			Rank:          i + 1,
			PlayerID:      p.ID,
			Name:          p.Name,
			Score:         p.Score,
			Status:        p.Status,
			MatchCount:    matchCount,
			RequiredCount: required,
			Progress:      CalculateProgress(matchCount, required),
			IsCompleted:   p.IsCompleted,
			LastMatchAt:   p.LastMatchAt,
		})
	}
	return entries
}
