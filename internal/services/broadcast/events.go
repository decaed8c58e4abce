package broadcast

// Room event names
const (
	EventLeaderboard       = "leaderboard-update"
	EventSessionState      = "session-state"
	EventPlayerJoined      = "player-joined"
	EventPlayerReconnected = "player-reconnected"
	EventPlayerLeft        = "player-left"
	EventMatchRecorded     = "match-recorded"
	EventPlayerCompleted   = "player-completed"
)

// EventSnapshot carries the full join/reconnect state to a single client
const EventSnapshot = "snapshot"
