package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/findosh/mingle/internal/config"
	"github.com/findosh/mingle/internal/middleware"
	"github.com/findosh/mingle/internal/models"
	"github.com/findosh/mingle/internal/realtime"
	"github.com/findosh/mingle/internal/services/assignment"
	"github.com/findosh/mingle/internal/services/auth"
	"github.com/findosh/mingle/internal/services/broadcast"
	"github.com/findosh/mingle/internal/services/lobby"
	"github.com/findosh/mingle/internal/services/matching"
	"github.com/findosh/mingle/internal/services/presence"
	"github.com/findosh/mingle/internal/storage"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	players *storage.PlayerRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{
		SecretKey:         "test-secret",
		TokenDuration:     time.Hour,
		DefaultMaxPlayers: 10,
		ThrottleInterval:  time.Hour,
	}

	db, err := storage.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	sessions := storage.NewSessionRepository(db)
	players := storage.NewPlayerRepository(db)
	hub := realtime.NewHub(false)
	leaderboards := lobby.NewLeaderboards(sessions, players)
	throttler := broadcast.NewThrottler(cfg.ThrottleInterval, leaderboards, hub)
	t.Cleanup(throttler.Close)

	authService := auth.NewService(cfg)
	h := New(
		cfg,
		authService,
		lobby.NewService(sessions, players, authService, hub, throttler, cfg.DefaultMaxPlayers),
		leaderboards,
		presence.NewManager(sessions, players, authService, hub, throttler),
		assignment.NewEngine(players),
		matching.NewProtocol(players, matching.DefaultRewards(), hub, throttler),
		hub,
	)

	srv := httptest.NewServer(middleware.Chain(h.Routes(middleware.NewAuth(authService)), middleware.Recover))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, players: players}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func (s *testServer) createSession(t *testing.T) {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/api/sessions", "", map[string]interface{}{
		"id":          "abc",
		"name":        "Mixer",
		"max_players": 4,
		"questions":   []models.Question{{Field: "food", Prompt: "Favourite food?"}},
		"host_pin":    "1234",
	}, nil)
	require.Equal(t, http.StatusCreated, status, body)
	assert.Nil(t, body["host_pin_hash"])
}

type joined struct {
	id    string
	token string
}

func (s *testServer) join(t *testing.T, name string) joined {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/api/join", "", map[string]string{"session_id": "abc", "name": name}, nil)
	require.Equal(t, http.StatusCreated, status, body)
	self := body["self"].(map[string]interface{})
	return joined{id: self["id"].(string), token: body["token"].(string)}
}

func TestGameFlow(t *testing.T) {
	s := newTestServer(t)
	s.createSession(t)

	a := s.join(t, "Ana")
	b := s.join(t, "Ben")
	for _, p := range []joined{a, b} {
		status, body := s.do(t, http.MethodPost, "/api/profile", p.token, map[string]interface{}{
			"answers": map[string]string{"food": "pizza"},
		}, nil)
		require.Equal(t, http.StatusOK, status, body)
	}

	status, _ := s.do(t, http.MethodPost, "/api/sessions/abc/start", "", nil, map[string]string{"X-Host-PIN": "9999"})
	assert.Equal(t, http.StatusForbidden, status)
	status, body := s.do(t, http.MethodPost, "/api/sessions/abc/start", "", nil, map[string]string{"X-Host-PIN": "1234"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "playing", body["status"])

	status, body = s.do(t, http.MethodPost, "/api/assignments", a.token, nil, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, b.id, body["candidate_id"])

	status, body = s.do(t, http.MethodPost, "/api/matches", a.token, map[string]string{"found_id": b.id}, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["recorded"])
	assert.Equal(t, true, body["is_completed"])

	status, body = s.do(t, http.MethodPost, "/api/matches", a.token, map[string]string{"found_id": b.id}, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["already_recorded"])

	status, body = s.do(t, http.MethodPost, "/api/assignments", a.token, nil, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["exhausted"])

	status, body = s.do(t, http.MethodPost, "/api/guesses/wrong", b.token, nil, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, float64(-10), body["score"])

	status, body = s.do(t, http.MethodGet, "/api/sessions/abc/leaderboard", "", nil, nil)
	require.Equal(t, http.StatusOK, status, body)
	entries := body["entries"].([]interface{})
	require.Len(t, entries, 2)
	top := entries[0].(map[string]interface{})
	assert.Equal(t, "Ana", top["name"])
	assert.Equal(t, float64(100), top["score"])
	assert.Equal(t, "100", top["progress"])
}

func TestJoinReconnectWithToken(t *testing.T) {
	s := newTestServer(t)
	s.createSession(t)
	a := s.join(t, "Ana")

	status, _ := s.do(t, http.MethodPost, "/api/disconnect", a.token, nil, nil)
	require.Equal(t, http.StatusNoContent, status)
	status, body := s.do(t, http.MethodPost, "/api/sessions/abc/start", "", nil, map[string]string{"X-Host-PIN": "1234"})
	require.Equal(t, http.StatusOK, status, body)

	// New players are turned away once the game is running...
	status, _ = s.do(t, http.MethodPost, "/api/join", "", map[string]string{"session_id": "abc", "name": "Late"}, nil)
	assert.Equal(t, http.StatusConflict, status)

	// ...but a returning player gets back in
	status, body = s.do(t, http.MethodPost, "/api/join", "", map[string]string{"session_id": "abc", "token": a.token}, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["reconnected"])
	self := body["self"].(map[string]interface{})
	assert.Equal(t, a.id, self["id"])
	assert.Equal(t, "connected", self["status"])
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	s.createSession(t)

	status, _ := s.do(t, http.MethodGet, "/api/sessions/missing", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = s.do(t, http.MethodPost, "/api/sessions", "", map[string]string{"name": ""}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodPost, "/api/assignments", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.do(t, http.MethodPost, "/api/join", "", map[string]string{"session_id": "abc", "token": "garbage"}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	a := s.join(t, "Ana")
	status, _ = s.do(t, http.MethodPost, "/api/matches", a.token, map[string]string{"found_id": a.id}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodPost, "/api/matches", a.token, map[string]string{"found_id": uuid.NewString()}, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = s.do(t, http.MethodPost, "/api/assignments", a.token, map[string]string{"skip_id": "nope"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func readUntil(t *testing.T, conn *websocket.Conn, event string) realtime.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var env realtime.Envelope
		require.NoError(t, conn.ReadJSON(&env))
		if env.Event == event {
			return env
		}
	}
}

func TestWebSocketSnapshotAndEvents(t *testing.T) {
	s := newTestServer(t)
	s.createSession(t)

	q := url.Values{"session": {"abc"}, "name": {"Ana"}}
	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws?" + q.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	env := readUntil(t, conn, broadcast.EventSnapshot)
	snapshot := env.Data.(map[string]interface{})
	self := snapshot["self"].(map[string]interface{})
	assert.Equal(t, "Ana", self["name"])
	assert.NotEmpty(t, snapshot["token"])
	playerID, err := uuid.Parse(self["id"].(string))
	require.NoError(t, err)

	s.join(t, "Ben")
	env = readUntil(t, conn, broadcast.EventPlayerJoined)
	assert.Equal(t, "Ben", env.Data.(map[string]interface{})["name"])

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		p, err := s.players.GetByID(context.Background(), playerID)
		return err == nil && p != nil && p.Status == models.Disconnected
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWebSocketRejectsUnknownSession(t *testing.T) {
	s := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws?session=nope&name=Ana"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	s := newTestServer(t)
	s.createSession(t)

	status, _ := s.do(t, http.MethodGet, "/ws?session=abc&name=Ana", "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// No player was left behind by the refused request
	status, body := s.do(t, http.MethodGet, "/api/sessions/abc/leaderboard", "", nil, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Empty(t, body["entries"])
}
