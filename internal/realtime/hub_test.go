package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roomServer upgrades every request into the room named by ?session= and
// reports each subscriber it registers.
func roomServer(t *testing.T, hub *Hub) (*httptest.Server, chan *Subscriber) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	subs := make(chan *Subscriber, 8)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sessionID := r.URL.Query().Get("session")
		connID := r.URL.Query().Get("conn")
		sub := hub.Subscribe(sessionID, uuid.New(), connID, conn)
		subs <- sub

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				hub.Unsubscribe(sessionID, connID)
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, subs
}

func dial(t *testing.T, srv *httptest.Server, sessionID, connID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?session=" + sessionID + "&conn=" + connID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHub_PublishReachesOnlyTheRoom(t *testing.T) {
	hub := NewHub(false)
	srv, subs := roomServer(t, hub)

	a := dial(t, srv, "abc", "c1")
	<-subs
	b := dial(t, srv, "abc", "c2")
	<-subs
	other := dial(t, srv, "xyz", "c3")
	<-subs

	assert.Equal(t, 2, hub.SubscriberCount("abc"))
	assert.Equal(t, 1, hub.SubscriberCount("xyz"))

	require.NoError(t, hub.Publish("abc", "leaderboard-update", map[string]int{"score": 100}))

	for _, conn := range []*websocket.Conn{a, b} {
		env := readEnvelope(t, conn)
		assert.Equal(t, "leaderboard-update", env.Event)
		data, ok := env.Data.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, float64(100), data["score"])
	}

	other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := other.ReadMessage()
	assert.Error(t, err, "other room must not receive the event")
}

func TestHub_SendTargetsOneSubscriber(t *testing.T) {
	hub := NewHub(false)
	srv, subs := roomServer(t, hub)

	a := dial(t, srv, "abc", "c1")
	subA := <-subs

	require.NoError(t, hub.Send(subA, "snapshot", "hello"))
	env := readEnvelope(t, a)
	assert.Equal(t, "snapshot", env.Event)
	assert.Equal(t, "hello", env.Data)
}

func TestHub_UnsubscribeClosesSocket(t *testing.T) {
	hub := NewHub(false)
	srv, subs := roomServer(t, hub)

	a := dial(t, srv, "abc", "c1")
	sub := <-subs

	hub.Unsubscribe("abc", "c1")
	assert.Equal(t, 0, hub.SubscriberCount("abc"))

	a.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := a.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "expected normal close, got %v", err)

	// Sending to a closed subscriber fails without panicking
	assert.Error(t, hub.Send(sub, "snapshot", "late"))
}

func TestHub_PublishToEmptyRoom(t *testing.T) {
	hub := NewHub(true)
	assert.NoError(t, hub.Publish("nobody", "leaderboard-update", nil))
}

func TestHub_PublishRejectsUnencodablePayload(t *testing.T) {
	hub := NewHub(false)
	err := hub.Publish("abc", "bad", make(chan int))
	assert.Error(t, err)
}
