package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"example.com/word-battle/internal/battle"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *testServer) dial(t *testing.T, battleID, userID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/ws/battles/" + battleID
	if userID != "" {
		u += "?token=" + s.token(t, userID)
	}
	return websocket.DefaultDialer.Dial(u, nil)
}

func readEnvelope(t *testing.T, c *websocket.Conn) (Envelope, StatePayload) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env Envelope
	require.NoError(t, c.ReadJSON(&env))
	var st StatePayload
	if env.Type == "state" {
		require.NoError(t, json.Unmarshal(env.Payload, &st))
	}
	return env, st
}

func TestWatch_StreamsStateAndTracksConnection(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.create(t)

	c1, _, err := s.dial(t, id, "u1")
	require.NoError(t, err)
	defer c1.Close()

	env, st := readEnvelope(t, c1)
	require.Equal(t, "state", env.Type)
	assert.Equal(t, id, st.Battle.ID)

	// own connection flag
	_, st = readEnvelope(t, c1)
	require.Len(t, st.Events, 1)
	assert.Equal(t, battle.EventConnection, st.Events[0].Kind)
	assert.True(t, st.Battle.Players[0].IsConnected)

	c2, _, err := s.dial(t, id, "u2")
	require.NoError(t, err)
	_, _ = readEnvelope(t, c2)

	// u1 sees u2 arrive
	_, st = readEnvelope(t, c1)
	assert.Equal(t, "u2", st.Events[0].UserID)
	assert.True(t, st.Battle.Players[1].IsConnected)

	require.NoError(t, c2.Close())
	_, st = readEnvelope(t, c1)
	assert.Equal(t, "u2", st.Events[0].UserID)
	assert.False(t, st.Battle.Players[1].IsConnected)

	require.Eventually(t, func() bool { return s.hub.Watchers(id) == 1 }, time.Second, 10*time.Millisecond)
}

func TestWatch_Messages(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.create(t)

	c, _, err := s.dial(t, id, "u1")
	require.NoError(t, err)
	defer c.Close()
	_, _ = readEnvelope(t, c)
	_, _ = readEnvelope(t, c)

	require.NoError(t, c.WriteJSON(Envelope{Type: "ping"}))
	env, _ := readEnvelope(t, c)
	assert.Equal(t, "pong", env.Type)

	require.NoError(t, c.WriteJSON(Envelope{Type: "dance"}))
	env, _ = readEnvelope(t, c)
	require.Equal(t, "error", env.Type)
	var ep ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &ep))
	assert.Equal(t, "unknown_type", ep.Code)

	// not due yet, nothing is published
	require.NoError(t, c.WriteJSON(Envelope{Type: "check_timeout"}))
	require.NoError(t, c.WriteJSON(Envelope{Type: "ping"}))
	env, _ = readEnvelope(t, c)
	assert.Equal(t, "pong", env.Type)
}

func TestWatch_Rejects(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.create(t)

	cases := []struct {
		name     string
		battleID string
		userID   string
		want     int
	}{
		{"no token", id, "", http.StatusUnauthorized},
		{"outsider", id, "u3", http.StatusForbidden},
		{"unknown battle", "nope", "u1", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, resp, err := s.dial(t, tc.battleID, tc.userID)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestHub_DropsSlowWatcher(t *testing.T) {
	h := NewHub(nil)
	c := &clientConn{userID: "u1", send: make(chan []byte, 1)}
	h.attach("b1", c)

	b := battle.Battle{ID: "b1"}
	h.Publish(b, nil)
	assert.Equal(t, 1, h.Watchers("b1"))

	h.Publish(b, nil)
	assert.Zero(t, h.Watchers("b1"))

	// closed and drained
	_, ok := <-c.send
	assert.True(t, ok)
	_, ok = <-c.send
	assert.False(t, ok)
}
