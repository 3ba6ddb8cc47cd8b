package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"example.com/word-battle/internal/battle"
	"github.com/gorilla/websocket"
)

const (
	sendBuffer   = 64
	pingInterval = 25 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type StatePayload struct {
	Battle battle.Battle  `json:"battle"`
	Events []battle.Event `json:"events,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type clientConn struct {
	userID string
	ws     *websocket.Conn
	send   chan []byte

	closeOnce sync.Once
}

func (c *clientConn) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Hub fans committed battle changes out to the sockets watching that battle.
type Hub struct {
	log *slog.Logger

	mu   sync.Mutex
	subs map[string]map[*clientConn]struct{}
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log, subs: make(map[string]map[*clientConn]struct{})}
}

// Publish never blocks the caller; a client whose buffer is full is dropped.
func (h *Hub) Publish(b battle.Battle, evs []battle.Event) {
	msg, err := encodeEnvelope("state", StatePayload{Battle: b, Events: evs})
	if err != nil {
		h.log.Error("encode battle state", "battle_id", b.ID, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.subs[b.ID] {
		select {
		case c.send <- msg:
		default:
			h.log.Warn("dropping slow watcher", "battle_id", b.ID, "user_id", c.userID)
			h.removeLocked(b.ID, c)
		}
	}
}

// Watchers reports how many sockets are attached to a battle.
func (h *Hub) Watchers(battleID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[battleID])
}

func (h *Hub) attach(battleID string, c *clientConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[battleID]
	if !ok {
		set = make(map[*clientConn]struct{})
		h.subs[battleID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) detach(battleID string, c *clientConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(battleID, c)
}

func (h *Hub) removeLocked(battleID string, c *clientConn) {
	set := h.subs[battleID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.subs, battleID)
	}
	c.close()
}

// WatchHandler serves GET /ws/battles/{id}. The caller must be a participant;
// while the socket is open the player is marked connected.
type WatchHandler struct {
	Battles *battle.Service
	Hub     *Hub
	Log     *slog.Logger
}

func (h *WatchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	battleID := r.PathValue("id")
	userID := callerID(r)

	b, err := h.Battles.GetBattle(r.Context(), userID, battleID)
	if err != nil {
		writeBattleError(w, h.Log, err)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	cc := &clientConn{userID: userID, ws: ws, send: make(chan []byte, sendBuffer)}
	h.Hub.attach(battleID, cc)

	done := make(chan struct{})
	go func() {
		defer close(done)
		writeLoop(cc)
	}()

	// initial state, then the connection flag which every watcher sees
	if msg, err := encodeEnvelope("state", StatePayload{Battle: b}); err == nil {
		trySend(h.Hub, cc, msg)
	}
	ctx := context.WithoutCancel(r.Context())
	if err := h.Battles.SetConnected(ctx, userID, battleID, true); err != nil {
		h.Log.Warn("mark connected", "battle_id", battleID, "user_id", userID, "err", err)
	}

	h.readLoop(ctx, battleID, cc)

	h.Hub.detach(battleID, cc)
	<-done
	_ = ws.Close()
	if err := h.Battles.SetConnected(ctx, userID, battleID, false); err != nil {
		h.Log.Warn("mark disconnected", "battle_id", battleID, "user_id", userID, "err", err)
	}
}

func (h *WatchHandler) readLoop(ctx context.Context, battleID string, cc *clientConn) {
	cc.ws.SetReadLimit(4096)
	_ = cc.ws.SetReadDeadline(time.Now().Add(pongWait))
	cc.ws.SetPongHandler(func(string) error {
		return cc.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := cc.ws.ReadMessage()
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.sendError(cc, "bad_json", "invalid json")
			continue
		}

		switch env.Type {
		case "ping":
			if msg, err := encodeEnvelope("pong", nil); err == nil {
				trySend(h.Hub, cc, msg)
			}

		case "check_timeout":
			// state changes reach this socket through the hub
			if _, err := h.Battles.CheckPhaseTimeout(ctx, cc.userID, battleID); err != nil {
				h.sendError(cc, string(codeFor(err)), err.Error())
			}

		default:
			h.sendError(cc, "unknown_type", "unknown message type")
		}
	}
}

func (h *WatchHandler) sendError(cc *clientConn, code, msg string) {
	if m, err := encodeEnvelope("error", ErrorPayload{Code: code, Message: msg}); err == nil {
		trySend(h.Hub, cc, m)
	}
}

func codeFor(err error) battle.Code {
	if c := battle.CodeOf(err); c != "" {
		return c
	}
	return "internal"
}

// trySend queues msg unless the client is gone or saturated. It holds the hub
// lock so it never races with close.
func trySend(h *Hub, c *clientConn, msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.subs {
		if _, ok := set[c]; ok {
			select {
			case c.send <- msg:
			default:
			}
			return
		}
	}
}

func writeLoop(c *clientConn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = c.ws.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.ws.Close()
				return
			}
		}
	}
}

func encodeEnvelope(typ string, payload any) ([]byte, error) {
	env := Envelope{Type: typ}
	if payload != nil {
		p, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = p
	}
	return json.Marshal(env)
}
