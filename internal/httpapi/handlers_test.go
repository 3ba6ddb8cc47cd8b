package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"example.com/word-battle/internal/auth"
	"example.com/word-battle/internal/battle"
	"example.com/word-battle/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var words = []string{
	"sun", "moon", "star", "sky", "cloud", "rain", "snow",
	"river", "sea", "lake", "hill", "stone", "tree", "leaf",
}

type catalogStub struct{ c *battle.Catalog }

func (s catalogStub) GetCard(_ context.Context, id string) (battle.Card, error) {
	c, ok := s.c.Card(id)
	if !ok {
		return battle.Card{}, &battle.Error{Code: battle.CodeNotFound, Message: "card " + id + " not found"}
	}
	return c, nil
}

func (s catalogStub) FindByText(_ context.Context, text string) (battle.Card, bool, error) {
	c, ok := s.c.ByText(text)
	return c, ok, nil
}

func (s catalogStub) AllCards(context.Context) ([]battle.Card, error) { return s.c.Cards(), nil }

type decksStub map[string]battle.Deck

func (s decksStub) GetDeck(_ context.Context, id string) (battle.Deck, error) {
	d, ok := s[id]
	if !ok {
		return battle.Deck{}, &battle.Error{Code: battle.CodeNotFound, Message: "deck " + id + " not found"}
	}
	return d, nil
}

type oracleStub struct{}

func (oracleStub) Similarity(context.Context, string, string) (float64, error) { return 0.6, nil }

func (oracleStub) Analyze(context.Context, []string, []string) ([]string, error) {
	return []string{"moon"}, nil
}

type testServer struct {
	ts     *httptest.Server
	tokens *auth.Service
	hub    *Hub
}

func newTestServer(t *testing.T, limiter *RateLimiter) *testServer {
	t.Helper()

	cards := make([]battle.Card, len(words))
	ids := make([]string, len(words))
	for i, w := range words {
		ids[i] = "c" + string(rune('a'+i))
		cards[i] = battle.Card{ID: ids[i], Text: w, Rarity: battle.RarityCommon}
	}
	decks := decksStub{
		"d1": {ID: "d1", OwnerID: "u1", CardIDs: ids[:7]},
		"d2": {ID: "d2", OwnerID: "u2", CardIDs: ids[7:]},
	}

	hub := NewHub(nil)
	svc := battle.NewService(battle.Config{Budgets: battle.DefaultBudgets()}, battle.Deps{
		Store:     battle.NewInMemoryBattleStore(),
		Catalog:   catalogStub{c: battle.NewCatalog(cards)},
		Decks:     decks,
		Oracle:    oracleStub{},
		Publisher: hub,
		Rand:      battle.NewLockedRand(1, 2),
	})
	tokens := auth.NewService([]byte("test-secret"))

	mux := NewRouter(RouterDeps{Battles: svc, Tokens: tokens, Hub: hub, Limiter: limiter})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return &testServer{ts: ts, tokens: tokens, hub: hub}
}

func (s *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := s.tokens.Sign(userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, userID string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.ts.URL+path, &buf)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(t, userID))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (s *testServer) create(t *testing.T) string {
	t.Helper()
	code, out := s.do(t, http.MethodPost, "/api/battles", "u1", map[string]any{
		"playerIds": []string{"u1", "u2"},
		"deckIds":   []string{"d1", "d2"},
	})
	require.Equal(t, http.StatusCreated, code, out)
	id, _ := out["battleId"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestBattleHandlers_CreateAndGet(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.create(t)

	code, out := s.do(t, http.MethodGet, "/api/battles/"+id, "u2", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, id, out["id"])
	assert.Equal(t, "field_card_presentation", out["currentPhase"])
	assert.Len(t, out["players"], 2)

	code, out = s.do(t, http.MethodGet, "/api/battles", "u1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, out["battles"], 1)
}

func TestBattleHandlers_ErrorMapping(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.create(t)

	cases := []struct {
		name     string
		method   string
		path     string
		userID   string
		body     any
		wantCode int
		wantErr  string
	}{
		{
			name: "no token", method: http.MethodGet, path: "/api/battles/" + id,
			wantCode: http.StatusUnauthorized, wantErr: "UNAUTHENTICATED",
		},
		{
			name: "outsider", method: http.MethodGet, path: "/api/battles/" + id, userID: "u3",
			wantCode: http.StatusForbidden, wantErr: "FORBIDDEN",
		},
		{
			name: "unknown battle", method: http.MethodGet, path: "/api/battles/nope", userID: "u1",
			wantCode: http.StatusNotFound, wantErr: "NOT_FOUND",
		},
		{
			name: "submit during presentation", method: http.MethodPost, path: "/api/battles/" + id + "/submit", userID: "u1",
			body:     map[string]any{"userId": "u1", "cardId": "ca", "submissionType": "normal"},
			wantCode: http.StatusConflict, wantErr: "INVALID_PHASE",
		},
		{
			name: "acting for the opponent", method: http.MethodPost, path: "/api/battles/" + id + "/respond", userID: "u1",
			body:     map[string]any{"userId": "u2", "responseType": "call"},
			wantCode: http.StatusForbidden, wantErr: "FORBIDDEN",
		},
		{
			name: "three players", method: http.MethodPost, path: "/api/battles", userID: "u1",
			body:     map[string]any{"playerIds": []string{"u1", "u2", "u3"}, "deckIds": []string{"d1", "d2", "d1"}},
			wantCode: http.StatusNotImplemented, wantErr: "UNIMPLEMENTED",
		},
		{
			name: "listing someone else", method: http.MethodGet, path: "/api/battles?userId=u2", userID: "u1",
			wantCode: http.StatusForbidden, wantErr: "FORBIDDEN",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, out := s.do(t, tc.method, tc.path, tc.userID, tc.body)
			assert.Equal(t, tc.wantCode, code)
			assert.Equal(t, tc.wantErr, out["code"])
		})
	}
}

func TestBattleHandlers_BadJSON(t *testing.T) {
	s := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodPost, s.ts.URL+"/api/battles", strings.NewReader("{"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+s.token(t, "u1"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBattleHandlers_TimeoutNotYetDue(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.create(t)

	code, out := s.do(t, http.MethodPost, "/api/battles/"+id+"/timeout", "u1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, out["timedOut"])
}

func TestRateLimiter(t *testing.T) {
	s := newTestServer(t, NewRateLimiter(0.001, 1, nil, nil))
	id := s.create(t)

	code, out := s.do(t, http.MethodPost, "/api/battles/"+id+"/timeout", "u1", nil)
	require.Equal(t, http.StatusOK, code, out)
	code, out = s.do(t, http.MethodPost, "/api/battles/"+id+"/timeout", "u1", nil)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "rate_limited", out["code"])

	// buckets are per user and endpoint
	code, _ = s.do(t, http.MethodPost, "/api/battles/"+id+"/timeout", "u2", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestRateLimiter_SweepsIdleVisitors(t *testing.T) {
	l := NewRateLimiter(1, 1, nil, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	require.True(t, l.Allow("a"))
	now = now.Add(visitorIdle + time.Second)
	l.mu.Lock()
	l.sweep(now)
	l.mu.Unlock()
	assert.Empty(t, l.visitors)
}

type usersStub struct{ byEmail map[string]store.User }

func (u *usersStub) Create(_ context.Context, usr store.User) error {
	if _, ok := u.byEmail[usr.Email]; ok {
		return store.ErrEmailTaken
	}
	u.byEmail[usr.Email] = usr
	return nil
}

func (u *usersStub) GetByEmail(_ context.Context, email string) (store.User, error) {
	usr, ok := u.byEmail[email]
	if !ok {
		return store.User{}, store.ErrUserNotFound
	}
	return usr, nil
}

func (u *usersStub) GetByID(_ context.Context, id string) (store.User, error) {
	for _, usr := range u.byEmail {
		if usr.ID == id {
			return usr, nil
		}
	}
	return store.User{}, store.ErrUserNotFound
}

type statsStub struct{}

func (statsStub) InitForUser(context.Context, string) error { return nil }

func (statsStub) Get(_ context.Context, userID string) (store.PlayerStats, error) {
	return store.PlayerStats{UserID: userID, Wins: 2, Losses: 1}, nil
}

type historyStub struct{}

func (historyStub) History(_ context.Context, userID string, limit int) ([]store.ArchivedBattle, error) {
	return []store.ArchivedBattle{{ID: "b1", PlayerIDs: []string{userID, "u2"}, WinnerIDs: []string{userID}, Rounds: 3}}, nil
}

func TestAuthHandlers(t *testing.T) {
	tokens := auth.NewService([]byte("test-secret"))
	users := &usersStub{byEmail: map[string]store.User{}}
	h := &AuthHandler{Users: users, Stats: statsStub{}, History: historyStub{}, Tokens: tokens, TokenTTL: time.Hour}
	ts := httptest.NewServer(NewRouter(RouterDeps{Auth: h, Tokens: tokens}))
	defer ts.Close()

	post := func(path string, body any) *http.Response {
		b, _ := json.Marshal(body)
		resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
		require.NoError(t, err)
		return resp
	}

	resp := post("/api/auth/register", RegisterRequest{Email: " Ann@Example.com", Password: "secret1", DisplayName: "Ann"})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	u, err := users.GetByEmail(context.Background(), "ann@example.com")
	require.NoError(t, err)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("secret1")))

	resp = post("/api/auth/register", RegisterRequest{Email: "ann@example.com", Password: "secret1", DisplayName: "Ann"})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = post("/api/auth/register", RegisterRequest{Email: "bob@example.com", Password: "123", DisplayName: "Bob"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post("/api/auth/login", LoginRequest{Email: "ann@example.com", Password: "wrong"})
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = post("/api/auth/login", LoginRequest{Email: "ann@example.com", Password: "secret1"})
	var lr LoginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&lr))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	claims, err := tokens.Verify(lr.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)

	get := func(path string) map[string]any {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+path, nil)
		req.Header.Set("Authorization", "Bearer "+lr.AccessToken)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	me := get("/api/me")
	assert.Equal(t, "Ann", me["displayName"])
	assert.Equal(t, float64(2), me["stats"].(map[string]any)["wins"])

	hist := get("/api/me/history?limit=5")
	assert.Len(t, hist["battles"], 1)
}
