package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/word-battle/internal/store"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLen = 6

type UserRepository interface {
	Create(ctx context.Context, u store.User) error
	GetByEmail(ctx context.Context, email string) (store.User, error)
	GetByID(ctx context.Context, id string) (store.User, error)
}

type StatsRepository interface {
	InitForUser(ctx context.Context, userID string) error
	Get(ctx context.Context, userID string) (store.PlayerStats, error)
}

type HistoryReader interface {
	History(ctx context.Context, userID string, limit int) ([]store.ArchivedBattle, error)
}

type TokenSigner interface {
	SignWithName(userID, name string, ttl time.Duration) (string, error)
}

type AuthHandler struct {
	Users    UserRepository
	Stats    StatsRepository
	History  HistoryReader // optional
	Tokens   TokenSigner
	TokenTTL time.Duration
	Log      *slog.Logger
}

type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type RegisterResponse struct {
	ID string `json:"id"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"accessToken"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.DisplayName = strings.TrimSpace(req.DisplayName)

	if req.Email == "" || req.Password == "" || req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "email, password and displayName are required")
		return
	}
	if len(req.Password) < minPasswordLen {
		writeError(w, http.StatusBadRequest, "bad_request", "password must be at least "+strconv.Itoa(minPasswordLen)+" chars")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to hash password")
		return
	}

	u := store.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: string(hash),
		DisplayName:  req.DisplayName,
	}
	if err := h.Users.Create(r.Context(), u); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "email_taken", "email already exists")
			return
		}
		h.logger().Error("create user", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to create user")
		return
	}

	if err := h.Stats.InitForUser(r.Context(), u.ID); err != nil {
		h.logger().Warn("init stats", "user_id", u.ID, "err", err)
	}

	writeJSON(w, http.StatusCreated, RegisterResponse{ID: u.ID})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "email and password are required")
		return
	}

	u, err := h.Users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
		return
	}

	token, err := h.Tokens.SignWithName(u.ID, u.DisplayName, h.TokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to sign token")
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{AccessToken: token})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing auth context")
		return
	}

	u, err := h.Users.GetByID(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "user not found")
		return
	}

	st, err := h.Stats.Get(r.Context(), userID)
	if err != nil {
		h.logger().Error("load stats", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to load stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":          u.ID,
		"email":       u.Email,
		"displayName": u.DisplayName,
		"createdAt":   u.CreatedAt,
		"stats": map[string]any{
			"wins":   st.Wins,
			"losses": st.Losses,
			"draws":  st.Draws,
		},
	})
}

// MyHistory lists the caller's archived battles, newest first.
func (h *AuthHandler) MyHistory(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing auth context")
		return
	}
	if h.History == nil {
		writeError(w, http.StatusNotImplemented, "UNIMPLEMENTED", "history is not available")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	items, err := h.History.History(r.Context(), userID, limit)
	if err != nil {
		h.logger().Error("load history", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to load history")
		return
	}
	if items == nil {
		items = []store.ArchivedBattle{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"battles": items})
}

func (h *AuthHandler) logger() *slog.Logger {
	if h.Log == nil {
		return slog.Default()
	}
	return h.Log
}
