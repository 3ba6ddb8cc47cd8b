package httpapi

import (
	"context"
	"net/http"
	"strings"

	"example.com/word-battle/internal/auth"
)

type ctxKey string

const userIDKey ctxKey = "userID"

type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// AuthMiddleware resolves the caller from a bearer token. Browsers cannot set
// headers on a WebSocket handshake, so a token query parameter is accepted too.
func AuthMiddleware(tokens TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ""
			if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
				token = strings.TrimPrefix(h, "Bearer ")
			} else {
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing bearer token")
				return
			}

			claims, err := tokens.Verify(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(userIDKey)
	s, ok := v.(string)
	return s, ok
}

// callerID is the resolved caller, or "" which the battle service rejects as
// unauthenticated.
func callerID(r *http.Request) string {
	id, _ := UserIDFromContext(r.Context())
	return id
}
