package httpapi

import (
	"log/slog"
	"net/http"

	"example.com/word-battle/internal/battle"
)

type RouterDeps struct {
	Battles *battle.Service
	Auth    *AuthHandler
	Tokens  TokenVerifier
	Hub     *Hub
	Limiter *RateLimiter // optional
	Metrics http.Handler // optional
	Log     *slog.Logger // optional
}

func NewRouter(d RouterDeps) *http.ServeMux {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	authed := AuthMiddleware(d.Tokens)
	limited := func(endpoint string, h http.Handler) http.Handler {
		return authed(rateLimited(d.Limiter, endpoint, h))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics)
	}

	if d.Auth != nil {
		if d.Auth.Log == nil {
			d.Auth.Log = d.Log
		}
		mux.Handle("POST /api/auth/register", rateLimited(d.Limiter, "register", http.HandlerFunc(d.Auth.Register)))
		mux.Handle("POST /api/auth/login", rateLimited(d.Limiter, "login", http.HandlerFunc(d.Auth.Login)))
		mux.Handle("GET /api/me", authed(http.HandlerFunc(d.Auth.Me)))
		mux.Handle("GET /api/me/history", authed(http.HandlerFunc(d.Auth.MyHistory)))
	}

	bh := &BattleHandler{Battles: d.Battles, Log: d.Log}
	mux.Handle("POST /api/battles", limited("create", http.HandlerFunc(bh.Create)))
	mux.Handle("GET /api/battles", authed(http.HandlerFunc(bh.List)))
	mux.Handle("GET /api/battles/{id}", authed(http.HandlerFunc(bh.Get)))
	mux.Handle("POST /api/battles/{id}/submit", limited("submit", http.HandlerFunc(bh.Submit)))
	mux.Handle("POST /api/battles/{id}/respond", limited("respond", http.HandlerFunc(bh.Respond)))
	mux.Handle("POST /api/battles/{id}/ready", limited("ready", http.HandlerFunc(bh.Ready)))
	mux.Handle("POST /api/battles/{id}/exchange", limited("exchange", http.HandlerFunc(bh.Exchange)))
	mux.Handle("POST /api/battles/{id}/generate", limited("generate", http.HandlerFunc(bh.Generate)))
	mux.Handle("POST /api/battles/{id}/next-round", limited("next_round", http.HandlerFunc(bh.NextRound)))
	mux.Handle("POST /api/battles/{id}/timeout", limited("timeout", http.HandlerFunc(bh.Timeout)))

	if d.Hub != nil {
		mux.Handle("GET /ws/battles/{id}", authed(&WatchHandler{Battles: d.Battles, Hub: d.Hub, Log: d.Log}))
	}
	return mux
}

func rateLimited(l *RateLimiter, endpoint string, h http.Handler) http.Handler {
	if l == nil {
		return h
	}
	return l.Middleware(endpoint)(h)
}
