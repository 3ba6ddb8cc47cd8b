package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"example.com/word-battle/internal/auth"
	"example.com/word-battle/internal/battle"
	"example.com/word-battle/internal/config"
	"example.com/word-battle/internal/httpapi"
	"example.com/word-battle/internal/metrics"
	"example.com/word-battle/internal/similarity"
	"example.com/word-battle/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg config.Config
	log *slog.Logger

	db  *pgxpool.Pool
	rdb *redis.Client

	srv *http.Server
}

func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	// --- Postgres ---
	dbpool, err := pgxpool.New(ctx, cfg.Postgres.URL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
		DB:   cfg.Redis.DB,
	})

	// Quick connectivity checks (fail fast).
	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := dbpool.Ping(pingCtx); err != nil {
		dbpool.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		dbpool.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping (%s db=%d): %w", cfg.Redis.Addr, cfg.Redis.DB, err)
	}

	m := metrics.New()
	authSvc := auth.NewService([]byte(cfg.Auth.Secret))

	// --- Stores ---
	users := store.NewUserStore(dbpool)
	stats := store.NewStatsStore(dbpool)
	results := store.NewResultStore(dbpool)

	// --- Battles ---
	hub := httpapi.NewHub(log)
	battles := battle.NewService(battle.Config{
		Budgets:       cfg.Budgets(),
		WinScore:      cfg.Game.WinScore,
		OracleTimeout: cfg.Oracle.Timeout,
		NeutralScore:  cfg.Oracle.NeutralScore,
	}, battle.Deps{
		Store:     battle.NewRedisBattleStore(rdb, cfg.Redis.BattleTTL),
		Catalog:   store.NewCardStore(dbpool, cfg.Postgres.CardCacheTTL),
		Decks:     store.NewDeckStore(dbpool),
		Oracle:    similarity.New(cfg.Oracle.URL, cfg.Oracle.Timeout),
		Publisher: hub,
		Recorder:  results,
		Observer:  m,
		Log:       log.With("component", "battle"),
	})

	mux := httpapi.NewRouter(httpapi.RouterDeps{
		Battles: battles,
		Auth: &httpapi.AuthHandler{
			Users:    users,
			Stats:    stats,
			History:  results,
			Tokens:   authSvc,
			TokenTTL: cfg.Auth.TokenTTL,
		},
		Tokens:  authSvc,
		Hub:     hub,
		Limiter: httpapi.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, m.RLRequests, m.RLBlocked),
		Metrics: m.Handler(),
		Log:     log.With("component", "http"),
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	return &App{cfg: cfg, log: log, db: dbpool, rdb: rdb, srv: srv}, nil
}

func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	a.log.Info("http server starting", "addr", a.cfg.HTTP.Addr, "env", a.cfg.Env)

	g.Go(func() error {
		err := a.srv.ListenAndServe()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		a.log.Info("http server shutting down")
		_ = a.srv.Shutdown(shutdownCtx)
		return nil
	})

	err := g.Wait()
	_ = a.Close(context.Background())
	return err
}

func (a *App) Close(ctx context.Context) error {
	// best-effort
	if a.db != nil {
		a.db.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	return nil
}
