package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PlayerStats struct {
	UserID    string
	Wins      int
	Losses    int
	Draws     int
	UpdatedAt time.Time
}

// Outcome is one player's result in a finished battle.
type Outcome int

const (
	OutcomeLoss Outcome = iota
	OutcomeWin
	OutcomeDraw
)

type StatsStore struct {
	db *pgxpool.Pool
}

func NewStatsStore(db *pgxpool.Pool) *StatsStore {
	return &StatsStore{db: db}
}

func (s *StatsStore) InitForUser(ctx context.Context, userID string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO player_stats (user_id, wins, losses, draws)
		VALUES ($1, 0, 0, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	return err
}

func (s *StatsStore) Get(ctx context.Context, userID string) (PlayerStats, error) {
	var st PlayerStats
	err := s.db.QueryRow(ctx, `
		SELECT user_id, wins, losses, draws, updated_at
		FROM player_stats
		WHERE user_id=$1
	`, userID).Scan(&st.UserID, &st.Wins, &st.Losses, &st.Draws, &st.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		// a user who never finished a battle has no row yet
		return PlayerStats{UserID: userID}, nil
	}
	if err != nil {
		return PlayerStats{}, err
	}
	return st, nil
}

// Record bumps the counters of every player in one transaction.
func (s *StatsStore) Record(ctx context.Context, outcomes map[string]Outcome) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		return recordOutcomes(ctx, tx, outcomes)
	})
}

func recordOutcomes(ctx context.Context, tx pgx.Tx, outcomes map[string]Outcome) error {
	batch := &pgx.Batch{}
	for userID, o := range outcomes {
		var win, loss, draw int
		switch o {
		case OutcomeWin:
			win = 1
		case OutcomeDraw:
			draw = 1
		default:
			loss = 1
		}
		batch.Queue(`
			INSERT INTO player_stats (user_id, wins, losses, draws, updated_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (user_id) DO UPDATE SET
				wins = player_stats.wins + EXCLUDED.wins,
				losses = player_stats.losses + EXCLUDED.losses,
				draws = player_stats.draws + EXCLUDED.draws,
				updated_at = now()
		`, userID, win, loss, draw)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("update player stats: %w", err)
	}
	return nil
}
