package store

import (
	"context"
	"encoding/json"
	"fmt"

	"example.com/word-battle/internal/battle"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ResultStore archives finished battles and their round history, and updates
// player statistics in the same transaction.
type ResultStore struct {
	db *pgxpool.Pool
}

func NewResultStore(db *pgxpool.Pool) *ResultStore {
	return &ResultStore{db: db}
}

// Outcomes derives each player's stats outcome. Several winners share a draw.
func Outcomes(b battle.Battle) map[string]Outcome {
	out := make(map[string]Outcome, len(b.PlayerIDs))
	for _, id := range b.PlayerIDs {
		out[id] = OutcomeLoss
	}
	for _, id := range b.WinnerIDs {
		if len(b.WinnerIDs) == 1 {
			out[id] = OutcomeWin
		} else {
			out[id] = OutcomeDraw
		}
	}
	return out
}

// RecordFinished is idempotent: a battle already archived is left untouched
// and stats are not counted twice.
func (s *ResultStore) RecordFinished(ctx context.Context, b battle.Battle) error {
	if b.Status != battle.StatusFinished {
		return fmt.Errorf("archive battle %s: status is %s", b.ID, b.Status)
	}
	state, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal battle %s: %w", b.ID, err)
	}

	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO battles (id, player_ids, winner_ids, rounds, final_state, created_at, finished_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING
		`, b.ID, b.PlayerIDs, b.WinnerIDs, b.Round, state, b.CreatedAt, b.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert battle %s: %w", b.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, r := range b.RoundResults {
			raw, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("marshal round %d: %w", r.Round, err)
			}
			var winner *string
			if r.WinnerID != "" {
				winner = &r.WinnerID
			}
			batch.Queue(`
				INSERT INTO round_results (battle_id, round, winner_id, result, resolved_at)
				VALUES ($1, $2, $3, $4, $5)
			`, b.ID, r.Round, winner, raw, r.ResolvedAt)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert round results %s: %w", b.ID, err)
		}
		return recordOutcomes(ctx, tx, Outcomes(b))
	})
}

// ArchivedBattle is a summary row of a finished battle.
type ArchivedBattle struct {
	ID        string               `json:"id"`
	PlayerIDs []string             `json:"playerIds"`
	WinnerIDs []string             `json:"winnerIds"`
	Rounds    int                  `json:"rounds"`
	History   []battle.RoundResult `json:"roundResults"`
}

// History returns the user's most recent finished battles, newest first.
func (s *ResultStore) History(ctx context.Context, userID string, limit int) ([]ArchivedBattle, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, player_ids, winner_ids, rounds, final_state -> 'roundResults'
		FROM battles
		WHERE $1 = ANY(player_ids)
		ORDER BY finished_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("select history of %s: %w", userID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ArchivedBattle, error) {
		var a ArchivedBattle
		var raw []byte
		if err := row.Scan(&a.ID, &a.PlayerIDs, &a.WinnerIDs, &a.Rounds, &raw); err != nil {
			return ArchivedBattle{}, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &a.History); err != nil {
				return ArchivedBattle{}, fmt.Errorf("decode history of %s: %w", a.ID, err)
			}
		}
		return a, nil
	})
}
