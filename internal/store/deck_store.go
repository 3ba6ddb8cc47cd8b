package store

import (
	"context"
	"errors"
	"fmt"

	"example.com/word-battle/internal/battle"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DeckStore struct {
	db *pgxpool.Pool
}

func NewDeckStore(db *pgxpool.Pool) *DeckStore {
	return &DeckStore{db: db}
}

// GetDeck returns the deck owner and its card ids in deck order.
func (s *DeckStore) GetDeck(ctx context.Context, deckID string) (battle.Deck, error) {
	d := battle.Deck{ID: deckID}
	err := s.db.QueryRow(ctx, `SELECT owner_id::text FROM decks WHERE id = $1`, deckID).Scan(&d.OwnerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return battle.Deck{}, &battle.Error{Code: battle.CodeNotFound, Message: "deck " + deckID + " not found"}
	}
	if err != nil {
		return battle.Deck{}, fmt.Errorf("select deck %s: %w", deckID, err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT card_id FROM deck_cards WHERE deck_id = $1 ORDER BY position`, deckID)
	if err != nil {
		return battle.Deck{}, fmt.Errorf("select deck cards %s: %w", deckID, err)
	}
	d.CardIDs, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return battle.Deck{}, fmt.Errorf("scan deck cards %s: %w", deckID, err)
	}
	return d, nil
}

// Save replaces the deck and its card list.
func (s *DeckStore) Save(ctx context.Context, d battle.Deck) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO decks (id, owner_id) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET owner_id = EXCLUDED.owner_id
		`, d.ID, d.OwnerID)
		if err != nil {
			return fmt.Errorf("upsert deck %s: %w", d.ID, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM deck_cards WHERE deck_id = $1`, d.ID); err != nil {
			return fmt.Errorf("clear deck %s: %w", d.ID, err)
		}
		rows := make([][]any, len(d.CardIDs))
		for i, id := range d.CardIDs {
			rows[i] = []any{d.ID, i, id}
		}
		_, err = tx.CopyFrom(ctx, pgx.Identifier{"deck_cards"}, []string{"deck_id", "position", "card_id"}, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("insert deck cards %s: %w", d.ID, err)
		}
		return nil
	})
}
