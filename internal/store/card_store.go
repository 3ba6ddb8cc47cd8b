package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"example.com/word-battle/internal/battle"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CardStore is the Postgres card catalog. AllCards is served from a snapshot
// refreshed every cacheTTL, since every battle action reads the full catalog.
type CardStore struct {
	db       *pgxpool.Pool
	cacheTTL time.Duration

	mu       sync.RWMutex
	cached   []battle.Card
	loadedAt time.Time
}

func NewCardStore(db *pgxpool.Pool, cacheTTL time.Duration) *CardStore {
	return &CardStore{db: db, cacheTTL: cacheTTL}
}

func (s *CardStore) GetCard(ctx context.Context, cardID string) (battle.Card, error) {
	var c battle.Card
	err := s.db.QueryRow(ctx,
		`SELECT id, text, rarity FROM cards WHERE id = $1`, cardID,
	).Scan(&c.ID, &c.Text, &c.Rarity)
	if errors.Is(err, pgx.ErrNoRows) {
		return battle.Card{}, &battle.Error{Code: battle.CodeNotFound, Message: "card " + cardID + " not found"}
	}
	if err != nil {
		return battle.Card{}, fmt.Errorf("select card %s: %w", cardID, err)
	}
	return c, nil
}

// FindByText looks a card up by its exact text.
func (s *CardStore) FindByText(ctx context.Context, text string) (battle.Card, bool, error) {
	var c battle.Card
	err := s.db.QueryRow(ctx,
		`SELECT id, text, rarity FROM cards WHERE text = $1`, text,
	).Scan(&c.ID, &c.Text, &c.Rarity)
	if errors.Is(err, pgx.ErrNoRows) {
		return battle.Card{}, false, nil
	}
	if err != nil {
		return battle.Card{}, false, fmt.Errorf("select card by text: %w", err)
	}
	return c, true, nil
}

func (s *CardStore) AllCards(ctx context.Context) ([]battle.Card, error) {
	s.mu.RLock()
	if s.cached != nil && time.Since(s.loadedAt) < s.cacheTTL {
		cards := s.cached
		s.mu.RUnlock()
		return cards, nil
	}
	s.mu.RUnlock()

	rows, err := s.db.Query(ctx, `SELECT id, text, rarity FROM cards ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select cards: %w", err)
	}
	cards, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (battle.Card, error) {
		var c battle.Card
		err := row.Scan(&c.ID, &c.Text, &c.Rarity)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan cards: %w", err)
	}

	s.mu.Lock()
	s.cached, s.loadedAt = cards, time.Now()
	s.mu.Unlock()
	return cards, nil
}

// Upsert inserts or updates catalog entries and drops the cached snapshot.
func (s *CardStore) Upsert(ctx context.Context, cards []battle.Card) error {
	batch := &pgx.Batch{}
	for _, c := range cards {
		batch.Queue(`
			INSERT INTO cards (id, text, rarity) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET text = EXCLUDED.text, rarity = EXCLUDED.rarity
		`, c.ID, c.Text, string(c.Rarity))
	}
	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert cards: %w", err)
	}
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
	return nil
}
