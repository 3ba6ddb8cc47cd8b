// Command seed loads a card catalog and starter decks into Postgres.
//
//	seed -file cards.json
//
// The file holds {"cards": [{"id","text","rarity"}], "decks": [{"id","ownerId","cardIds"}]}.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"example.com/word-battle/internal/battle"
	"example.com/word-battle/internal/config"
	"example.com/word-battle/internal/migrate"
	"example.com/word-battle/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
)

type seedFile struct {
	Cards []battle.Card `json:"cards"`
	Decks []seedDeck    `json:"decks"`
}

type seedDeck struct {
	ID      string   `json:"id"`
	OwnerID string   `json:"ownerId"`
	CardIDs []string `json:"cardIds"`
}

func main() {
	file := flag.String("file", "cards.json", "seed file")
	flag.Parse()

	if err := run(*file); err != nil {
		slog.Error("seed failed", "err", err)
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var sf seedFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if cfg.Postgres.RunMigrations {
		if err := migrate.Up(cfg.Postgres.URL, cfg.Postgres.MigrationsDir, nil); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	db, err := pgxpool.New(ctx, cfg.Postgres.URL)
	if err != nil {
		return fmt.Errorf("pgxpool: %w", err)
	}
	defer db.Close()

	if err := store.NewCardStore(db, 0).Upsert(ctx, sf.Cards); err != nil {
		return err
	}
	decks := store.NewDeckStore(db)
	for _, d := range sf.Decks {
		if err := decks.Save(ctx, battle.Deck{ID: d.ID, OwnerID: d.OwnerID, CardIDs: d.CardIDs}); err != nil {
			return err
		}
	}
	slog.Info("seed applied", "cards", len(sf.Cards), "decks", len(sf.Decks))
	return nil
}
