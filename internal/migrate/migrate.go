package migrate

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Up applies all pending migrations found in dir.
func Up(dbURL, dir string, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		return fmt.Errorf("migrations: open db: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("migrations: close db", "err", err)
		}
	}()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migrations: set dialect: %w", err)
	}

	log.Info("running database migrations", "dir", dir)
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("migrations: goose up: %w", err)
	}

	version, err := goose.GetDBVersion(db)
	if err != nil {
		return fmt.Errorf("migrations: read version: %w", err)
	}
	log.Info("database migrations applied", "version", version)
	return nil
}
