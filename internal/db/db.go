package db

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Init opens the auth store. Two drivers are supported: embedded sqlite for
// single-node deployments, pgx for a shared Postgres.
func Init(driver, connection string) (*sqlx.DB, error) {
	if driver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(connection), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	database, err := sqlx.Connect(driver, connection)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	// Login traffic is bursty; a small warm pool covers it, and recycling
	// connections picks up a failed-over Postgres within minutes.
	database.SetMaxOpenConns(25)
	database.SetMaxIdleConns(5)
	database.SetConnMaxLifetime(5 * time.Minute)

	slog.Info("auth store connected", "driver", driver)
	return database, nil
}

func Close(database *sqlx.DB) error {
	if database == nil {
		return nil
	}
	return database.Close()
}
