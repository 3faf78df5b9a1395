// Package store handles database connectivity, migrations, and persistence
// for the Acquisition Engine. It supports both SQLite (default, no external
// dependencies) and PostgreSQL (for larger deployments), following the same
// dual-driver approach the rest of this module's ambient stack uses.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Store wraps a database connection and provides all data access methods
// for the Source/Review/sync-lock schema.
type Store struct {
	db     *sql.DB
	driver string
}

// Open opens a database connection. The URL can be:
//   - A file path like "reviews.db" → SQLite
//   - "sqlite:///path/to/file.db" → SQLite
//   - "postgres://..." → PostgreSQL
func Open(databaseURL string) (*Store, error) {
	driver, dsn := detectDriver(databaseURL)

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if driver == "sqlite" {
		// WAL mode lets the Materializer's transactional writes proceed
		// alongside concurrent reads on other connections.
		const sqliteMaxConns = 4
		db.SetMaxOpenConns(sqliteMaxConns)
		db.SetMaxIdleConns(sqliteMaxConns)

		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA foreign_keys=ON",
			"PRAGMA synchronous=NORMAL",
		} {
			if _, err := db.Exec(pragma); err != nil {
				return nil, fmt.Errorf("sqlite pragma (%s): %w", pragma, err)
			}
		}

		slog.Info("sqlite database opened", "max_conns", sqliteMaxConns)
	}

	return &Store{db: db, driver: driver}, nil
}

// commonMigrations lists DDL statements shared between SQLite and PostgreSQL.
var commonMigrations = []string{
	`CREATE TABLE IF NOT EXISTS sources (
		id               TEXT NOT NULL PRIMARY KEY,
		organization_id  TEXT NOT NULL UNIQUE,
		name             TEXT NOT NULL DEFAULT '',
		url              TEXT NOT NULL DEFAULT '',
		rating           REAL NOT NULL DEFAULT 0,
		total_reviews    INTEGER NOT NULL DEFAULT 0,
		last_synced_at   TEXT NOT NULL DEFAULT '',
		created_at       TEXT NOT NULL DEFAULT '',
		updated_at       TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS reviews (
		id                  TEXT NOT NULL PRIMARY KEY,
		source_id           TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
		yandex_id           TEXT NOT NULL DEFAULT '',
		author              TEXT NOT NULL DEFAULT '',
		rating              INTEGER NOT NULL DEFAULT 0,
		text                TEXT NOT NULL DEFAULT '',
		branch              TEXT NOT NULL DEFAULT '',
		published_at        TEXT NOT NULL DEFAULT '',
		content_fingerprint TEXT NOT NULL DEFAULT '',
		created_at          TEXT NOT NULL DEFAULT '',
		updated_at          TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS reviews_source_id ON reviews(source_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS reviews_source_yandex_id ON reviews(source_id, yandex_id) WHERE yandex_id <> ''`,
	`CREATE INDEX IF NOT EXISTS reviews_source_fingerprint ON reviews(source_id, content_fingerprint)`,
	`CREATE INDEX IF NOT EXISTS reviews_source_published ON reviews(source_id, published_at)`,
	`CREATE TABLE IF NOT EXISTS sync_locks (
		source_id    TEXT NOT NULL PRIMARY KEY,
		owner_token  TEXT NOT NULL,
		locked_until TEXT NOT NULL
	)`,
}

// Migrate runs all pending database migrations.
func (s *Store) Migrate() error {
	slog.Info("running database migrations")
	for _, m := range commonMigrations {
		if _, err := s.db.Exec(m); err != nil {
			if s.driver == "postgres" && strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	slog.Info("migrations complete")
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for packages (like synclock) that share
// this connection pool for their own tables.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Driver reports which SQL driver backs this Store ("sqlite" or "postgres").
func (s *Store) Driver() string {
	return s.driver
}

// ph returns the nth SQL placeholder token for this driver: SQLite uses a
// bare "?" regardless of position, PostgreSQL uses "$n".
func (s *Store) ph(n int) string {
	if s.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func detectDriver(u string) (driver, dsn string) {
	if strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://") {
		return "postgres", u
	}
	if strings.HasPrefix(u, "sqlite://") {
		return "sqlite", strings.TrimPrefix(u, "sqlite://")
	}
	return "sqlite", u
}
