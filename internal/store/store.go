// Package store persists canonical message records in SQLite and owns
// every mutation a record can undergo: append, edit with history,
// reaction toggling, deletion with media cleanup.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MediaResolver maps a chat id to the directory its media files live in.
// Implemented by the chat directory; injected so deletion can remove a
// message's media file without the store owning folder layout.
type MediaResolver interface {
	MediaDir(chatID string) (string, bool)
}

// Store wraps the messages table.
type Store struct {
	db     *sql.DB
	media  MediaResolver
	logger *slog.Logger
}

// New builds a Store over an already-migrated database handle.
func New(db *sql.DB, media MediaResolver, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: db, media: media, logger: log.With(slog.String("service", "store"))}
}

// OpenDB opens (or creates) the SQLite database at path and applies all
// pending migrations.
func OpenDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writers; a single connection avoids spurious
	// SQLITE_BUSY between the poll loop and the HTTP handlers.
	db.SetMaxOpenConns(1)
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func runMigrations(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
