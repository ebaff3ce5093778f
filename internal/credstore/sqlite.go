// ABOUTME: SQLite credential backend using modernc.org/sqlite
// ABOUTME: Creates the schema on open and keeps one row per credential key

package credstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend persists credentials in a single-table SQLite database so
// that every client instance on the machine shares one source of truth.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// NewSQLiteBackend opens (or creates) the credential database at the given
// path. Parent directories are created if needed.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating credential directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening credential database: %w", err)
	}

	// WAL keeps concurrent client instances from blocking each other
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	b := &SQLiteBackend{db: db, path: path}
	if err := b.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS credentials (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`
	if _, err := b.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Get returns the stored value for key, or ErrNotFound.
func (b *SQLiteBackend) Get(key string) (string, error) {
	var value string
	err := b.db.QueryRow("SELECT value FROM credentials WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying credential %s: %w", key, err)
	}
	return value, nil
}

// Set upserts the value for key. An empty value deletes the row so absence
// and emptiness stay indistinguishable, matching Get.
func (b *SQLiteBackend) Set(key, value string) error {
	if value == "" {
		if _, err := b.db.Exec("DELETE FROM credentials WHERE key = ?", key); err != nil {
			return fmt.Errorf("deleting credential %s: %w", key, err)
		}
		return nil
	}

	query := `
		INSERT INTO credentials (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := b.db.Exec(query, key, value, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("upserting credential %s: %w", key, err)
	}
	return nil
}

// DeleteAll removes every listed key in one statement.
func (b *SQLiteBackend) DeleteAll(keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(keys)), ", ")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	if _, err := b.db.Exec("DELETE FROM credentials WHERE key IN ("+placeholders+")", args...); err != nil {
		return fmt.Errorf("deleting credentials: %w", err)
	}
	return nil
}

// Path returns the database file path, used by the change watcher.
func (b *SQLiteBackend) Path() string {
	return b.path
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
