package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS nimbus_state (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
);`

// SQLiteStore is the default local backend. The database lives at
// <storagePath>/db/nimbus.db and is created on first open.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database under storagePath.
func OpenSQLite(ctx context.Context, storagePath string) (*SQLiteStore, error) {
	if storagePath == "" {
		return nil, newPersistError(ErrorStorageUnavailable, "", "storage path is empty", nil)
	}
	dir := filepath.Join(storagePath, "db")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, newPersistError(ErrorStorageUnavailable, "", "create storage directory", err)
	}
	path := filepath.Join(dir, "nimbus.db")
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, newPersistError(ErrorStorageUnavailable, "", "open sqlite", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, newPersistError(ErrorStorageUnavailable, "", "create schema", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM nimbus_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, newPersistError(ErrorStorageUnavailable, key, "read value", err)
	}
	return value, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nimbus_state (key, value, updated_at) VALUES (?, ?, strftime('%s','now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value)
	if err != nil {
		return newPersistError(ErrorWriteFailed, key, "upsert value", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM nimbus_state WHERE key = ?`, key); err != nil {
		return newPersistError(ErrorWriteFailed, key, "delete value", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
