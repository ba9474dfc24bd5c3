// Package store provides the local persistence layer: a SQLite-backed
// key/value store with JSON values, plus typed helpers for the timetable
// snapshot, user preferences and the recent-school list.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get when no value exists under a key.
var ErrNotFound = errors.New("store: key not found")

// ErrCacheUnavailable is returned by ReadSnapshot when no snapshot has
// been written yet. Callers use it to distinguish "offline with nothing
// to show" from an empty timetable.
var ErrCacheUnavailable = errors.New("store: no cached snapshot")

// DB wraps the SQLite connection behind a small JSON key/value API.
// Writes are whole-value overwrites; concurrent writers on the same key
// resolve as last-write-wins.
type DB struct {
	conn *sql.DB
}

// Open opens or creates the SQLite database at path, enabling WAL mode
// and applying the schema.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// WAL keeps readers unblocked while the refresh loop writes.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`
	_, err := db.conn.Exec(schema)
	return err
}

// Get unmarshals the JSON value stored under key into dst. Returns
// ErrNotFound when the key is absent.
func (db *DB) Get(key string, dst any) error {
	var raw string
	err := db.conn.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decode %q: %w", key, err)
	}
	return nil
}

// Set marshals v as JSON and stores it under key, replacing any previous
// value in full.
func (db *DB) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	_, err = db.conn.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, string(raw))
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Remove deletes the value under key. Removing an absent key is not an
// error.
func (db *DB) Remove(key string) error {
	if _, err := db.conn.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}
