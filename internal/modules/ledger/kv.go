// Package ledger stores the user's transaction ledger as one JSON document
// in a key-value store and serializes every read-modify-write on it.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// KV is a synchronous key-value store. Set replaces the whole value atomically.
type KV interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
}

// SQLiteKV implements KV on the kv table of ledger.db
type SQLiteKV struct {
	db *sql.DB
}

// NewSQLiteKV creates a KV backed by the given ledger database
func NewSQLiteKV(db *sql.DB) *SQLiteKV {
	return &SQLiteKV{db: db}
}

// Get returns the value for key; the boolean is false when the key is absent
func (k *SQLiteKV) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := k.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key
func (k *SQLiteKV) Set(key string, value []byte) error {
	_, err := k.db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}
