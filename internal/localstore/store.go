// Package localstore handles on-device persistence: the last difficulty
// value, the encoded hit-history blob and the anonymous player id. Values
// survive process restarts.
package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Fixed preference keys. The payload formats behind them are legacy and must
// not change (see internal/difficulty for the history encoding).
const (
	keyLastDifficulty = "last_difficulty"
	keyHitHistory     = "hit_history"
	keyPlayerID       = "player_id"
)

// Store wraps SQLite access for local player data.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS prefs (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`)
	return err
}

func (s *Store) set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prefs (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set pref %s: %w", key, err)
	}
	return nil
}

// get returns "" without error when the key is absent.
func (s *Store) get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM prefs WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get pref %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM prefs WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete pref %s: %w", key, err)
	}
	return nil
}

// SaveLastDifficulty records the most recent cone timeout.
func (s *Store) SaveLastDifficulty(ctx context.Context, timeout float64) error {
	return s.set(ctx, keyLastDifficulty, strconv.FormatFloat(timeout, 'f', -1, 64))
}

// LastDifficulty returns the persisted timeout, or ok=false when none (or an
// unparsable one) is stored.
func (s *Store) LastDifficulty(ctx context.Context) (float64, bool, error) {
	raw, err := s.get(ctx, keyLastDifficulty)
	if err != nil || raw == "" {
		return 0, false, err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, nil
	}
	return v, true, nil
}

// SaveHitHistory stores the encoded hit-history blob.
func (s *Store) SaveHitHistory(ctx context.Context, encoded string) error {
	return s.set(ctx, keyHitHistory, encoded)
}

// LoadHitHistory returns the encoded blob, "" when absent.
func (s *Store) LoadHitHistory(ctx context.Context) (string, error) {
	return s.get(ctx, keyHitHistory)
}

// DeleteHitHistory drops the stored history.
func (s *Store) DeleteHitHistory(ctx context.Context) error {
	return s.delete(ctx, keyHitHistory)
}

// SavePlayerID persists the anonymous identity.
func (s *Store) SavePlayerID(ctx context.Context, id string) error {
	return s.set(ctx, keyPlayerID, id)
}

// PlayerID returns the stored identity, "" when the player has never signed in.
func (s *Store) PlayerID(ctx context.Context) (string, error) {
	return s.get(ctx, keyPlayerID)
}
