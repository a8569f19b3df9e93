// Package storage persists the tracker's state in SQLite: the live daily
// record under a fixed key, one history record per archived date, the user
// settings row, and sync credentials in a separate secrets table.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"incomed/internal/core"

	_ "modernc.org/sqlite"
)

const (
	keyDaily         = "daily"
	keySettings      = "settings"
	keyHistoryPrefix = "history:"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Get reads a raw state value. The second return is false when the key is absent.
func (r *Repository) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get state %q: %w", key, err)
	}
	return []byte(value), true, nil
}

// Set writes a raw state value, last write wins.
func (r *Repository) Set(ctx context.Context, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO state (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, string(value))
	if err != nil {
		return fmt.Errorf("set state %q: %w", key, err)
	}
	return nil
}

// SaveDailyRecord stores the live day under the fixed daily key.
func (r *Repository) SaveDailyRecord(ctx context.Context, rec core.DailyRecord) error {
	return r.setJSON(ctx, keyDaily, rec)
}

// LoadDailyRecord returns the live day, or nil when none was stored yet.
func (r *Repository) LoadDailyRecord(ctx context.Context) (*core.DailyRecord, error) {
	return r.loadRecord(ctx, keyDaily)
}

// SaveHistoryRecord archives a finished day under its date.
func (r *Repository) SaveHistoryRecord(ctx context.Context, rec core.DailyRecord) error {
	return r.setJSON(ctx, keyHistoryPrefix+rec.Date, rec)
}

// LoadHistoryRecord returns the archived day for the given date, or nil
// when there is no such record. Unknown dates are not an error.
func (r *Repository) LoadHistoryRecord(ctx context.Context, date string) (*core.DailyRecord, error) {
	return r.loadRecord(ctx, keyHistoryPrefix+date)
}

// SaveSettings stores the serialized user settings row.
func (r *Repository) SaveSettings(ctx context.Context, raw []byte) error {
	return r.Set(ctx, keySettings, raw)
}

// LoadSettings returns the serialized user settings row, if present.
func (r *Repository) LoadSettings(ctx context.Context) ([]byte, bool, error) {
	return r.Get(ctx, keySettings)
}

// GetSecret reads a sync credential by name.
func (r *Repository) GetSecret(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get secret %q: %w", name, err)
	}
	return value, true, nil
}

// StoreSecret writes a sync credential.
func (r *Repository) StoreSecret(ctx context.Context, name, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO secrets (name, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		name, value)
	if err != nil {
		return fmt.Errorf("store secret %q: %w", name, err)
	}
	return nil
}

// DeleteSecret removes a sync credential. Deleting an absent name is a no-op.
func (r *Repository) DeleteSecret(ctx context.Context, name string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM secrets WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete secret %q: %w", name, err)
	}
	return nil
}

func (r *Repository) setJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %q: %w", key, err)
	}
	return r.Set(ctx, key, raw)
}

func (r *Repository) loadRecord(ctx context.Context, key string) (*core.DailyRecord, error) {
	raw, ok, err := r.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var rec core.DailyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal %q: %w", key, err)
	}
	return &rec, nil
}
