package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS seen (
	key   TEXT PRIMARY KEY,
	added INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS watermark (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	ts INTEGER NOT NULL
);
`

// sqliteStore keeps markers in a single-file database. Useful when the
// marker count grows past what a flat directory handles comfortably.
type sqliteStore struct {
	logger *slog.Logger
	db     *sql.DB
	now    func() time.Time
}

func openSQLite(ctx context.Context, path string, logger *slog.Logger) (*sqliteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite storage requires a path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// modernc.org/sqlite serializes writers; a single connection avoids
	// SQLITE_BUSY between them.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &sqliteStore{db: db, logger: logger, now: time.Now}, nil
}

func (s *sqliteStore) Contains(ctx context.Context, key string) (bool, error) {
	if err := validKey(key); err != nil {
		return false, err
	}
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM seen WHERE key = ?", key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query marker: %w", err)
	}
	return true, nil
}

func (s *sqliteStore) Insert(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO seen (key, added) VALUES (?, ?) ON CONFLICT(key) DO NOTHING",
		key, s.now().Unix())
	if err != nil {
		return fmt.Errorf("insert marker: %w", err)
	}
	return nil
}

func (s *sqliteStore) Watermark(ctx context.Context) (int64, error) {
	var ts int64
	err := s.db.QueryRowContext(ctx, "SELECT ts FROM watermark WHERE id = 1").Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query watermark: %w", err)
	}
	return ts, nil
}

func (s *sqliteStore) SetWatermark(ctx context.Context, ts int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO watermark (id, ts) VALUES (1, ?) ON CONFLICT(id) DO UPDATE SET ts = excluded.ts",
		ts)
	if err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	return nil
}

func (s *sqliteStore) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan).Unix()
	res, err := s.db.ExecContext(ctx, "DELETE FROM seen WHERE added < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep markers: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count swept markers: %w", err)
	}
	return int(n), nil
}

func (s *sqliteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite database: %w", err)
	}
	return nil
}
