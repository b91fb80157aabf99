package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // CGO-free SQLite
)

// SQLite is a Store backed by a single-table SQLite database, so session
// state survives process restarts.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS kv(
	  key   TEXT PRIMARY KEY,
	  value TEXT NOT NULL CHECK (json_valid(value))
	);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating kv table: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(keys))
	stmt, err := s.db.PrepareContext(ctx, `SELECT value FROM kv WHERE key = ?`)
	if err != nil {
		return nil, fmt.Errorf("preparing select: %w", err)
	}
	defer stmt.Close()

	for _, k := range keys {
		var value string
		err := stmt.QueryRowContext(ctx, k).Scan(&value)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", k, err)
		}
		out[k] = json.RawMessage(value)
	}
	return out, nil
}

func (s *SQLite) Set(ctx context.Context, values map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO kv(key, value) VALUES(?, json(?))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for k, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("encoding %q: %w", k, err)
		}
		if _, err := stmt.ExecContext(ctx, k, string(raw)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("writing %q: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

func (s *SQLite) Remove(ctx context.Context, keys ...string) error {
	stmt, err := s.db.PrepareContext(ctx, `DELETE FROM kv WHERE key = ?`)
	if err != nil {
		return fmt.Errorf("preparing delete: %w", err)
	}
	defer stmt.Close()
	for _, k := range keys {
		if _, err := stmt.ExecContext(ctx, k); err != nil {
			return fmt.Errorf("removing %q: %w", k, err)
		}
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
