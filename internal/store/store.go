package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/camdoctor/camdoctor/internal/config"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

type scanner interface {
	Scan(dest ...any) error
}

func New(cfg config.StoreConfig) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// WAL lets the web handlers read while the scheduler writes.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS tickets (
			id          TEXT PRIMARY KEY,
			title       TEXT NOT NULL,
			body        TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'open',
			severity    TEXT NOT NULL DEFAULT 'medium',
			context     TEXT,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_created ON tickets(created_at)`,
		`CREATE TABLE IF NOT EXISTS watches (
			name          TEXT PRIMARY KEY,
			agent_id      TEXT NOT NULL,
			schedule      TEXT NOT NULL,
			logs_path     TEXT NOT NULL,
			status        TEXT DEFAULT 'active',
			next_run_at   DATETIME,
			last_run_at   DATETIME,
			last_status   TEXT,
			last_error    TEXT,
			last_task_id  TEXT,
			created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_watches_next_run ON watches(status, next_run_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	return nil
}
