package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	conn *sql.DB
	path string
}

func New(path string) (*DB, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn.SetMaxOpenConns(2)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if err := db.migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Times are stored as UTC text and converted at the edges.
func parseTime(s string) (time.Time, error) {
	return time.Parse("2006-01-02 15:04:05", s)
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (db *DB) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS run_records (
			id                TEXT PRIMARY KEY,
			kind              TEXT    NOT NULL,
			trigger_kind      TEXT    NOT NULL,
			started_at        TEXT    NOT NULL,
			finished_at       TEXT,
			outcome           TEXT    NOT NULL DEFAULT 'running',
			provider_used     INTEGER NOT NULL DEFAULT 0,
			provider_name     TEXT    NOT NULL DEFAULT '',
			degraded          INTEGER NOT NULL DEFAULT 0,
			delivery_attempts INTEGER NOT NULL DEFAULT 0,
			source_summary    TEXT    NOT NULL DEFAULT '',
			error             TEXT    NOT NULL DEFAULT '',
			created_at        TEXT    NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_records_kind_started ON run_records(kind, started_at DESC)`,
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			key          TEXT PRIMARY KEY,
			access_token TEXT NOT NULL,
			token_type   TEXT NOT NULL DEFAULT 'Bearer',
			expires_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS seen_headlines (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			title      TEXT NOT NULL,
			trigrams   TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_seen_headlines_created ON seen_headlines(created_at)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration: %w\nstatement: %s", err, stmt)
		}
	}

	return nil
}
