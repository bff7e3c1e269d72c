package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:netwarden.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one writer at a time; also keeps :memory: databases on one connection
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{db: db, schema: sqliteSchema}}, nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts TEXT NOT NULL,
		entity_key TEXT NOT NULL,
		severity TEXT NOT NULL,
		alert_type TEXT NOT NULL,
		score REAL NOT NULL,
		rules_json TEXT NOT NULL,
		context_json TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_entity ON alerts(entity_key)`,
	`CREATE TABLE IF NOT EXISTS actions (
		id TEXT PRIMARY KEY,
		action_type TEXT NOT NULL,
		target TEXT NOT NULL,
		reason TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		last_error TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_actions_target ON actions(target)`,
	`CREATE TABLE IF NOT EXISTS entity_snapshots (
		entity_key TEXT PRIMARY KEY,
		blacklisted INTEGER NOT NULL,
		last_seen TEXT NOT NULL,
		record_json TEXT NOT NULL
	)`,
}
