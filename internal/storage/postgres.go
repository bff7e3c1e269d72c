package storage

import (
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/netwarden?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, numbered: true, schema: postgresSchema}}, nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS alerts (
		id BIGSERIAL PRIMARY KEY,
		ts TIMESTAMPTZ NOT NULL,
		entity_key TEXT NOT NULL,
		severity TEXT NOT NULL,
		alert_type TEXT NOT NULL,
		score DOUBLE PRECISION NOT NULL,
		rules_json JSONB NOT NULL,
		context_json JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_entity ON alerts(entity_key)`,
	`CREATE TABLE IF NOT EXISTS actions (
		id UUID PRIMARY KEY,
		action_type TEXT NOT NULL,
		target TEXT NOT NULL,
		reason TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_actions_target ON actions(target)`,
	`CREATE TABLE IF NOT EXISTS entity_snapshots (
		entity_key TEXT PRIMARY KEY,
		blacklisted BOOLEAN NOT NULL,
		last_seen TIMESTAMPTZ NOT NULL,
		record_json JSONB NOT NULL
	)`,
}
