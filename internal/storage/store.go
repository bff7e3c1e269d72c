// Package storage persists alerts, response actions and entity snapshots to
// SQLite or PostgreSQL through database/sql.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"netwarden/internal/config"
	"netwarden/internal/model"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveAlert(ctx context.Context, alert model.Alert) error
	SaveAction(ctx context.Context, action model.Action) error
	SaveSnapshot(ctx context.Context, records []model.ThreatRecord) error
	LoadSnapshot(ctx context.Context) ([]model.ThreatRecord, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// baseStore holds the statements both dialects share. numbered selects
// $1-style placeholders instead of ?.
type baseStore struct {
	db       *sql.DB
	numbered bool
	schema   []string
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) Init(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	for _, stmt := range b.schema {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (b *baseStore) rebind(query string) string {
	if !b.numbered {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (b *baseStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx, b.rebind(
		`INSERT INTO alerts (ts, entity_key, severity, alert_type, score, rules_json, context_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		alert.Timestamp.UTC(),
		alert.EntityKey,
		alert.Severity,
		alert.AlertType,
		alert.Score,
		encodeJSON(alert.Rules),
		encodeJSON(alert.Context),
	)
	return err
}

// SaveAction upserts by action id so each status transition overwrites the
// previous row.
func (b *baseStore) SaveAction(ctx context.Context, action model.Action) error {
	if b.db == nil || action.ID == "" {
		return nil
	}
	_, err := b.db.ExecContext(ctx, b.rebind(
		`INSERT INTO actions (id, action_type, target, reason, idempotency_key, status, attempts, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`),
		action.ID,
		string(action.Type),
		action.Target.String(),
		action.Reason,
		action.IdempotencyKey,
		string(action.Status),
		action.Attempts,
		action.LastError,
		action.CreatedAt.UTC(),
		action.UpdatedAt.UTC(),
	)
	return err
}

// SaveSnapshot replaces the stored entity snapshot with records.
func (b *baseStore) SaveSnapshot(ctx context.Context, records []model.ThreatRecord) error {
	if b.db == nil {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entity_snapshots`); err != nil {
		_ = tx.Rollback()
		return err
	}
	stmt, err := tx.PrepareContext(ctx, b.rebind(
		`INSERT INTO entity_snapshots (entity_key, blacklisted, last_seen, record_json) VALUES (?, ?, ?, ?)`))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx,
			rec.Key.String(),
			rec.Blacklisted,
			rec.LastSeen.UTC(),
			encodeJSON(rec),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// LoadSnapshot returns the stored records. Rows that no longer decode are
// skipped and reported in the joined error alongside the usable records.
func (b *baseStore) LoadSnapshot(ctx context.Context) ([]model.ThreatRecord, error) {
	if b.db == nil {
		return nil, nil
	}
	rows, err := b.db.QueryContext(ctx, `SELECT entity_key, record_json FROM entity_snapshots ORDER BY entity_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ThreatRecord
	var errs []error
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return out, err
		}
		var rec model.ThreatRecord
		if err := json.Unmarshal(raw, &rec); err != nil || rec.Key.IsZero() {
			if err == nil {
				err = errors.New("empty key")
			}
			errs = append(errs, fmt.Errorf("snapshot %s: %w", key, err))
			continue
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return out, err
	}
	return out, errors.Join(errs...)
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}
