package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netwarden/internal/config"
	"netwarden/internal/model"
)

func newSQLiteForTest(t *testing.T) Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "netwarden.db")
	s, err := NewSQLite(dsn)
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewStoreDisabled(t *testing.T) {
	s, err := NewStore(config.StorageConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = NewStore(config.StorageConfig{Enabled: true, Driver: "mongo"})
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	b := baseStore{numbered: true}
	assert.Equal(t, "VALUES ($1, $2, $3)", b.rebind("VALUES (?, ?, ?)"))
	b.numbered = false
	assert.Equal(t, "VALUES (?, ?)", b.rebind("VALUES (?, ?)"))
}

func TestSQLiteSnapshotRoundTrip(t *testing.T) {
	s := newSQLiteForTest(t)
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	key, ok := model.IPKey("10.0.0.1")
	require.True(t, ok)
	mac, ok := model.MACKey("aa:bb:cc:dd:ee:01")
	require.True(t, ok)

	records := []model.ThreatRecord{
		{Key: key, HitCount: 4, ThreatHits: 2, Score: 0.7, Blacklisted: true, FirstSeen: at, LastSeen: at.Add(time.Minute),
			RecentScores: []model.ScoreSample{{At: at, Score: 0.97, Confidence: 0.95, Threat: true}}},
		{Key: mac, HitCount: 1, Score: 0.1, FirstSeen: at, LastSeen: at},
	}
	require.NoError(t, s.SaveSnapshot(ctx, records))
	// a second snapshot replaces the first
	require.NoError(t, s.SaveSnapshot(ctx, records[:1]))

	got, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, key, got[0].Key)
	assert.True(t, got[0].Blacklisted)
	assert.Equal(t, 4, got[0].HitCount)
	assert.True(t, got[0].LastSeen.Equal(at.Add(time.Minute)))
	require.Len(t, got[0].RecentScores, 1)
}

func TestSQLiteActionUpsert(t *testing.T) {
	s := newSQLiteForTest(t)
	ctx := context.Background()
	key, _ := model.IPKey("192.0.2.4")
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	a := model.Action{
		ID: "7f1f4c1e-8d1e-4b8a-9a57-3f0f8c8f2a11", Type: model.ActionBlock, Target: key,
		Reason: "blacklisted", IdempotencyKey: "ip:192.0.2.4|block",
		Status: model.StatusPending, CreatedAt: at, UpdatedAt: at,
	}
	require.NoError(t, s.SaveAction(ctx, a))
	a.Status = model.StatusSucceeded
	a.Attempts = 2
	a.UpdatedAt = at.Add(time.Second)
	require.NoError(t, s.SaveAction(ctx, a))

	base := s.(*sqliteStore)
	var status string
	var attempts, rows int
	require.NoError(t, base.db.QueryRowContext(ctx, `SELECT status, attempts FROM actions WHERE id = ?`, a.ID).Scan(&status, &attempts))
	require.NoError(t, base.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM actions`).Scan(&rows))
	assert.Equal(t, "succeeded", status)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, rows)
}

func TestSQLiteSaveAlert(t *testing.T) {
	s := newSQLiteForTest(t)
	ctx := context.Background()
	require.NoError(t, s.SaveAlert(ctx, model.Alert{
		Timestamp: time.Now().UTC(),
		EntityKey: "ip:10.0.0.9",
		Severity:  "high",
		AlertType: "traffic_spike",
		Score:     0.8,
		Rules:     []string{"traffic_spike"},
	}))
	var n int
	require.NoError(t, s.(*sqliteStore).db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE entity_key = ?`, "ip:10.0.0.9").Scan(&n))
	assert.Equal(t, 1, n)
}
