package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smartdevs17/staking-stats/internal/config"
	"github.com/smartdevs17/staking-stats/internal/metrics"
	"github.com/smartdevs17/staking-stats/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteStorage {
	t.Helper()
	s := NewSQLiteStorage(&StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "history", "runs.db"),
		MaxConnections:   1,
	})
	require.NoError(t, s.Connect())
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func testRun(id string, trigger models.Trigger, status string, started time.Time) *models.RunRecord {
	run := &models.RunRecord{
		ID:        id,
		Trigger:   trigger,
		Status:    status,
		StartedAt: started,
	}
	run.FinishedAt = started.Add(1500 * time.Millisecond)
	run.DurationMs = 1500
	if status == models.RunStatusSucceeded {
		run.Snapshot = models.NewSnapshot(12.3456, 1000.5, 42)
		run.SnapshotHash = "0xabc"
		run.Changed = true
	} else {
		run.Error = "chain unreachable"
	}
	return run
}

func TestNewStorage(t *testing.T) {
	s, err := NewStorage(&config.StorageConfig{Type: "none"})
	require.NoError(t, err)
	assert.IsType(t, &NoopStorage{}, s)

	s, err = NewStorage(&config.StorageConfig{Type: "sqlite", ConnectionString: "runs.db"})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStorage{}, s)

	s, err = NewStorage(&config.StorageConfig{Type: "PostgreSQL", ConnectionString: "postgres://localhost/x"})
	require.NoError(t, err)
	assert.IsType(t, &PostgreSQLStorage{}, s)

	_, err = NewStorage(&config.StorageConfig{Type: "mongo"})
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	s := &sqlStore{numbered: true}
	assert.Equal(t, "SELECT * FROM runs WHERE a = $1 AND b = $2", s.rebind("SELECT * FROM runs WHERE a = ? AND b = ?"))

	s.numbered = false
	assert.Equal(t, "a = ?", s.rebind("a = ?"))
}

func TestSQLiteStorage_SaveAndGetRun(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	started := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	run := testRun("run-1", models.TriggerSchedule, models.RunStatusSucceeded, started)
	run.Committed = true
	run.CommitHash = "deadbeef"
	require.NoError(t, s.SaveRun(ctx, run))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.TriggerSchedule, got.Trigger)
	assert.Equal(t, models.RunStatusSucceeded, got.Status)
	assert.True(t, got.Changed)
	assert.True(t, got.Committed)
	assert.Equal(t, "deadbeef", got.CommitHash)
	assert.Equal(t, started, got.StartedAt)
	assert.Equal(t, started.Add(1500*time.Millisecond), got.FinishedAt)
	assert.Equal(t, int64(1500), got.DurationMs)
	require.NotNil(t, got.Snapshot)
	assert.True(t, run.Snapshot.Equal(got.Snapshot))

	_, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStorage_SaveRunUpserts(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run := testRun("run-1", models.TriggerManual, models.RunStatusFailed, time.Now().UTC())
	require.NoError(t, s.SaveRun(ctx, run))

	run.Error = "commit failed"
	require.NoError(t, s.SaveRun(ctx, run))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "commit failed", got.Error)
	assert.Nil(t, got.Snapshot)

	runs, err := s.GetRuns(ctx, models.RunFilter{})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSQLiteStorage_SaveRunRequiresID(t *testing.T) {
	s := newTestSQLite(t)
	assert.Error(t, s.SaveRun(context.Background(), &models.RunRecord{}))
}

func TestSQLiteStorage_GetRunsFilters(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, s.SaveRun(ctx, testRun("a", models.TriggerSchedule, models.RunStatusSucceeded, base)))
	require.NoError(t, s.SaveRun(ctx, testRun("b", models.TriggerManual, models.RunStatusFailed, base.Add(time.Minute))))
	require.NoError(t, s.SaveRun(ctx, testRun("c", models.TriggerManual, models.RunStatusSucceeded, base.Add(2*time.Minute))))

	runs, err := s.GetRuns(ctx, models.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "a", runs[2].ID)

	manual := models.TriggerManual
	runs, err = s.GetRuns(ctx, models.RunFilter{Trigger: &manual})
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	failed := models.RunStatusFailed
	runs, err = s.GetRuns(ctx, models.RunFilter{Status: &failed})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "b", runs[0].ID)

	runs, err = s.GetRuns(ctx, models.RunFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "b", runs[0].ID)

	succeeded := models.RunStatusSucceeded
	latest, err := s.GetLatestRun(ctx, &succeeded)
	require.NoError(t, err)
	assert.Equal(t, "c", latest.ID)

	latest, err = s.GetLatestRun(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "c", latest.ID)
}

func TestSQLiteStorage_GetLatestRunEmpty(t *testing.T) {
	s := newTestSQLite(t)
	_, err := s.GetLatestRun(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStorage_StatsAndCleanup(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	stats, err := s.GetStorageStats()
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalRuns)
	assert.Nil(t, stats.LastRunAt)

	require.NoError(t, s.SaveRun(ctx, testRun("old", models.TriggerSchedule, models.RunStatusSucceeded, now.AddDate(0, 0, -100))))
	require.NoError(t, s.SaveRun(ctx, testRun("new", models.TriggerSchedule, models.RunStatusFailed, now)))

	stats, err = s.GetStorageStats()
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalRuns)
	assert.Equal(t, int64(1), stats.SucceededRuns)
	assert.Equal(t, int64(1), stats.FailedRuns)
	assert.Equal(t, int64(1), stats.ChangedRuns)
	require.NotNil(t, stats.LastRunAt)
	assert.Equal(t, now, *stats.LastRunAt)
	require.NotNil(t, stats.LastSuccessAt)

	removed, err := s.Cleanup(ctx, 90)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = s.GetRun(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)

	removed, err = s.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)
}

func TestSQLiteStorage_MigrateIsIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	require.NoError(t, s.Migrate())
	require.NoError(t, s.Migrate())
}

func TestSQLiteStorage_Health(t *testing.T) {
	s := newTestSQLite(t)
	assert.True(t, s.GetHealth().Healthy)

	require.NoError(t, s.Close())
	health := s.GetHealth()
	assert.False(t, health.Healthy)
	assert.NotEmpty(t, health.Error)

	_, err := s.GetRuns(context.Background(), models.RunFilter{})
	assert.Error(t, err)
}

func TestNoopStorage(t *testing.T) {
	s := NewNoopStorage()
	ctx := context.Background()

	require.NoError(t, s.SaveRun(ctx, testRun("x", models.TriggerManual, models.RunStatusSucceeded, time.Now())))
	_, err := s.GetRun(ctx, "x")
	assert.ErrorIs(t, err, ErrNotFound)

	runs, err := s.GetRuns(ctx, models.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.True(t, s.GetHealth().Healthy)
}

func TestStorageWithMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPrometheusMetrics(reg)
	s := NewStorageWithMetrics(newTestSQLite(t), m)
	ctx := context.Background()

	require.NoError(t, s.SaveRun(ctx, testRun("r", models.TriggerManual, models.RunStatusSucceeded, time.Now())))
	_, err := s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.DatabaseOperationsTotal.WithLabelValues("upsert", "runs", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DatabaseOperationsTotal.WithLabelValues("select", "runs", "success")))
}

func TestPostgreSQLStorage(t *testing.T) {
	dsn := os.Getenv("STAKING_STATS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("STAKING_STATS_TEST_POSTGRES_DSN not set")
	}

	s := NewPostgreSQLStorage(&StorageConfig{Type: "postgres", ConnectionString: dsn, MaxConnections: 2})
	require.NoError(t, s.Connect())
	defer s.Close()
	require.NoError(t, s.Migrate())

	ctx := context.Background()
	run := testRun("pg-"+time.Now().Format("150405.000"), models.TriggerManual, models.RunStatusSucceeded, time.Now().UTC())
	require.NoError(t, s.SaveRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, run.Snapshot.Equal(got.Snapshot))
}
