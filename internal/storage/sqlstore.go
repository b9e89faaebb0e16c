package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/staking-stats/internal/models"
	"github.com/smartdevs17/staking-stats/pkg/utils"
)

// sqlStore holds the run history queries shared by the SQL backends.
// Queries are written with '?' placeholders and rebound per dialect.
type sqlStore struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Entry
	migrations []*Migration
	numbered   bool // $1, $2 placeholders
}

const runColumns = `id, trigger_source, status, changed, committed, commit_hash,
	snapshot_hash, snapshot, error, started_at, finished_at, duration_ms`

func (s *sqlStore) rebind(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.logger.Info("Database connection closed")
	return err
}

// Ping checks database connectivity
func (s *sqlStore) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate applies pending migrations in order
func (s *sqlStore) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	if _, err := s.db.Exec(migrationsTable); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create migrations table", err.Error())
	}

	for _, m := range s.migrations {
		var count int
		row := s.db.QueryRow(s.rebind(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`), m.Version)
		if err := row.Scan(&count); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to read migration state", err.Error())
		}
		if count > 0 {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin migration", err.Error())
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return utils.NewAppError(utils.ErrCodeDatabase, "Migration "+m.Version+" failed", err.Error())
		}
		if _, err := tx.Exec(s.rebind(`INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)`),
			m.Version, m.Description, time.Now().UTC().UnixMilli()); err != nil {
			tx.Rollback()
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to record migration", err.Error())
		}
		if err := tx.Commit(); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit migration", err.Error())
		}

		s.logger.WithFields(logrus.Fields{
			"version":     m.Version,
			"description": m.Description,
		}).Info("Applied migration")
	}
	return nil
}

// SaveRun inserts a run record or replaces the one with the same ID
func (s *sqlStore) SaveRun(ctx context.Context, run *models.RunRecord) error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	if run == nil || run.ID == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Run record requires an ID", "")
	}

	var snapshot sql.NullString
	if run.Snapshot != nil {
		data, err := json.Marshal(run.Snapshot)
		if err != nil {
			return utils.NewAppError(utils.ErrCodeInternal, "Failed to encode snapshot", err.Error())
		}
		snapshot = sql.NullString{String: string(data), Valid: true}
	}

	query := s.rebind(`
		INSERT INTO runs (` + runColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			trigger_source = excluded.trigger_source,
			status = excluded.status,
			changed = excluded.changed,
			committed = excluded.committed,
			commit_hash = excluded.commit_hash,
			snapshot_hash = excluded.snapshot_hash,
			snapshot = excluded.snapshot,
			error = excluded.error,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			duration_ms = excluded.duration_ms
	`)

	_, err := s.db.ExecContext(ctx, query,
		run.ID, string(run.Trigger), run.Status, run.Changed, run.Committed, run.CommitHash,
		run.SnapshotHash, snapshot, run.Error,
		run.StartedAt.UTC().UnixMilli(), run.FinishedAt.UTC().UnixMilli(), run.DurationMs,
	)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save run", err.Error())
	}
	return nil
}

// GetRun retrieves a run by ID
func (s *sqlStore) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	if s.db == nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+runColumns+` FROM runs WHERE id = ?`), id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get run", err.Error())
	}
	return run, nil
}

// GetRuns retrieves runs matching the filter, newest first
func (s *sqlStore) GetRuns(ctx context.Context, filter models.RunFilter) ([]*models.RunRecord, error) {
	if s.db == nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	var (
		where []string
		args  []interface{}
	)
	if filter.Trigger != nil {
		where = append(where, "trigger_source = ?")
		args = append(args, string(*filter.Trigger))
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *filter.Status)
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, clampLimit(filter.Limit), max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query runs", err.Error())
	}
	defer rows.Close()

	runs := make([]*models.RunRecord, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan run", err.Error())
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to iterate runs", err.Error())
	}
	return runs, nil
}

// GetLatestRun returns the most recent run, optionally restricted to a status
func (s *sqlStore) GetLatestRun(ctx context.Context, status *string) (*models.RunRecord, error) {
	runs, err := s.GetRuns(ctx, models.RunFilter{Status: status, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	return runs[0], nil
}

// GetStorageStats summarizes the run history
func (s *sqlStore) GetStorageStats() (*StorageStats, error) {
	if s.db == nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	var (
		stats                      StorageStats
		succeeded, failed, changed sql.NullInt64
		lastRun, lastSuccess       sql.NullInt64
	)
	row := s.db.QueryRow(s.rebind(`
		SELECT
			COUNT(*),
			SUM(CASE WHEN status = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN changed THEN 1 ELSE 0 END),
			MAX(started_at),
			MAX(CASE WHEN status = ? THEN finished_at END)
		FROM runs
	`), models.RunStatusSucceeded, models.RunStatusFailed, models.RunStatusSucceeded)
	if err := row.Scan(&stats.TotalRuns, &succeeded, &failed, &changed, &lastRun, &lastSuccess); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get storage stats", err.Error())
	}

	stats.SucceededRuns = succeeded.Int64
	stats.FailedRuns = failed.Int64
	stats.ChangedRuns = changed.Int64
	if lastRun.Valid {
		t := time.UnixMilli(lastRun.Int64).UTC()
		stats.LastRunAt = &t
	}
	if lastSuccess.Valid {
		t := time.UnixMilli(lastSuccess.Int64).UTC()
		stats.LastSuccessAt = &t
	}
	return &stats, nil
}

// GetHealth returns storage health status
func (s *sqlStore) GetHealth() *HealthStatus {
	if err := s.Ping(); err != nil {
		return &HealthStatus{Healthy: false, Error: err.Error()}
	}
	return &HealthStatus{Healthy: true}
}

// Cleanup removes runs older than the retention window
func (s *sqlStore) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if s.db == nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	if retentionDays <= 0 {
		return 0, nil
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).UnixMilli()
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM runs WHERE started_at < ?`), cutoff)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to clean up runs", err.Error())
	}
	removed, _ := res.RowsAffected()

	s.logger.WithFields(logrus.Fields{
		"retention_days": retentionDays,
		"removed":        removed,
	}).Info("Cleaned up run history")
	return removed, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*models.RunRecord, error) {
	var (
		run                 models.RunRecord
		trigger             string
		snapshot            sql.NullString
		startedAt, finished int64
	)
	err := row.Scan(&run.ID, &trigger, &run.Status, &run.Changed, &run.Committed, &run.CommitHash,
		&run.SnapshotHash, &snapshot, &run.Error, &startedAt, &finished, &run.DurationMs)
	if err != nil {
		return nil, err
	}

	run.Trigger = models.Trigger(trigger)
	run.StartedAt = time.UnixMilli(startedAt).UTC()
	run.FinishedAt = time.UnixMilli(finished).UTC()
	if snapshot.Valid && snapshot.String != "" {
		var snap models.Snapshot
		if err := json.Unmarshal([]byte(snapshot.String), &snap); err != nil {
			return nil, err
		}
		run.Snapshot = &snap
	}
	return &run, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultRunLimit
	case limit > maxRunLimit:
		return maxRunLimit
	default:
		return limit
	}
}
