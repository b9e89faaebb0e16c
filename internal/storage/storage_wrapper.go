package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/staking-stats/internal/metrics"
	"github.com/smartdevs17/staking-stats/internal/models"
)

// StorageWithMetrics wraps a storage implementation with metrics
type StorageWithMetrics struct {
	Storage
	metrics *metrics.PrometheusMetrics
}

// NewStorageWithMetrics creates a storage wrapper with metrics
func NewStorageWithMetrics(storage Storage, m *metrics.PrometheusMetrics) *StorageWithMetrics {
	return &StorageWithMetrics{
		Storage: storage,
		metrics: m,
	}
}

// SaveRun saves a run and records metrics
func (s *StorageWithMetrics) SaveRun(ctx context.Context, run *models.RunRecord) error {
	start := time.Now()
	err := s.Storage.SaveRun(ctx, run)
	s.record("upsert", err, start)
	return err
}

// GetRun retrieves a run and records metrics
func (s *StorageWithMetrics) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	start := time.Now()
	run, err := s.Storage.GetRun(ctx, id)
	if err == ErrNotFound {
		s.record("select", nil, start)
	} else {
		s.record("select", err, start)
	}
	return run, err
}

// GetRuns queries runs and records metrics
func (s *StorageWithMetrics) GetRuns(ctx context.Context, filter models.RunFilter) ([]*models.RunRecord, error) {
	start := time.Now()
	runs, err := s.Storage.GetRuns(ctx, filter)
	s.record("select", err, start)
	return runs, err
}

// Cleanup prunes history and records metrics
func (s *StorageWithMetrics) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	start := time.Now()
	n, err := s.Storage.Cleanup(ctx, retentionDays)
	s.record("delete", err, start)
	return n, err
}

func (s *StorageWithMetrics) record(operation string, err error, start time.Time) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordDatabaseOperation(operation, "runs", status, time.Since(start))
}
