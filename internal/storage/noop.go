package storage

import (
	"context"

	"github.com/smartdevs17/staking-stats/internal/models"
)

// NoopStorage discards run history. Used when storage.type is "none".
type NoopStorage struct{}

// NewNoopStorage creates a storage that keeps nothing
func NewNoopStorage() *NoopStorage { return &NoopStorage{} }

func (NoopStorage) Connect() error { return nil }
func (NoopStorage) Close() error   { return nil }
func (NoopStorage) Ping() error    { return nil }
func (NoopStorage) Migrate() error { return nil }

func (NoopStorage) SaveRun(context.Context, *models.RunRecord) error { return nil }

func (NoopStorage) GetRun(context.Context, string) (*models.RunRecord, error) {
	return nil, ErrNotFound
}

func (NoopStorage) GetRuns(context.Context, models.RunFilter) ([]*models.RunRecord, error) {
	return []*models.RunRecord{}, nil
}

func (NoopStorage) GetLatestRun(context.Context, *string) (*models.RunRecord, error) {
	return nil, ErrNotFound
}

func (NoopStorage) GetStorageStats() (*StorageStats, error) { return &StorageStats{}, nil }
func (NoopStorage) GetHealth() *HealthStatus                { return &HealthStatus{Healthy: true} }

func (NoopStorage) Cleanup(context.Context, int) (int64, error) { return 0, nil }
