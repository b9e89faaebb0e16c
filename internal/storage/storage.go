package storage

import (
	"context"
	"errors"
	"time"

	"github.com/smartdevs17/staking-stats/internal/models"
)

// ErrNotFound is returned when a run does not exist
var ErrNotFound = errors.New("run not found")

// Storage defines the interface for run history operations
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Run operations
	SaveRun(ctx context.Context, run *models.RunRecord) error
	GetRun(ctx context.Context, id string) (*models.RunRecord, error)
	GetRuns(ctx context.Context, filter models.RunFilter) ([]*models.RunRecord, error)
	GetLatestRun(ctx context.Context, status *string) (*models.RunRecord, error)

	// Statistics and monitoring
	GetStorageStats() (*StorageStats, error)
	GetHealth() *HealthStatus

	// Maintenance operations
	Cleanup(ctx context.Context, retentionDays int) (int64, error)
}

// StorageStats provides run history statistics
type StorageStats struct {
	TotalRuns     int64      `json:"total_runs"`
	SucceededRuns int64      `json:"succeeded_runs"`
	FailedRuns    int64      `json:"failed_runs"`
	ChangedRuns   int64      `json:"changed_runs"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
}

// HealthStatus reports storage health
type HealthStatus struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
	RetentionDays    int           `json:"retention_days"`
}

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
)
