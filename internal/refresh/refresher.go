package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/staking-stats/internal/artifact"
	"github.com/smartdevs17/staking-stats/internal/metrics"
	"github.com/smartdevs17/staking-stats/internal/models"
	"github.com/smartdevs17/staking-stats/internal/vcs"
	"github.com/smartdevs17/staking-stats/pkg/utils"
)

// ErrRunInProgress is returned when a run is requested while another is active
var ErrRunInProgress = errors.New("refresh run already in progress")

// Commit outcome labels
const (
	commitCommitted = "committed"
	commitSkipped   = "skipped"
	commitError     = "error"
)

// SnapshotCalculator computes a fresh snapshot from chain data
type SnapshotCalculator interface {
	Calculate(ctx context.Context) (*models.Snapshot, error)
}

// RunRecorder persists finished runs
type RunRecorder interface {
	SaveRun(ctx context.Context, run *models.RunRecord) error
}

// RunNotifier announces finished runs
type RunNotifier interface {
	NotifyRun(ctx context.Context, run *models.RunRecord) error
}

// Dependencies wires the collaborators of a Refresher. History, Notifier
// and Metrics are optional.
type Dependencies struct {
	Calculator SnapshotCalculator
	Store      artifact.Store
	Committer  vcs.Committer
	History    RunRecorder
	Notifier   RunNotifier
	Metrics    *metrics.PrometheusMetrics
}

// Refresher runs the stats refresh job: compute, compare, write, commit
type Refresher struct {
	deps          Dependencies
	commitMessage string
	logger        *logrus.Entry
	now           func() time.Time

	// held for the whole run
	running sync.Mutex

	mu    sync.RWMutex
	stats RefresherStats
}

// RefresherStats summarizes the runs performed by this process
type RefresherStats struct {
	TotalRuns     uint64            `json:"total_runs"`
	SucceededRuns uint64            `json:"succeeded_runs"`
	FailedRuns    uint64            `json:"failed_runs"`
	ChangedRuns   uint64            `json:"changed_runs"`
	Commits       uint64            `json:"commits"`
	Rejected      uint64            `json:"rejected"`
	LastRun       *models.RunRecord `json:"last_run,omitempty"`
}

// NewRefresher creates a refresher. A nil committer disables version control.
func NewRefresher(deps Dependencies, commitMessage string) *Refresher {
	if deps.Committer == nil {
		deps.Committer = vcs.NoopCommitter{}
	}
	return &Refresher{
		deps:          deps,
		commitMessage: commitMessage,
		logger:        utils.ComponentLogger("refresh"),
		now:           time.Now,
	}
}

// Run performs one refresh. The record is returned for failed runs too,
// together with the error that failed them.
func (r *Refresher) Run(ctx context.Context, trigger models.Trigger) (*models.RunRecord, error) {
	if !r.running.TryLock() {
		r.mu.Lock()
		r.stats.Rejected++
		r.mu.Unlock()
		r.logger.WithField("trigger", trigger).Warn("Refresh already in progress, skipping")
		return nil, ErrRunInProgress
	}
	defer r.running.Unlock()

	if r.deps.Metrics != nil {
		r.deps.Metrics.SetRunInProgress(true)
		defer r.deps.Metrics.SetRunInProgress(false)
	}

	record := &models.RunRecord{
		ID:        utils.GenerateID(),
		Trigger:   trigger,
		StartedAt: r.now().UTC(),
	}
	logger := r.logger.WithFields(logrus.Fields{
		"run_id":  record.ID,
		"trigger": trigger,
	})
	logger.Info("Starting staking stats refresh")

	err := r.execute(ctx, record, logger)
	record.Finish(r.now().UTC(), err)
	r.finish(ctx, record, logger)

	if err != nil {
		return record, err
	}
	return record, nil
}

func (r *Refresher) execute(ctx context.Context, record *models.RunRecord, logger *logrus.Entry) error {
	computed, err := r.deps.Calculator.Calculate(ctx)
	if err != nil {
		return fmt.Errorf("compute stats: %w", err)
	}
	record.Snapshot = computed

	canonical, err := computed.CanonicalJSON()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to encode snapshot", err.Error())
	}
	record.SnapshotHash = utils.Fingerprint(canonical)
	r.publishSnapshot(computed)

	raw, existed, err := r.deps.Store.ReadRaw()
	if err != nil {
		return err
	}
	stored, err := r.deps.Store.Load()
	if err != nil {
		if !errors.Is(err, artifact.ErrCorruptArtifact) {
			return err
		}
		logger.WithError(err).Warn("Stored artifact is unreadable, replacing it")
		stored = nil
	}

	if stored.Equal(computed) {
		logger.WithField("snapshot_hash", record.SnapshotHash).Info("Staking stats unchanged, nothing to write")
		return nil
	}

	computed.Stamp(r.now())
	if err := r.deps.Store.Save(computed); err != nil {
		return err
	}
	record.Changed = true
	if r.deps.Metrics != nil {
		r.deps.Metrics.RecordArtifactWrite()
	}
	logger.WithField("path", r.deps.Store.Path()).Info("Wrote updated staking stats")

	hash, err := r.deps.Committer.CommitFile(ctx, r.deps.Store.Path(), r.commitMessage)
	switch {
	case errors.Is(err, vcs.ErrNothingToCommit):
		r.recordCommit(commitSkipped)
		logger.Info("Artifact already matches HEAD, no commit created")
	case errors.Is(err, vcs.ErrPushFailed) && hash != "":
		// HEAD already holds the new artifact, so it stays on disk
		r.recordCommit(commitCommitted)
		record.Committed = true
		record.CommitHash = hash
		logger.WithError(err).WithField("commit", hash).Error("Committed updated staking stats but push failed")
		return fmt.Errorf("push artifact commit: %w", err)
	case err != nil:
		r.recordCommit(commitError)
		if rbErr := r.deps.Store.Restore(raw, existed); rbErr != nil {
			logger.WithError(rbErr).Error("Failed to roll back artifact")
		} else {
			record.Changed = false
		}
		return fmt.Errorf("commit artifact: %w", err)
	default:
		r.recordCommit(commitCommitted)
		record.Committed = true
		record.CommitHash = hash
		logger.WithField("commit", hash).Info("Committed updated staking stats")
	}
	return nil
}

// finish records the run in the side channels. Their failures are logged only.
func (r *Refresher) finish(ctx context.Context, record *models.RunRecord, logger *logrus.Entry) {
	sideCtx := context.WithoutCancel(ctx)

	if r.deps.Metrics != nil {
		r.deps.Metrics.RecordRun(string(record.Trigger), record.Status,
			time.Duration(record.DurationMs)*time.Millisecond, record.FinishedAt)
	}
	if r.deps.History != nil {
		if err := r.deps.History.SaveRun(sideCtx, record); err != nil {
			logger.WithError(err).Error("Failed to record run history")
		}
	}
	if r.deps.Notifier != nil {
		if err := r.deps.Notifier.NotifyRun(sideCtx, record); err != nil {
			logger.WithError(err).Warn("Failed to deliver run notification")
		}
	}

	r.mu.Lock()
	r.stats.TotalRuns++
	if record.Succeeded() {
		r.stats.SucceededRuns++
	} else {
		r.stats.FailedRuns++
	}
	if record.Changed {
		r.stats.ChangedRuns++
	}
	if record.Committed {
		r.stats.Commits++
	}
	r.stats.LastRun = record
	r.mu.Unlock()

	fields := logrus.Fields{
		"status":      record.Status,
		"changed":     record.Changed,
		"committed":   record.Committed,
		"duration_ms": record.DurationMs,
	}
	if record.Succeeded() {
		logger.WithFields(fields).Info("Staking stats refresh finished")
	} else {
		logger.WithFields(fields).WithField("error", record.Error).Error("Staking stats refresh failed")
	}
}

func (r *Refresher) publishSnapshot(s *models.Snapshot) {
	if r.deps.Metrics == nil || s.CalculatedAPRPercentage == nil ||
		s.TotalStakedNIL == nil || s.ActiveValidatorCount == nil {
		return
	}
	r.deps.Metrics.UpdateSnapshot(*s.CalculatedAPRPercentage, *s.TotalStakedNIL, *s.ActiveValidatorCount)
}

func (r *Refresher) recordCommit(status string) {
	if r.deps.Metrics != nil {
		r.deps.Metrics.RecordCommit(status)
	}
}

// IsRunning reports whether a run is currently active
func (r *Refresher) IsRunning() bool {
	if r.running.TryLock() {
		r.running.Unlock()
		return false
	}
	return true
}

// GetStats returns a copy of the run statistics
func (r *Refresher) GetStats() RefresherStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}
