package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smartdevs17/staking-stats/internal/artifact"
	"github.com/smartdevs17/staking-stats/internal/metrics"
	"github.com/smartdevs17/staking-stats/internal/models"
	"github.com/smartdevs17/staking-stats/internal/vcs"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const artifactPath = "data/staking_stats.json"

type fakeCalculator struct {
	snapshot *models.Snapshot
	err      error
	block    chan struct{}
	started  chan struct{}
}

func (f *fakeCalculator) Calculate(ctx context.Context) (*models.Snapshot, error) {
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	// a fresh copy per call, as the real calculator does
	s := *f.snapshot
	return &s, nil
}

type fakeCommitter struct {
	mu      sync.Mutex
	commits []string
	err     error
	pushErr error
}

func (f *fakeCommitter) CommitFile(ctx context.Context, path, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.commits = append(f.commits, path+"|"+message)
	if f.pushErr != nil {
		return "c0ffee", fmt.Errorf("%w: %w", vcs.ErrPushFailed, f.pushErr)
	}
	return "c0ffee", nil
}

func (f *fakeCommitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commits)
}

type fakeHistory struct {
	runs []*models.RunRecord
	err  error
}

func (f *fakeHistory) SaveRun(ctx context.Context, run *models.RunRecord) error {
	f.runs = append(f.runs, run)
	return f.err
}

type fakeNotifier struct {
	runs []*models.RunRecord
}

func (f *fakeNotifier) NotifyRun(ctx context.Context, run *models.RunRecord) error {
	f.runs = append(f.runs, run)
	return errors.New("webhook down")
}

type harness struct {
	fs        afero.Fs
	store     *artifact.FileStore
	calc      *fakeCalculator
	committer *fakeCommitter
	history   *fakeHistory
	notifier  *fakeNotifier
	metrics   *metrics.PrometheusMetrics
	refresher *Refresher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		fs:        afero.NewMemMapFs(),
		calc:      &fakeCalculator{snapshot: models.NewSnapshot(12.3456, 1000.5, 42)},
		committer: &fakeCommitter{},
		history:   &fakeHistory{},
		notifier:  &fakeNotifier{},
		metrics:   metrics.NewPrometheusMetrics(prometheus.NewRegistry()),
	}
	h.store = artifact.NewFileStore(h.fs, artifactPath)
	h.refresher = NewRefresher(Dependencies{
		Calculator: h.calc,
		Store:      h.store,
		Committer:  h.committer,
		History:    h.history,
		Notifier:   h.notifier,
		Metrics:    h.metrics,
	}, "chore: update staking stats")
	return h
}

func (h *harness) read(t *testing.T) []byte {
	t.Helper()
	data, err := afero.ReadFile(h.fs, artifactPath)
	require.NoError(t, err)
	return data
}

func TestRun_FirstRunWritesAndCommits(t *testing.T) {
	h := newHarness(t)

	run, err := h.refresher.Run(context.Background(), models.TriggerSchedule)
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	assert.True(t, run.Changed)
	assert.True(t, run.Committed)
	assert.Equal(t, "c0ffee", run.CommitHash)
	assert.NotEmpty(t, run.ID)
	assert.Len(t, run.SnapshotHash, 66)
	assert.Equal(t, []string{artifactPath + "|chore: update staking stats"}, h.committer.commits)

	stored, err := h.store.Load()
	require.NoError(t, err)
	assert.True(t, stored.Equal(h.calc.snapshot))
	assert.NotEmpty(t, stored.LastUpdatedUTC)

	require.Len(t, h.history.runs, 1)
	require.Len(t, h.notifier.runs, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.RunsTotal.WithLabelValues("schedule", models.RunStatusSucceeded)))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.ArtifactWritesTotal))
	assert.Equal(t, float64(42), testutil.ToFloat64(h.metrics.ActiveValidatorCount))
}

func TestRun_UnchangedStatsSkipWriteAndCommit(t *testing.T) {
	h := newHarness(t)
	_, err := h.refresher.Run(context.Background(), models.TriggerSchedule)
	require.NoError(t, err)
	before := h.read(t)

	run, err := h.refresher.Run(context.Background(), models.TriggerSchedule)
	require.NoError(t, err)

	assert.False(t, run.Changed)
	assert.False(t, run.Committed)
	assert.Equal(t, before, h.read(t))
	assert.Equal(t, 1, h.committer.count())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.ArtifactWritesTotal))
}

func TestRun_ChangedStatsCommitOnce(t *testing.T) {
	h := newHarness(t)
	_, err := h.refresher.Run(context.Background(), models.TriggerSchedule)
	require.NoError(t, err)

	h.calc.snapshot = models.NewSnapshot(12.5, 1000.5, 43)
	run, err := h.refresher.Run(context.Background(), models.TriggerSchedule)
	require.NoError(t, err)

	assert.True(t, run.Changed)
	assert.Equal(t, 2, h.committer.count())

	stored, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, int64(43), *stored.ActiveValidatorCount)
}

func TestRun_ManualAndScheduleHaveSameEffects(t *testing.T) {
	manual := newHarness(t)
	scheduled := newHarness(t)

	mRun, err := manual.refresher.Run(context.Background(), models.TriggerManual)
	require.NoError(t, err)
	sRun, err := scheduled.refresher.Run(context.Background(), models.TriggerSchedule)
	require.NoError(t, err)

	assert.Equal(t, models.TriggerManual, mRun.Trigger)
	assert.Equal(t, models.TriggerSchedule, sRun.Trigger)
	assert.Equal(t, mRun.Changed, sRun.Changed)
	assert.Equal(t, mRun.Committed, sRun.Committed)
	assert.Equal(t, mRun.SnapshotHash, sRun.SnapshotHash)
	assert.Equal(t, manual.committer.commits, scheduled.committer.commits)

	mStored, err := manual.store.Load()
	require.NoError(t, err)
	sStored, err := scheduled.store.Load()
	require.NoError(t, err)
	assert.True(t, mStored.Equal(sStored))
}

func TestRun_ComputeFailureLeavesArtifactUntouched(t *testing.T) {
	h := newHarness(t)
	_, err := h.refresher.Run(context.Background(), models.TriggerSchedule)
	require.NoError(t, err)
	before := h.read(t)

	h.calc.err = errors.New("lcd unreachable")
	run, err := h.refresher.Run(context.Background(), models.TriggerManual)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lcd unreachable")

	require.NotNil(t, run)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "lcd unreachable")
	assert.False(t, run.Changed)
	assert.Equal(t, before, h.read(t))
	assert.Equal(t, 1, h.committer.count())

	// side channels still see the failure
	require.Len(t, h.history.runs, 2)
	assert.Equal(t, models.RunStatusFailed, h.history.runs[1].Status)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.RunsTotal.WithLabelValues("manual", models.RunStatusFailed)))
}

func TestRun_ComputeFailureWithoutArtifact(t *testing.T) {
	h := newHarness(t)
	h.calc.err = errors.New("timeout")

	_, err := h.refresher.Run(context.Background(), models.TriggerSchedule)
	require.Error(t, err)

	exists, err := afero.Exists(h.fs, artifactPath)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRun_CommitFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	_, err := h.refresher.Run(context.Background(), models.TriggerSchedule)
	require.NoError(t, err)
	before := h.read(t)

	h.calc.snapshot = models.NewSnapshot(99, 1, 1)
	h.committer.err = errors.New("index locked")
	run, err := h.refresher.Run(context.Background(), models.TriggerSchedule)
	require.Error(t, err)

	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.False(t, run.Changed)
	assert.False(t, run.Committed)
	assert.Equal(t, before, h.read(t))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.CommitsTotal.WithLabelValues(commitError)))
}

func TestRun_CommitFailureRemovesNewArtifact(t *testing.T) {
	h := newHarness(t)
	h.committer.err = errors.New("no repository")

	_, err := h.refresher.Run(context.Background(), models.TriggerSchedule)
	require.Error(t, err)

	exists, err := afero.Exists(h.fs, artifactPath)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRun_PushFailureKeepsCommittedArtifact(t *testing.T) {
	h := newHarness(t)
	h.committer.pushErr = errors.New("repository not found")

	run, err := h.refresher.Run(context.Background(), models.TriggerSchedule)
	require.Error(t, err)
	assert.ErrorIs(t, err, vcs.ErrPushFailed)

	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.True(t, run.Changed)
	assert.True(t, run.Committed)
	assert.Equal(t, "c0ffee", run.CommitHash)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.CommitsTotal.WithLabelValues(commitCommitted)))
	assert.Equal(t, float64(0), testutil.ToFloat64(h.metrics.CommitsTotal.WithLabelValues(commitError)))

	stored, err := h.store.Load()
	require.NoError(t, err)
	assert.True(t, stored.Equal(h.calc.snapshot))

	stats := h.refresher.GetStats()
	assert.Equal(t, uint64(1), stats.FailedRuns)
	assert.Equal(t, uint64(1), stats.Commits)

	// the artifact matches the local commit, so the next run has nothing to do
	h.committer.pushErr = nil
	run, err = h.refresher.Run(context.Background(), models.TriggerSchedule)
	require.NoError(t, err)
	assert.False(t, run.Changed)
	assert.Equal(t, 1, h.committer.count())
}

func TestRun_NothingToCommitIsNotAnError(t *testing.T) {
	h := newHarness(t)
	h.committer.err = vcs.ErrNothingToCommit

	run, err := h.refresher.Run(context.Background(), models.TriggerSchedule)
	require.NoError(t, err)

	assert.True(t, run.Changed)
	assert.False(t, run.Committed)
	assert.Empty(t, run.CommitHash)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.CommitsTotal.WithLabelValues(commitSkipped)))

	exists, err := afero.Exists(h.fs, artifactPath)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRun_NilCommitterWritesOnly(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := NewRefresher(Dependencies{
		Calculator: &fakeCalculator{snapshot: models.NewSnapshot(1, 2, 3)},
		Store:      artifact.NewFileStore(fs, artifactPath),
	}, "msg")

	run, err := r.Run(context.Background(), models.TriggerManual)
	require.NoError(t, err)
	assert.True(t, run.Changed)
	assert.False(t, run.Committed)
}

func TestRun_CorruptArtifactIsReplaced(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, afero.WriteFile(h.fs, artifactPath, []byte("{not json"), 0644))

	run, err := h.refresher.Run(context.Background(), models.TriggerSchedule)
	require.NoError(t, err)
	assert.True(t, run.Changed)

	stored, err := h.store.Load()
	require.NoError(t, err)
	assert.True(t, stored.Equal(h.calc.snapshot))
}

func TestRun_TimestampOnlyDifferenceIsUnchanged(t *testing.T) {
	h := newHarness(t)
	old := models.NewSnapshot(12.3456, 1000.5, 42)
	old.Stamp(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, h.store.Save(old))
	before := h.read(t)

	run, err := h.refresher.Run(context.Background(), models.TriggerSchedule)
	require.NoError(t, err)
	assert.False(t, run.Changed)
	assert.Equal(t, before, h.read(t))
	assert.Equal(t, 0, h.committer.count())
}

func TestRun_RejectsOverlappingRuns(t *testing.T) {
	h := newHarness(t)
	h.calc.block = make(chan struct{})
	h.calc.started = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.refresher.Run(context.Background(), models.TriggerSchedule)
		done <- err
	}()

	<-h.calc.started
	assert.True(t, h.refresher.IsRunning())

	run, err := h.refresher.Run(context.Background(), models.TriggerManual)
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Nil(t, run)

	close(h.calc.block)
	require.NoError(t, <-done)
	assert.False(t, h.refresher.IsRunning())

	stats := h.refresher.GetStats()
	assert.Equal(t, uint64(1), stats.TotalRuns)
	assert.Equal(t, uint64(1), stats.Rejected)
	assert.Equal(t, 1, h.committer.count())
}

func TestRun_SideChannelFailuresDoNotFailRun(t *testing.T) {
	h := newHarness(t)
	h.history.err = errors.New("database is locked")

	run, err := h.refresher.Run(context.Background(), models.TriggerSchedule)
	require.NoError(t, err)
	assert.True(t, run.Succeeded())

	stats := h.refresher.GetStats()
	assert.Equal(t, uint64(1), stats.SucceededRuns)
	assert.Equal(t, uint64(1), stats.Commits)
	require.NotNil(t, stats.LastRun)
	assert.Equal(t, run.ID, stats.LastRun.ID)
}
