package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/staking-stats/internal/config"
	"github.com/smartdevs17/staking-stats/internal/models"
	"github.com/smartdevs17/staking-stats/internal/refresh"
	"github.com/smartdevs17/staking-stats/pkg/utils"
)

// Runner performs one refresh
type Runner interface {
	Run(ctx context.Context, trigger models.Trigger) (*models.RunRecord, error)
}

// Scheduler fires scheduled refresh runs
type Scheduler struct {
	cfg       *config.SchedulerConfig
	runner    Runner
	location  *time.Location
	schedules []cron.Schedule
	cron      *cron.Cron
	logger    *logrus.Entry

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New parses the configured schedules and prepares the cron runner
func New(cfg *config.SchedulerConfig, runner Runner) (*Scheduler, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid scheduler timezone", err.Error())
	}

	logger := utils.ComponentLogger("scheduler")
	s := &Scheduler{
		cfg:      cfg,
		runner:   runner,
		location: loc,
		logger:   logger,
	}

	cl := &cronLogger{entry: logger}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	for _, spec := range cfg.Schedules {
		schedule, err := cron.ParseStandard(spec)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeConfiguration,
				"Invalid schedule", fmt.Sprintf("%s: %v", spec, err))
		}
		s.schedules = append(s.schedules, schedule)
		s.cron.Schedule(schedule, cron.FuncJob(s.fire))
	}
	return s, nil
}

// Start begins firing scheduled runs. Runs use ctx until Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Scheduler already running", "")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.cron.Start()

	s.logger.WithFields(logrus.Fields{
		"schedules": s.cfg.Schedules,
		"timezone":  s.location.String(),
		"next_run":  s.Next(time.Now()),
	}).Info("Scheduler started")

	if s.cfg.RunOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.fire()
		}()
	}
	return nil
}

// Stop halts the scheduler and waits for an active run to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("Stopping scheduler")
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.cancel()
	s.logger.Info("Scheduler stopped")
}

// IsRunning reports whether the scheduler is started
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Next returns the earliest activation after from, or the zero time
// when no schedule is configured.
func (s *Scheduler) Next(from time.Time) time.Time {
	var next time.Time
	for _, schedule := range s.schedules {
		t := schedule.Next(from.In(s.location))
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	return next
}

// NextRuns returns the next n activations after from
func (s *Scheduler) NextRuns(from time.Time, n int) []time.Time {
	runs := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		next := s.Next(from)
		if next.IsZero() {
			break
		}
		runs = append(runs, next)
		from = next
	}
	return runs
}

// Location returns the timezone schedules are evaluated in
func (s *Scheduler) Location() *time.Location {
	return s.location
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	_, err := s.runner.Run(ctx, models.TriggerSchedule)
	switch {
	case errors.Is(err, refresh.ErrRunInProgress):
		s.logger.Info("Scheduled run skipped, another run is in progress")
	case err != nil:
		s.logger.WithError(err).Warn("Scheduled run failed")
	}
}

// cronLogger adapts logrus to cron.Logger
type cronLogger struct {
	entry *logrus.Entry
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(toFields(keysAndValues)).Debug(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(toFields(keysAndValues)).WithError(err).Error(msg)
}

func toFields(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
