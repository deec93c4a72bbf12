// Package scheduler runs the maintenance jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/arklim/superauth/internal/infra/config"
	"github.com/arklim/superauth/internal/usecase"
)

const defaultJobTimeout = 5 * time.Minute

// Scheduler owns a cron runner. Each job runs at most once at a time.
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	timeout time.Duration
	entries map[string]cron.EntryID
}

// New registers every job that has a schedule in cfg. Jobs with an empty schedule are skipped.
func New(ctx context.Context, cfg config.SchedulerSettings, jobs []usecase.MaintenanceJob, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger})),
	)
	s := &Scheduler{
		cron:    c,
		logger:  logger,
		timeout: defaultJobTimeout,
		entries: make(map[string]cron.EntryID, len(jobs)),
	}

	schedules := Schedules(cfg)
	for _, job := range jobs {
		spec := schedules[job.Name]
		if spec == "" {
			logger.Info("maintenance job disabled", zap.String("job", job.Name))
			continue
		}

		job := job
		id, err := c.AddFunc(spec, func() {
			usecase.RunMaintenanceJob(ctx, job, s.timeout, logger)
		})
		if err != nil {
			return nil, fmt.Errorf("schedule %s (%q): %w", job.Name, spec, err)
		}
		s.entries[job.Name] = id
	}

	return s, nil
}

// Schedules maps job names to their cron specs.
func Schedules(cfg config.SchedulerSettings) map[string]string {
	return map[string]string{
		"expired_roles":  cfg.ExpiredRoles,
		"expired_otps":   cfg.ExpiredOTPs,
		"breach_records": cfg.BreachRecords,
		"login_history":  cfg.LoginHistory,
	}
}

// Jobs returns the names of scheduled jobs.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

// Next reports when job next fires after from.
func (s *Scheduler) Next(job string, from time.Time) (time.Time, bool) {
	id, ok := s.entries[job]
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Schedule.Next(from.UTC()), true
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("maintenance scheduler started", zap.Int("jobs", len(s.entries)))
}

// Stop halts scheduling and waits for running jobs until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("maintenance jobs still running at shutdown")
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
