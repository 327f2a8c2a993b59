package jobs

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Schedules holds the cron expressions for each job.
type Schedules struct {
	UrgentExpiry    string
	MonitoringPrune string
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	jobs      *Jobs
	schedules Schedules
	logger    *slog.Logger
}

func NewScheduler(jobs *Jobs, schedules Schedules, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:      c,
		jobs:      jobs,
		schedules: schedules,
		logger:    logger.With("component", "scheduler"),
	}
}

// Register adds every job to the cron table. A bad expression fails startup
// rather than silently disabling the job.
func (s *Scheduler) Register() error {
	entries := []struct {
		name     string
		schedule string
		run      func()
	}{
		{name: "urgent_expiry", schedule: s.schedules.UrgentExpiry, run: s.jobs.ExpireUrgentRequests},
		{name: "monitoring_prune", schedule: s.schedules.MonitoringPrune, run: s.jobs.PruneMonitoring},
	}
	for _, e := range entries {
		if _, err := s.cron.AddFunc(e.schedule, e.run); err != nil {
			s.logger.Error("failed to schedule job", "job", e.name, "schedule", e.schedule, "error", err)
			return err
		}
		s.logger.Info("scheduled job", "job", e.name, "schedule", e.schedule)
	}
	return nil
}

// Serve runs the cron loop until ctx is cancelled and waits for running jobs.
func (s *Scheduler) Serve(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) String() string {
	return "scheduler"
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
