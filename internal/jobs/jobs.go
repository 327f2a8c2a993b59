/**
 * @description
 * Scheduled job implementations for the scheduler binary.
 */
package jobs

import (
	"context"
	"log/slog"
	"time"
)

const jobTimeout = 2 * time.Minute

// UrgentExpirer expires urgent requests whose deadline has passed.
type UrgentExpirer interface {
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}

// MonitoringPruner deletes monitoring rows past retention.
type MonitoringPruner interface {
	Prune(ctx context.Context, now time.Time) (int64, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	urgent     UrgentExpirer
	monitoring MonitoringPruner
	logger     *slog.Logger
	now        func() time.Time
}

func NewJobs(urgent UrgentExpirer, monitoring MonitoringPruner, logger *slog.Logger) *Jobs {
	if logger == nil {
		logger = slog.Default()
	}
	return &Jobs{
		urgent:     urgent,
		monitoring: monitoring,
		logger:     logger.With("component", "scheduler"),
		now:        time.Now,
	}
}

// ExpireUrgentRequests moves overdue urgent requests to expired.
func (j *Jobs) ExpireUrgentRequests() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	expired, err := j.urgent.ExpireDue(ctx, j.now().UTC())
	if err != nil {
		j.logger.Error("urgent request expiry job failed", "error", err)
		return
	}
	j.logger.Info("urgent request expiry job finished", "expired", expired)
}

// PruneMonitoring removes error reports and performance samples past retention.
func (j *Jobs) PruneMonitoring() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	removed, err := j.monitoring.Prune(ctx, j.now().UTC())
	if err != nil {
		j.logger.Error("monitoring prune job failed", "error", err)
		return
	}
	j.logger.Info("monitoring prune job finished", "removed", removed)
}
