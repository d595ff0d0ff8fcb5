package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
)

// Bumper invalidates a cache. refdata.CachedSource implements it.
type Bumper interface {
	Bump(ctx context.Context) error
}

// RefdataRefreshJob drops the cached reference collections so that labels
// pick up renamed currencies, units and categories.
type RefdataRefreshJob struct {
	Cache   Bumper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes refdata refresh tasks.
func (j *RefdataRefreshJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Cache == nil {
		return errors.New("refdata refresh: handler not configured")
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskRefdataRefresh)
	err := j.Cache.Bump(ctx)
	if err != nil && j.Logger != nil {
		j.Logger.Warn("refdata refresh", slog.Any("error", err))
	}
	return tracker.End(err)
}
