package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/pawsuite/pawsuite/internal/authz"
	jobmetrics "github.com/pawsuite/pawsuite/internal/jobs"
)

// ClaimsSyncJob repairs drift between the identity provider's claims and
// the role store across all users.
type ClaimsSyncJob struct {
	Sync    *authz.Synchronizer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewClaimsSyncJob wires dependencies for the sync handler.
func NewClaimsSyncJob(sync *authz.Synchronizer, logger *slog.Logger, metrics *jobmetrics.Metrics) *ClaimsSyncJob {
	return &ClaimsSyncJob{Sync: sync, Logger: logger, Metrics: metrics}
}

// Handle processes TaskClaimsSync tasks.
func (j *ClaimsSyncJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sync == nil {
		return errors.New("claims sync: handler not configured")
	}
	var payload ClaimsSyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskClaimsSync)
	report, err := j.Sync.SyncAll(ctx, payload.PageToken)
	if report != nil {
		j.metrics().AddDriftRepairs(TaskClaimsSync, report.Repaired)
		j.logger().Info("claims sync finished",
			slog.Int("scanned", report.Scanned),
			slog.Int("repaired", report.Repaired),
			slog.Int("failed", report.Failed),
			slog.String("next_page_token", report.NextPageToken))
	}
	return tracker.End(err)
}

func (j *ClaimsSyncJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}

func (j *ClaimsSyncJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
