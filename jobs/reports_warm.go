package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/billing-core/internal/billing/reports"
	jobmetrics "github.com/odyssey-erp/billing-core/internal/jobs"
)

// ReportBuilder serves profit and loss reports.
type ReportBuilder interface {
	ProfitLoss(ctx context.Context, ownerID string, year int, from, to *time.Time) (reports.ProfitLossReport, error)
}

// OwnerLister finds owners with recent activity.
type OwnerLister interface {
	ActiveOwners(ctx context.Context, since time.Time) ([]string, error)
}

// ReportWarmupJob pre-populates the report cache for active owners.
type ReportWarmupJob struct {
	Reports ReportBuilder
	Owners  OwnerLister
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewReportWarmupJob wires dependencies for the warmup handler.
func NewReportWarmupJob(reportsSvc ReportBuilder, owners OwnerLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReportWarmupJob {
	return &ReportWarmupJob{
		Reports: reportsSvc,
		Owners:  owners,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes report warmup tasks.
func (j *ReportWarmupJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Reports == nil {
		return errors.New("report warmup: handler not configured")
	}
	var payload WarmReportsPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	now := j.now()
	if payload.Year == 0 {
		payload.Year = now.Year()
	}
	if payload.SinceHours <= 0 {
		payload.SinceHours = 24
	}

	tracker := j.metrics().Track(TaskWarmReports)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int("year", payload.Year))
	owners := []string{payload.OwnerID}
	if payload.OwnerID == "" {
		if j.Owners == nil {
			return errors.New("report warmup: owner lister not configured")
		}
		var err error
		owners, err = j.Owners.ActiveOwners(ctx, now.Add(-time.Duration(payload.SinceHours)*time.Hour))
		if err != nil {
			logger.Error("load active owners", slog.Any("error", err))
			return err
		}
	}
	if len(owners) == 0 {
		logger.Info("no owners to warm")
		return nil
	}

	for _, owner := range owners {
		ownerCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
		_, err := j.Reports.ProfitLoss(ownerCtx, owner, payload.Year, nil, nil)
		cancel()
		if err != nil {
			logger.Error("warm owner report", slog.String("owner_id", owner), slog.Any("error", err))
			return err
		}
	}
	logger.Info("completed report warmup", slog.Int("owners", len(owners)), slog.Duration("duration", time.Since(now)))
	return nil
}

func (j *ReportWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskWarmReports))
	}
	return slog.Default().With(slog.String("job", TaskWarmReports))
}

func (j *ReportWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReportWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
