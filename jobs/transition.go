package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/billing-core/internal/billing/shared"
	jobmetrics "github.com/odyssey-erp/billing-core/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Transitioner moves past-due documents between statuses.
type Transitioner interface {
	TransitionPastDue(ctx context.Context, kind shared.Kind, from, to shared.Status, asOf time.Time) (int, error)
}

// TransitionJob sweeps one kind of document from one status to another.
type TransitionJob struct {
	Documents Transitioner
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics

	name  string
	kind  shared.Kind
	from  shared.Status
	to    shared.Status
	clock func() time.Time
}

// NewMarkOverdueJob wires the SENT to OVERDUE invoice sweep.
func NewMarkOverdueJob(docs Transitioner, logger *slog.Logger, metrics *jobmetrics.Metrics) *TransitionJob {
	return newTransitionJob(TaskMarkOverdue, shared.KindInvoice, shared.StatusSent, shared.StatusOverdue, docs, logger, metrics)
}

// NewExpireQuotesJob wires the SENT to EXPIRED quote sweep.
func NewExpireQuotesJob(docs Transitioner, logger *slog.Logger, metrics *jobmetrics.Metrics) *TransitionJob {
	return newTransitionJob(TaskExpireQuotes, shared.KindQuote, shared.StatusSent, shared.StatusExpired, docs, logger, metrics)
}

func newTransitionJob(name string, kind shared.Kind, from, to shared.Status, docs Transitioner, logger *slog.Logger, metrics *jobmetrics.Metrics) *TransitionJob {
	return &TransitionJob{
		Documents: docs,
		Logger:    logger,
		Metrics:   metrics,
		name:      name,
		kind:      kind,
		from:      from,
		to:        to,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes the sweep task.
func (j *TransitionJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Documents == nil {
		return errors.New("transition job: handler not configured")
	}
	var payload TransitionPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	asOf, err := payload.asOf(j.clock())
	if err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(j.name)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("as_of", asOf.Format(time.DateOnly)))
	moved, err := j.Documents.TransitionPastDue(ctx, j.kind, j.from, j.to, asOf)
	if err != nil {
		logger.Error("transition past due", slog.Int("moved", moved), slog.Any("error", err))
		return err
	}
	j.metrics().AddAffected(j.name, moved)
	logger.Info("transitioned past due documents", slog.Int("moved", moved), slog.String("status", string(j.to)))
	return nil
}

func (j *TransitionJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", j.name))
	}
	return slog.Default().With(slog.String("job", j.name))
}

func (j *TransitionJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
