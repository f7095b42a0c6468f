package jobs

import "github.com/hibiken/asynq"

// DefaultSchedule returns the cron entries the worker registers. Times are UTC.
func DefaultSchedule() ([]CronRegistration, error) {
	overdue, err := NewMarkOverdueTask("")
	if err != nil {
		return nil, err
	}
	expire, err := NewExpireQuotesTask("")
	if err != nil {
		return nil, err
	}
	warm, err := NewWarmReportsTask(WarmReportsPayload{})
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{asynq.MaxRetry(3)}
	return []CronRegistration{
		{Spec: "5 0 * * *", Task: overdue, Options: opts},
		{Spec: "10 0 * * *", Task: expire, Options: opts},
		{Spec: "30 1 * * *", Task: warm, Options: opts},
	}, nil
}
