package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskMarkOverdue moves SENT invoices past their due date to OVERDUE.
	TaskMarkOverdue = "billing:invoices:mark-overdue"
	// TaskExpireQuotes moves SENT quotes past their valid-until date to EXPIRED.
	TaskExpireQuotes = "billing:quotes:expire"
	// TaskWarmReports pre-builds profit and loss reports for active owners.
	TaskWarmReports = "billing:reports:warm"
)

// TransitionPayload configures the due-date sweeps. An empty AsOf means today.
type TransitionPayload struct {
	AsOf string `json:"as_of,omitempty"`
}

func (p TransitionPayload) asOf(now time.Time) (time.Time, error) {
	if p.AsOf == "" {
		return now, nil
	}
	return time.Parse(time.DateOnly, p.AsOf)
}

// WarmReportsPayload selects which reports to warm. Without an owner every
// owner active within SinceHours is warmed; Year defaults to the current year.
type WarmReportsPayload struct {
	OwnerID    string `json:"owner_id,omitempty"`
	Year       int    `json:"year,omitempty"`
	SinceHours int    `json:"since_hours,omitempty"`
}

// NewMarkOverdueTask constructs the overdue sweep task.
func NewMarkOverdueTask(asOf string) (*asynq.Task, error) {
	return newTask(TaskMarkOverdue, TransitionPayload{AsOf: asOf})
}

// NewExpireQuotesTask constructs the quote expiry task.
func NewExpireQuotesTask(asOf string) (*asynq.Task, error) {
	return newTask(TaskExpireQuotes, TransitionPayload{AsOf: asOf})
}

// NewWarmReportsTask constructs the report warmup task.
func NewWarmReportsTask(payload WarmReportsPayload) (*asynq.Task, error) {
	return newTask(TaskWarmReports, payload)
}

func newTask(typ string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("jobs: encode %s payload: %w", typ, err)
	}
	return asynq.NewTask(typ, data), nil
}
