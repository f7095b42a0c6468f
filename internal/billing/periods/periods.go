// Package periods splits a fiscal year into reporting periods.
package periods

import (
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/billing-core/internal/billing/shared"
)

// Granularity selects how a year is divided.
type Granularity string

const (
	Annual    Granularity = "ANNUAL"
	BiMonthly Granularity = "BI_MONTHLY"
	Monthly   Granularity = "MONTHLY"
)

// ParseGranularity accepts the canonical names case-insensitively, with "-"
// allowed in place of "_".
func ParseGranularity(raw string) (Granularity, error) {
	switch g := Granularity(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), "-", "_"))); g {
	case Annual, BiMonthly, Monthly:
		return g, nil
	case "":
		return Monthly, nil
	default:
		return "", fmt.Errorf("%w: unknown granularity %q", shared.ErrValidation, raw)
	}
}

// Status describes a period relative to now.
type Status string

const (
	StatusClosed Status = "CLOSED"
	StatusOpen   Status = "OPEN"
	StatusFuture Status = "FUTURE"
)

// Period is a contiguous run of whole months. From and To are calendar dates
// at midnight UTC; To is the last day included.
// Index counts from 1 within the year and keeps its value when earlier
// periods are dropped by the registration floor.
type Period struct {
	Label       string      `json:"label"`
	Year        int         `json:"year"`
	Index       int         `json:"index"`
	Granularity Granularity `json:"granularity"`
	From        time.Time   `json:"from"`
	To          time.Time   `json:"to"`
	Status      Status      `json:"status"`
}

// Range returns the inclusive instant window covered by the period.
func (p Period) Range() (time.Time, time.Time) {
	end := p.To.AddDate(0, 0, 1).Add(-time.Nanosecond)
	return p.From, end
}

// Calculate lists the periods of year in calendar order. Periods ending before
// registration are dropped; a zero registration date keeps them all.
func Calculate(year int, granularity Granularity, now, registration time.Time) []Period {
	months := 0
	switch granularity {
	case Annual:
		months = 12
	case BiMonthly:
		months = 2
	case Monthly:
		months = 1
	default:
		return nil
	}

	today := dateOf(now)
	floor := time.Time{}
	if !registration.IsZero() {
		floor = dateOf(registration)
	}

	out := make([]Period, 0, 12/months)
	for start := 1; start <= 12; start += months {
		from := time.Date(year, time.Month(start), 1, 0, 0, 0, 0, time.UTC)
		to := from.AddDate(0, months, -1)
		if !floor.IsZero() && to.Before(floor) {
			continue
		}
		out = append(out, Period{
			Label:       label(granularity, from, to),
			Year:        year,
			Index:       (start-1)/months + 1,
			Granularity: granularity,
			From:        from,
			To:          to,
			Status:      statusOf(from, to, today),
		})
	}
	return out
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func statusOf(from, to, today time.Time) Status {
	switch {
	case to.Before(today):
		return StatusClosed
	case from.After(today):
		return StatusFuture
	default:
		return StatusOpen
	}
}

func label(g Granularity, from, to time.Time) string {
	switch g {
	case Annual:
		return fmt.Sprintf("%d", from.Year())
	case BiMonthly:
		return fmt.Sprintf("%s–%s %d", from.Month().String()[:3], to.Month().String()[:3], from.Year())
	default:
		return fmt.Sprintf("%s %d", from.Month(), from.Year())
	}
}
