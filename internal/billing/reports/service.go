package reports

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/billing-core/internal/billing/shared"
)

// CacheRecorder counts cache outcomes.
type CacheRecorder interface {
	ReportCache(outcome string)
}

// ServiceConfig wires optional collaborators.
type ServiceConfig struct {
	Metrics CacheRecorder
	Logger  *slog.Logger
}

// Service serves cached profit and loss reports.
type Service struct {
	agg     *Aggregator
	cache   *Cache
	group   singleflight.Group
	metrics CacheRecorder
	logger  *slog.Logger
}

// NewService builds the report service. cache may be nil.
func NewService(agg *Aggregator, cache *Cache, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{agg: agg, cache: cache, metrics: cfg.Metrics, logger: logger}
}

// YearRange returns the inclusive window of a calendar year.
func YearRange(year int) (time.Time, time.Time) {
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(1, 0, 0).Add(-time.Nanosecond)
}

// ProfitLoss returns the report for year. from and to narrow the range and
// default to the year's bounds; to is extended to the end of its day.
func (s *Service) ProfitLoss(ctx context.Context, ownerID string, year int, from, to *time.Time) (ProfitLossReport, error) {
	if year < 1900 || year > 9999 {
		return ProfitLossReport{}, fmt.Errorf("%w: year %d out of range", shared.ErrValidation, year)
	}
	start, end := YearRange(year)
	if from != nil {
		start = dayStart(*from)
	}
	if to != nil {
		end = dayStart(*to).AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	if end.Before(start) {
		return ProfitLossReport{}, fmt.Errorf("%w: report range ends before it starts", shared.ErrValidation)
	}

	key, err := s.cache.BuildKey(ctx, ownerID, "pl", strconv.Itoa(year), s.agg.Currency(), start.Format(time.DateOnly), end.Format(time.DateOnly))
	if err != nil {
		s.logger.Warn("report cache version", slog.String("owner_id", ownerID), slog.Any("error", err))
		s.record("bypass")
		return s.build(ctx, ownerID, year, start, end)
	}

	res := s.group.DoChan(key, func() (any, error) {
		var (
			report   ProfitLossReport
			built    *ProfitLossReport
			buildErr error
		)
		hit, err := s.cache.FetchJSON(ctx, key, &report, func(ctx context.Context) (any, error) {
			r, err := s.build(ctx, ownerID, year, start, end)
			if err != nil {
				buildErr = err
				return nil, err
			}
			built = &r
			return r, nil
		})
		if err != nil {
			if buildErr != nil {
				return nil, buildErr
			}
			s.logger.Warn("report cache unavailable", slog.String("owner_id", ownerID), slog.String("key", key), slog.Any("error", err))
			s.record("bypass")
			if built != nil {
				return *built, nil
			}
			return s.build(ctx, ownerID, year, start, end)
		}
		if hit {
			s.record("hit")
		} else {
			s.record("miss")
		}
		return report, nil
	})
	select {
	case <-ctx.Done():
		return ProfitLossReport{}, ctx.Err()
	case r := <-res:
		if r.Err != nil {
			return ProfitLossReport{}, r.Err
		}
		return r.Val.(ProfitLossReport), nil
	}
}

func (s *Service) build(ctx context.Context, ownerID string, year int, start, end time.Time) (ProfitLossReport, error) {
	report, err := s.agg.Build(ctx, ownerID, start, end)
	if err != nil {
		return ProfitLossReport{}, err
	}
	report.Year = year
	return report, nil
}

// DocumentsChanged drops the owner's cached reports.
func (s *Service) DocumentsChanged(ctx context.Context, ownerID string) {
	if err := s.cache.Bump(ctx, ownerID); err != nil {
		s.logger.Warn("report cache bump", slog.String("owner_id", ownerID), slog.Any("error", err))
	}
}

func (s *Service) record(outcome string) {
	if s.metrics != nil {
		s.metrics.ReportCache(outcome)
	}
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
