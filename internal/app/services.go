package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/billing-core/internal/billing/conversion"
	"github.com/odyssey-erp/billing-core/internal/billing/documents"
	"github.com/odyssey-erp/billing-core/internal/billing/periods"
	"github.com/odyssey-erp/billing-core/internal/billing/reports"
	"github.com/odyssey-erp/billing-core/internal/billing/sequence"
	"github.com/odyssey-erp/billing-core/internal/billing/sharelink"
	"github.com/odyssey-erp/billing-core/internal/observability"
	"github.com/odyssey-erp/billing-core/internal/shared"
)

// Services holds the billing services shared by the binaries.
type Services struct {
	Documents    *documents.Service
	Conversion   *conversion.Service
	ShareLinks   *sharelink.Service
	Periods      *periods.Service
	Reports      *reports.Service
	ReportSource *reports.PGSource
}

// NewServices wires the billing services over Postgres and Redis. redisClient
// may be nil, which disables caching.
func NewServices(cfg *Config, logger *slog.Logger, pool *pgxpool.Pool, redisClient *redis.Client, metrics *observability.Metrics) (*Services, error) {
	vat, err := cfg.VATRate()
	if err != nil {
		return nil, err
	}
	rates, err := cfg.ExchangeRates()
	if err != nil {
		return nil, err
	}
	policy := sequence.Policy{ResetYearly: cfg.SequenceResetYearly}

	source := reports.NewSource(pool)
	aggregator := reports.NewAggregator(source, reports.Options{
		Currency:      cfg.DefaultCurrency,
		Rates:         rates,
		ExcludeDrafts: cfg.ReportExcludeDrafts,
	})
	reportSvc := reports.NewService(aggregator, reports.NewCache(redisClient, cfg.ReportCacheTTL), reports.ServiceConfig{
		Metrics: metrics,
		Logger:  logger,
	})

	repo := documents.NewRepository(pool)
	docs := documents.NewService(repo, documents.ServiceConfig{
		Policy:          policy,
		DefaultCurrency: cfg.DefaultCurrency,
		DefaultVATRate:  vat,
		Notifier:        reportSvc,
		Audit:           shared.NewAuditLogger(pool),
		Metrics:         metrics,
		Logger:          logger,
	})
	conv := conversion.NewService(repo, conversion.Config{
		Policy:   policy,
		Notifier: reportSvc,
		Metrics:  metrics,
		Logger:   logger,
	})
	links := sharelink.NewService(sharelink.NewRepository(pool), docs, redisClient, sharelink.Config{
		BaseURL:  cfg.PublicBaseURL,
		CacheTTL: cfg.ShareCacheTTL,
		Logger:   logger,
	})
	return &Services{
		Documents:    docs,
		Conversion:   conv,
		ShareLinks:   links,
		Periods:      periods.NewService(periods.NewAccounts(pool), nil),
		Reports:      reportSvc,
		ReportSource: source,
	}, nil
}
