package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/billing-core/cmd/billingctl/cli"
	"github.com/odyssey-erp/billing-core/internal/app"
	"github.com/odyssey-erp/billing-core/internal/observability"
	"github.com/odyssey-erp/billing-core/internal/platform/cache"
	"github.com/odyssey-erp/billing-core/internal/platform/db"
	"github.com/odyssey-erp/billing-core/migrations"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	load := func(ctx context.Context) (*cli.Env, error) {
		cfg, err := app.LoadConfig()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		logger := app.NewLogger(cfg)

		pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		cleanup = append(cleanup, pool.Close)

		redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Warn("redis unavailable, report cache disabled", slog.Any("error", err))
			redisClient = nil
		} else {
			cleanup = append(cleanup, func() { _ = redisClient.Close() })
		}

		services, err := app.NewServices(cfg, logger, pool, redisClient, observability.NewMetrics())
		if err != nil {
			return nil, err
		}
		jobsCLI := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		cleanup = append(cleanup, func() { _ = jobsCLI.Close() })

		return &cli.Env{
			Periods: services.Periods,
			Reports: services.Reports,
			Jobs:    jobsCLI,
			Migrate: func(ctx context.Context) error { return migrate(ctx, pool) },
		}, nil
	}

	err := cli.NewRootCommand(load).ExecuteContext(ctx)
	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "billingctl:", err)
		os.Exit(1)
	}
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	return migrations.Apply(ctx, pool)
}
