package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/billing-core/internal/app"
	"github.com/odyssey-erp/billing-core/internal/billing/conversion"
	"github.com/odyssey-erp/billing-core/internal/billing/documents"
	"github.com/odyssey-erp/billing-core/internal/billing/periods"
	"github.com/odyssey-erp/billing-core/internal/billing/reports"
	"github.com/odyssey-erp/billing-core/internal/billing/sharelink"
	"github.com/odyssey-erp/billing-core/internal/observability"
	"github.com/odyssey-erp/billing-core/internal/platform/cache"
	"github.com/odyssey-erp/billing-core/internal/platform/db"
	"github.com/odyssey-erp/billing-core/jobs"
	"github.com/odyssey-erp/billing-core/migrations"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	if os.Getenv("MIGRATE_ON_START") == "1" {
		if err := migrations.Apply(ctx, dbpool); err != nil {
			logger.Error("apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Warn("redis unavailable, caching disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	services, err := app.NewServices(cfg, logger, dbpool, redisClient, metrics)
	if err != nil {
		logger.Error("init services", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		DocumentsHandler:  documents.NewHandler(logger, services.Documents),
		ConversionHandler: conversion.NewHandler(logger, services.Conversion),
		ShareHandler:      sharelink.NewHandler(logger, services.ShareLinks),
		PeriodsHandler:    periods.NewHandler(logger, services.Periods),
		ReportsHandler:    reports.NewHandler(logger, services.Reports),
		JobHandler:        jobs.NewHandler(inspector, logger),
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
