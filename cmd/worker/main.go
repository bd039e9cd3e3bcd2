package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/solarcalc/invoicing/internal/app"
	jobmetrics "github.com/solarcalc/invoicing/internal/jobs"
	"github.com/solarcalc/invoicing/internal/observability"
	"github.com/solarcalc/invoicing/internal/platform/db"
	"github.com/solarcalc/invoicing/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()
	timings := jobmetrics.NewMetrics(metrics.Registerer(), metrics)

	// The worker records views directly, so it is built without a queue
	// or cache of its own.
	services := app.NewServices(app.ServiceParams{
		Config:  cfg,
		Logger:  logger,
		Pool:    pool,
		Metrics: metrics,
	})

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Downstream:  jobs.NewDownstreamJob(jobs.LogNotifier{Logger: logger}, logger, timings),
		Views:       jobs.NewViewJob(services.Quotations, logger, timings),
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.Int("concurrency", cfg.WorkerConcurrency))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
