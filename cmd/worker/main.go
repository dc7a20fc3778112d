package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/pactform/pactform/internal/agreement"
	"github.com/pactform/pactform/internal/app"
	"github.com/pactform/pactform/internal/hashchain"
	"github.com/pactform/pactform/internal/notify"
	"github.com/pactform/pactform/internal/platform/cache"
	"github.com/pactform/pactform/internal/platform/db"
	"github.com/pactform/pactform/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	agreementRepo := agreement.NewRepository(pool)
	notifier := notify.NewRedisNotifier(redisClient, logger)
	chain := hashchain.NewPostgresChain(pool)

	finalizedJob := jobs.NewFinalizedJob(agreementRepo, notifier, logger)
	sweepJob := jobs.NewOrphanSweepJob(pool, cfg.UploadDir, logger)
	verifyJob := jobs.NewChainVerifyJob(chain, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAgreementFinalized, Handler: finalizedJob.Handle},
			{Type: jobs.TaskOrphanSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskChainVerify, Handler: verifyJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "30 2 * * *", Task: jobs.NewOrphanSweepTask(), Options: []asynq.Option{asynq.MaxRetry(2)}},
			{Spec: "0 3 * * *", Task: jobs.NewChainVerifyTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("build worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker exited", slog.Any("error", err))
		os.Exit(1)
	}
}
