package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/ledgermatch/ledgermatch/internal/app"
	"github.com/ledgermatch/ledgermatch/internal/approval"
	"github.com/ledgermatch/ledgermatch/internal/audit"
	"github.com/ledgermatch/ledgermatch/internal/match"
	"github.com/ledgermatch/ledgermatch/internal/pgstore"
	"github.com/ledgermatch/ledgermatch/internal/platform/db"
	"github.com/ledgermatch/ledgermatch/internal/rbac"
	"github.com/ledgermatch/ledgermatch/internal/recon"
	"github.com/ledgermatch/ledgermatch/jobs"
)

func main() {
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
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	table := rbac.DefaultTable()
	store := pgstore.New(pool)
	service := recon.NewService(store, match.NewEngine(), approval.NewWorkflow(table), audit.NewChain(), table, logger)

	verifyJob := jobs.NewChainVerifyJob(service, logger)

	verifyTask, err := jobs.NewChainVerifyTask("schedule")
	if err != nil {
		logger.Error("build verify task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskChainVerify, Handler: verifyJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ChainVerifySchedule, Task: verifyTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
