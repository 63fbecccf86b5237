package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ledgermatch/ledgermatch/internal/app"
	"github.com/ledgermatch/ledgermatch/internal/approval"
	"github.com/ledgermatch/ledgermatch/internal/audit"
	audithttp "github.com/ledgermatch/ledgermatch/internal/audit/http"
	"github.com/ledgermatch/ledgermatch/internal/auth"
	"github.com/ledgermatch/ledgermatch/internal/match"
	"github.com/ledgermatch/ledgermatch/internal/pgstore"
	"github.com/ledgermatch/ledgermatch/internal/platform/cache"
	"github.com/ledgermatch/ledgermatch/internal/platform/db"
	"github.com/ledgermatch/ledgermatch/internal/rbac"
	"github.com/ledgermatch/ledgermatch/internal/recon"
	reconhttp "github.com/ledgermatch/ledgermatch/internal/recon/http"
	"github.com/ledgermatch/ledgermatch/jobs"
	"github.com/ledgermatch/ledgermatch/migrations"
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

	if err := db.Migrate(migrations.Files, cfg.PGDSN); err != nil {
		logger.Error("run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
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

	table := rbac.DefaultTable()
	store := pgstore.New(pool)
	service := recon.NewService(store, match.NewEngine(), approval.NewWorkflow(table), audit.NewChain(), table, logger)

	tokens := auth.NewTokenStore(redisClient, cfg.TokenTTL)
	gate := rbac.NewMiddleware(table)

	queue, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("connect job queue", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("job queue close", slog.Any("error", err))
		}
	}()
	if _, err := queue.EnqueueChainVerify(ctx, "startup"); err != nil {
		logger.Warn("enqueue startup chain verify", slog.Any("error", err))
	}

	var jobHandler *jobs.Handler
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler = jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Tokens:         tokens,
		AuthHandler:    auth.NewHandler(tokens, service, logger, gate),
		ReconHandler:   reconhttp.NewHandler(service, logger),
		AuditHandler:   audithttp.NewHandler(service, logger),
		JobHandler:     jobHandler,
		RBACMiddleware: gate,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server run", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
