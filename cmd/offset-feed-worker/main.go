package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"offsetledger/internal/amqp"
	"offsetledger/internal/config"
	"offsetledger/internal/feeds"
	applog "offsetledger/internal/log"
	"offsetledger/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()

	logger := applog.New(applog.Config{
		Format:    cfg.LogFormat,
		Component: applog.ComponentWorker,
	})
	applog.SetDefault(logger)

	logger.Info("Starting offset-feed-worker")

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err.Error())
		os.Exit(1)
	}
	if cfg.BankAPIBaseURL == "" {
		logger.Error("Bank feed API is not configured - nothing to sync")
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository",
			applog.FieldError, err.Error(), "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	feedClient := feeds.NewClient(cfg.BankAPIBaseURL, cfg.BankAPIKey, cfg.BankAccountID, logger)
	processor := feeds.NewProcessor(feedClient, repo, logger)
	worker := feeds.NewWorker(processor, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Sync once on startup so a fresh deployment is not empty until the
	// first tick or refresh request.
	if err := worker.HandleMessage(ctx, amqp.NewFeedRefreshMessage(0, cfg.DaysToFetch)); err != nil {
		logger.Error("Startup sync failed", applog.FieldError, err.Error())
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", applog.FieldError, err.Error())
			os.Exit(1)
		}
		defer amqpClient.Close()

		g.Go(func() error {
			return amqpClient.ConsumeFeedRefresh(ctx, worker.HandleMessage)
		})
		logger.Info("Consuming refresh requests", "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP disabled - running on the periodic schedule only")
	}

	g.Go(func() error {
		ticker := time.NewTicker(cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				msg := amqp.NewFeedRefreshMessage(0, cfg.DaysToFetch)
				if err := worker.HandleMessage(ctx, msg); err != nil {
					logger.Error("Periodic sync failed", applog.FieldError, err.Error())
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", applog.FieldError, err.Error())
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}
