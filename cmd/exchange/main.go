package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brasaex/exchange/internal/app/api"
	"github.com/brasaex/exchange/internal/config"
	"github.com/brasaex/exchange/internal/infrastructure/postgresql/exchange"
	"github.com/brasaex/exchange/internal/usecase/engine"
	"github.com/brasaex/exchange/internal/usecase/feed"
	"github.com/brasaex/exchange/internal/usecase/journal"
	"github.com/brasaex/exchange/internal/usecase/webhook"
	"github.com/brasaex/exchange/pkg/logger"
	"github.com/brasaex/exchange/pkg/migrationpg"
	"github.com/brasaex/exchange/pkg/postgresql"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger, err := logger.NewLogger(logger.WithLoggingLevel(logger.Level(cfg.App.LogLevel)))
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	pgClient, err := postgresql.NewClient(ctx, cfg.DB)
	if err != nil {
		appLogger.Error(err)
		os.Exit(1)
	}
	defer pgClient.Close()

	migrator := migrationpg.NewRunner(pgClient, migrationpg.Config{MigrationDir: cfg.App.MigrationDir})
	if err := migrator.MigrateUp(ctx, 0); err != nil {
		appLogger.Error(err)
		os.Exit(1)
	}

	repo := exchange.NewRepository(pgClient)

	// Post-commit hooks: webhooks always, the Kafka trade feed only when
	// brokers are configured.
	dispatcher := webhook.NewDispatcher(cfg.App.WebhookTimeout, appLogger)
	hooks := []journal.CommitHook{dispatcher.CommitHook()}

	var feedPublisher *feed.Publisher
	if cfg.FeedKafka.Enabled() {
		feedPublisher = feed.NewPublisher(cfg.FeedKafka, appLogger)
		defer feedPublisher.Close()
		hooks = append(hooks, feedPublisher.CommitHook())
	}

	j := journal.New(cfg.Flush, repo, appLogger, hooks...)
	eng := engine.New(cfg.Engine, j, repo, appLogger)

	// Recovery must complete before the first request is admitted.
	if err := eng.Recover(ctx); err != nil {
		appLogger.Error(err)
		os.Exit(1)
	}

	flushCtx, stopFlusher := context.WithCancel(ctx)
	go j.Run(flushCtx)

	server := api.NewServer(eng, repo, appLogger, cfg.App.AdminAPIKey)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.App.Port),
		Handler: server.Handler(),
	}

	go func() {
		appLogger.Info("exchange listening",
			logger.Field{Key: "app", Value: cfg.App.Name},
			logger.Field{Key: "environment", Value: cfg.App.Environment},
			logger.Field{Key: "port", Value: cfg.App.Port},
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(err)
	}

	// Stop the flusher last so everything enqueued by in-flight requests
	// gets its final drain.
	stopFlusher()
	<-j.Done()

	appLogger.Info("exchange stopped")
}
