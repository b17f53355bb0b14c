// cmd/historian is an asynchronous historian service that pops command audit records from a
// Redis queue and persists them to PostgreSQL.
package main

import (
	"context"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/sequence/internal/cache"
	"github.com/jason-s-yu/sequence/internal/config"
	"github.com/jason-s-yu/sequence/internal/database"
	"github.com/jason-s-yu/sequence/internal/historian"
)

func main() {
	logger := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatalf("migrate: %v", err)
	}

	svc := historian.New(
		cache.NewAuditQueue(rdb, cfg.AuditQueueName),
		database.NewEvents(pool),
		historian.Options{BatchSize: cfg.HistorianBatchSize, FlushDelay: cfg.HistorianFlush()},
		logger,
	)

	logger.Info("sequence-historian service started.")
	svc.Run(ctx)
	logger.Info("sequence-historian shutting down.")
}
