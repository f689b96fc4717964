// Command sync refreshes the local user cache from the directory. It is
// intended to run on a schedule (cron or a systemd timer).
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/dfedez920912/tbot-project/internal/core/port"
	"github.com/dfedez920912/tbot-project/internal/directory"
	"github.com/dfedez920912/tbot-project/internal/infra/config"
	"github.com/dfedez920912/tbot-project/internal/infra/database"
	kafkainfra "github.com/dfedez920912/tbot-project/internal/infra/kafka"
	"github.com/dfedez920912/tbot-project/internal/infra/logger"
	postgresrepo "github.com/dfedez920912/tbot-project/internal/repository/postgres"
	"github.com/dfedez920912/tbot-project/internal/usecase"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.App.Env)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() {
		_ = zlog.Sync()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, zlog)
	if err != nil {
		zlog.Fatal("failed to init postgres", zap.Error(err))
	}
	defer pool.Close()

	var publisher port.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafkainfra.NewProducer(cfg.Kafka, zlog)
		if err != nil {
			zlog.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			publisher = kafkainfra.NewStubPublisher(zlog)
		} else {
			defer func() {
				_ = producer.Close()
			}()
			publisher = kafkainfra.NewEventPublisher(producer, cfg.App, zlog)
		}
	} else {
		publisher = kafkainfra.NewStubPublisher(zlog)
	}

	svc := usecase.NewSyncService(
		directory.NewClient(cfg.Directory, zlog, nil),
		postgresrepo.NewUserRepository(pool),
		publisher,
		zlog,
		cfg.Sync.MaxRetries,
		cfg.Sync.RetryDelay,
	)

	count, err := svc.Run(ctx)
	if err != nil {
		zlog.Error("user sync failed", zap.Error(err))
		os.Exit(1)
	}

	zlog.Info("user sync completed", zap.Int("users", count))
}
