package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dfedez920912/tbot-project/internal/core/port"
	"github.com/dfedez920912/tbot-project/internal/directory"
	"github.com/dfedez920912/tbot-project/internal/infra/config"
	"github.com/dfedez920912/tbot-project/internal/infra/database"
	kafkainfra "github.com/dfedez920912/tbot-project/internal/infra/kafka"
	"github.com/dfedez920912/tbot-project/internal/infra/logger"
	redisinfra "github.com/dfedez920912/tbot-project/internal/infra/redis"
	"github.com/dfedez920912/tbot-project/internal/infra/security"
	"github.com/dfedez920912/tbot-project/internal/infra/telemetry"
	"github.com/dfedez920912/tbot-project/internal/notify"
	memoryrepo "github.com/dfedez920912/tbot-project/internal/repository/memory"
	postgresrepo "github.com/dfedez920912/tbot-project/internal/repository/postgres"
	redisrepo "github.com/dfedez920912/tbot-project/internal/repository/redis"
	"github.com/dfedez920912/tbot-project/internal/transport/http/routes"
	"github.com/dfedez920912/tbot-project/internal/transport/telegram"
	"github.com/dfedez920912/tbot-project/internal/usecase"
)

// Application ties together the bot dispatcher, the admin HTTP API and their
// backing infrastructure.
type Application struct {
	cfg    *config.AppConfig
	router *gin.Engine
	bot    *telegram.Bot
	logger *zap.Logger
	pool   *pgxpool.Pool
	redis  *redisinfra.Client
	kafka  *kafkainfra.Producer
}

// New wires the full dependency graph from configuration.
func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	metrics, err := telemetry.NewMetrics(telemetry.MetricsOptions{})
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	var redisClient *redisinfra.Client
	var sessions port.SessionStore
	if cfg.Session.Backend == "memory" {
		log.Info("using in-memory session store")
		sessions = memoryrepo.NewSessionStore()
	} else {
		redisClient, err = redisinfra.NewClient(cfg.Redis, log)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("init redis: %w", err)
		}
		sessions = redisrepo.NewSessionStore(redisClient.Client(), cfg.Redis.SessionPrefix)
	}

	var eventPublisher port.EventPublisher
	var kafkaProducer *kafkainfra.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaProducer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			eventPublisher = kafkainfra.NewEventPublisher(kafkaProducer, cfg.App, log)
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	users := postgresrepo.NewUserRepository(pool)
	directoryClient := directory.NewClient(cfg.Directory, log, metrics)
	notifier := notify.NewEmailNotifier(cfg.Email, log)

	engine := usecase.NewEngine(usecase.EngineParams{
		Logger:      log,
		Sessions:    sessions,
		Users:       users,
		Directory:   directoryClient,
		Notifier:    notifier,
		Publisher:   eventPublisher,
		Validator:   security.DefaultPasswordValidator(),
		Metrics:     metrics,
		Catalog:     usecase.LoadCatalog(cfg.App.MessagesPath, log),
		SessionTTL:  cfg.Session.Duration,
		PolicyDays:  cfg.Directory.PolicyDays,
		AdminEmails: cfg.Email.AdminEmails,
	})

	bot, err := telegram.NewBot(cfg.Telegram, engine, log)
	if err != nil {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		pool.Close()
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	engine.SetSender(telegram.NewSender(bot.API()))

	routerDeps := routes.Dependencies{
		Config:    cfg,
		Logger:    log,
		Sessions:  sessions,
		Publisher: eventPublisher,
		Metrics:   metrics,
		Database:  pool,
	}
	if redisClient != nil {
		routerDeps.Cache = redisClient
	}

	return &Application{
		cfg:    cfg,
		router: routes.Register(routerDeps),
		bot:    bot,
		logger: log,
		pool:   pool,
		redis:  redisClient,
		kafka:  kafkaProducer,
	}, nil
}

// Run starts the admin HTTP server and the Telegram dispatcher, then blocks
// until ctx is cancelled or either component fails.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.pool != nil {
			a.pool.Close()
		}
	}()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()
	defer func() {
		if a.kafka != nil {
			_ = a.kafka.Close()
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting password bot",
		zap.String("env", a.cfg.App.Env),
		zap.String("http_address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run http server: %w", err)
		}
	}()

	botErrCh := make(chan error, 1)
	go func() {
		botErrCh <- a.bot.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		// wait for the dispatcher to drain its workers
		<-botErrCh
		return nil
	case err := <-serverErrCh:
		return err
	case err := <-botErrCh:
		return err
	}
}
