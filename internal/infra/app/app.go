package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/atbmarket/account-service/internal/core/port"
	"github.com/atbmarket/account-service/internal/infra/config"
	"github.com/atbmarket/account-service/internal/infra/database"
	kafkainfra "github.com/atbmarket/account-service/internal/infra/kafka"
	"github.com/atbmarket/account-service/internal/infra/logger"
	redisinfra "github.com/atbmarket/account-service/internal/infra/redis"
	"github.com/atbmarket/account-service/internal/infra/security"
	"github.com/atbmarket/account-service/internal/infra/storage"
	"github.com/atbmarket/account-service/internal/media"
	postgresrepo "github.com/atbmarket/account-service/internal/repository/postgres"
	redisrepo "github.com/atbmarket/account-service/internal/repository/redis"
	"github.com/atbmarket/account-service/internal/transport/http/middleware"
	"github.com/atbmarket/account-service/internal/transport/http/routes"
	"github.com/atbmarket/account-service/internal/usecase"
)

type Application struct {
	cfg    *config.AppConfig
	engine *gin.Engine
	logger *zap.Logger
	pool   *pgxpool.Pool
	redis  *redisinfra.Client
	kafka  *kafkainfra.Producer
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	argonCfg := security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	}
	if err := security.ConfigureArgon2(argonCfg); err != nil {
		return nil, fmt.Errorf("configure argon2: %w", err)
	}

	tokenIssuer, err := security.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTokenTTL, cfg.JWT.RefreshTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("init token issuer: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	objectStore, err := storage.NewMinioStorage(cfg.Storage, log)
	if err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	urlCache := redisrepo.NewURLCache(redisClient.Client(), cfg.Redis.URLCachePrefix)

	var (
		eventPublisher port.EventPublisher
		kafkaProducer  *kafkainfra.Producer
	)
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			kafkaProducer = producer
			eventPublisher = kafkainfra.NewEventPublisher(producer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	userRepo := postgresrepo.NewUserRepository(pool)
	transcoder := media.NewTranscoder(cfg.Images.JPEGQuality)

	accountService := usecase.NewAccountService(
		userRepo,
		objectStore,
		urlCache,
		eventPublisher,
		tokenIssuer,
		transcoder,
		usecase.AccountServiceConfig{
			ProcessTimeout: cfg.Images.ProcessTimeout,
			PresignTTL:     cfg.Storage.PresignTTL,
			URLCacheTTL:    cfg.Redis.URLCacheTTL,
		},
		log,
	)

	metrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	engine := routes.Register(routes.Dependencies{
		Config:   cfg,
		Logger:   log,
		Metrics:  metrics,
		Accounts: accountService,
		Database: pool,
		Cache:    redisClient,
	})

	return &Application{
		cfg:    cfg,
		engine: engine,
		logger: log,
		pool:   pool,
		redis:  redisClient,
		kafka:  kafkaProducer,
	}, nil
}

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
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting account API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}
