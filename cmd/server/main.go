package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/envwatch/enviro-server/internal/alerting"
	"github.com/envwatch/enviro-server/internal/database"
	"github.com/envwatch/enviro-server/internal/dispatch"
	"github.com/envwatch/enviro-server/internal/queue"
	"github.com/envwatch/enviro-server/internal/readings"
	"github.com/envwatch/enviro-server/internal/server"
	"github.com/envwatch/enviro-server/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting API server")

	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.RunMigrations(cfg.HTTP.MigrationsDir); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database ready")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts)
	defer producer.Close()

	lifecycle := alerting.NewLifecycle(db, logger)
	readingStore := readings.NewStore(db)
	notifier := dispatch.NewKafkaNotifier(producer)
	coordinator := dispatch.NewCoordinator(db, lifecycle, notifier, 100, logger)

	evaluator := alerting.NewEvaluator(db, readingStore, lifecycle, coordinator,
		alerting.EvaluatorOptions{
			StalenessBound:    cfg.Evaluator.StalenessBound,
			Workers:           cfg.Evaluator.Workers,
			StoreTimeout:      cfg.Evaluator.StoreTimeout,
			ThresholdCacheTTL: cfg.Evaluator.ThresholdCacheTTL,
		}, logger)

	// The scheduler here is never started: the server only uses it for the
	// trigger-check endpoint, which contends on the shared redis guard with
	// the evaluator service's scheduled ticks.
	scheduler := alerting.NewScheduler(redisClient, evaluator.RunTick,
		cfg.Evaluator.TickInterval, cfg.Evaluator.LockTTL, logger)

	app := server.NewApp(&cfg.HTTP, logger)
	server.NewAlertController(lifecycle, scheduler, cfg.HTTP.DefaultPageLen, cfg.HTTP.MaxPageLen, logger).RegisterRoutes(app)
	server.NewThresholdController(db, logger).RegisterRoutes(app)
	server.NewHistoryController(db, readingStore, cfg.HTTP.DefaultPageLen, cfg.HTTP.MaxPageLen, logger).RegisterRoutes(app)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
		logger.Info("HTTP server listening", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	if err := app.Shutdown(); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
}
