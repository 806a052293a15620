package main

import (
	"context"
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

	logger.Info("starting evaluator service")

	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}

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

	scheduler := alerting.NewScheduler(redisClient, evaluator.RunTick,
		cfg.Evaluator.TickInterval, cfg.Evaluator.LockTTL, logger)
	if err := scheduler.Start(ctx); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	cancel() // a tick in progress is cancelled; committed writes stand
	scheduler.Stop()
}
