package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/envwatch/enviro-server/internal/notification"
	"github.com/envwatch/enviro-server/internal/protocol"
	"github.com/envwatch/enviro-server/internal/queue"
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

	logger.Info("starting notification service")

	notifier := notification.NewEmailNotifier(&cfg.SMTP)

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts, "notification-group")
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		for {
			msg, err := consumer.Consume(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("failed to consume message", zap.Error(err))
				continue
			}

			event, err := protocol.DecodeAlertEvent(msg.Value)
			if err != nil {
				// Malformed messages are committed, not retried forever.
				logger.Warn("failed to decode alert event", zap.Error(err))
				consumer.Commit(ctx, msg)
				continue
			}

			if err := notifier.SendAlertEvent(event); err != nil {
				// Don't commit on error - retry
				logger.Warn("failed to send notification",
					zap.String("alert_id", event.AlertID), zap.Error(err))
				continue
			}

			if err := consumer.Commit(ctx, msg); err != nil {
				logger.Warn("failed to commit offset", zap.Error(err))
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
}
