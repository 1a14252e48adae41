package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"facepresence/internal/config"
	"facepresence/internal/notify"
	"facepresence/internal/queue"
	"facepresence/internal/store"
)

// Notifier consumes recorded-attendance events and forwards them to the
// notification webhook that mails users their outcome.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "facepresence:records")
	}

	client := notify.New(cfg.NotifyURL, cfg.NotifySkip)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	logger.Info("notifier started, waiting for events")
	for msg := range messages {
		if msg.Type != queue.TypeRecorded {
			continue
		}

		var evt queue.RecordedEvent
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			logger.Warn("malformed event", zap.Error(err))
			continue
		}

		if err := client.Notify(ctx, evt); err != nil {
			// Best-effort: the record is already persisted, a missed mail
			// is not worth retry machinery here.
			logger.Warn("notification failed", zap.String("record_id", evt.RecordID), zap.Error(err))
			continue
		}
		logger.Info("notification sent",
			zap.String("record_id", evt.RecordID),
			zap.String("roll", evt.Roll),
			zap.String("status", evt.Status),
		)
	}

	logger.Info("notifier stopped")
}
