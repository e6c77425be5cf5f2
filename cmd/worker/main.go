// Worker consumes session lifecycle events from Kafka and pushes them to Loki.
// Set KAFKA_BROKERS, SESSION_EVENTS_TOPIC, KAFKA_GROUP_ID and LOKI_URL. The JWT secrets are
// validated by config but unused here.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"taskboard-auth/backend/internal/config"
	"taskboard-auth/backend/internal/logging"
	"taskboard-auth/backend/internal/telemetry/loki"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel, "taskboard-session-worker", cfg.Env)

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		logger.Error("worker: KAFKA_BROKERS is required")
		os.Exit(1)
	}
	client, err := loki.NewClient(cfg.LokiURL, nil)
	if err != nil {
		logger.Error("worker: LOKI_URL is required", "error", err)
		os.Exit(1)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.SessionEventsTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("worker: consuming", "topic", cfg.SessionEventsTopic, "group", cfg.KafkaGroupID, "loki", cfg.LokiURL)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("worker: stopped")
				return
			}
			logger.Warn("worker: kafka read failed", "error", err)
			continue
		}

		pushCtx, pushCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := client.PushEventJSON(pushCtx, msg.Value); err != nil {
			logger.Warn("worker: loki push failed", "offset", msg.Offset, "error", err)
		}
		pushCancel()
	}
}
