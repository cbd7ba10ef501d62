// Worker consumes telemetry events from Kafka and pushes them to Loki.
// Set KAFKA_BROKERS, TELEMETRY_KAFKA_TOPIC, KAFKA_GROUP_ID, and LOKI_URL.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"growth-tracker/backend/internal/config"
	"growth-tracker/backend/internal/logger"
	"growth-tracker/backend/internal/telemetry/loki"
	"growth-tracker/backend/internal/telemetry/producer"
)

const pushTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	brokers := cfg.TelemetryKafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("worker: KAFKA_BROKERS is required")
	}
	if cfg.LokiURL == "" {
		log.Fatal("worker: LOKI_URL is required")
	}

	reader := producer.NewKafkaConsumer(producer.ConsumerConfig{
		Brokers: brokers,
		Topic:   cfg.TelemetryKafkaTopic,
		GroupID: cfg.KafkaGroupID,
	})
	defer reader.Close()
	lokiClient := loki.NewClient(cfg.LokiURL, cfg.ServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker: consuming",
		zap.String("topic", cfg.TelemetryKafkaTopic),
		zap.String("group", cfg.KafkaGroupID),
		zap.String("loki", cfg.LokiURL),
	)
	producer.Consume(ctx, reader,
		func(ctx context.Context, value []byte) error {
			pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
			defer cancel()
			return lokiClient.PushEventJSON(pushCtx, value)
		},
		func(err error) { log.Warn("worker: event not shipped", zap.Error(err)) },
	)
	log.Info("worker: stopped")
}
