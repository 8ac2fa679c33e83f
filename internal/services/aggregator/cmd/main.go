package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/fleetwatch/internal/services/aggregator"
	"github.com/LeonardoBeccarini/fleetwatch/pkg/rabbitmq"
)

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func newLogger(service string) *zap.Logger {
	build := zap.NewProduction
	if envStr("LOG_LEVEL", "") == "debug" {
		build = zap.NewDevelopment
	}
	l, err := build()
	if err != nil {
		l = zap.NewExample()
	}
	return l.With(zap.String("service", service))
}

func main() {
	logger := newLogger("aggregator")
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := &rabbitmq.RabbitMQConfig{
		Host:     envStr("RABBITMQ_HOST", "localhost"),
		Port:     envInt("RABBITMQ_PORT", 1883),
		User:     envStr("RABBITMQ_USER", "guest"),
		Password: envStr("RABBITMQ_PASSWORD", "guest"),
		ClientID: envStr("MQTT_CLIENT_ID", "dataAggregator1"),
	}
	client, err := rabbitmq.NewRabbitMQConn(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("mqtt connect failed", zap.Error(err))
	}

	publisher := rabbitmq.NewPublisher(client, logger)
	// handler nil: lo inietta il servizio in Start
	consumer := rabbitmq.NewConsumer(client, envStr("MQTT_TOPIC", messages.TopicSensorDataAll), nil, logger)

	svc := aggregator.NewDataAggregatorService(consumer, publisher, envDuration("AGGREGATION_INTERVAL", time.Minute), logger)
	logger.Info("data aggregator running")
	svc.Start(ctx)
}
