package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/fleetwatch/internal/services/event"
	"github.com/LeonardoBeccarini/fleetwatch/pkg/rabbitmq"
)

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
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

// settings are read once at startup; the event store has no hot reload.
type settings struct {
	mqtt          rabbitmq.RabbitMQConfig
	influxURL     string
	influxToken   string
	influxOrg     string
	influxBucket  string
	topics        []string
	batchSize     int
	flushInterval time.Duration
	httpPort      int
	shutdownGrace time.Duration
}

func loadSettings() settings {
	def := strings.Join([]string{messages.TopicStatusAll, messages.TopicFeedAll, messages.TopicAlertsAll}, ",")
	return settings{
		mqtt: rabbitmq.RabbitMQConfig{
			Host:     envStr("RABBITMQ_HOST", "localhost"),
			Port:     envInt("RABBITMQ_PORT", 1883),
			User:     envStr("RABBITMQ_USER", "guest"),
			Password: envStr("RABBITMQ_PASSWORD", "guest"),
			ClientID: envStr("MQTT_CLIENT_ID", "event-store"),
		},
		influxURL:     envStr("INFLUX_URL", "http://localhost:8086"),
		influxToken:   os.Getenv("INFLUX_TOKEN"),
		influxOrg:     envStr("INFLUX_ORG", "org"),
		influxBucket:  envStr("INFLUX_BUCKET", "events"),
		topics:        splitList(envStr("EVENT_SUB_TOPICS", def)),
		batchSize:     envInt("WRITE_BATCH_SIZE", 10),
		flushInterval: time.Duration(envInt("WRITE_FLUSH_INTERVAL_MS", 200)) * time.Millisecond,
		httpPort:      envInt("HTTP_PORT", 8080),
		shutdownGrace: 5 * time.Second,
	}
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func main() {
	logger := newLogger("event")
	defer func() { _ = logger.Sync() }()
	cfg := loadSettings()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// scritture asincrone a batch, gli errori arrivano sul canale del writer
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(cfg.batchSize)).
		SetFlushInterval(uint(cfg.flushInterval.Milliseconds()))
	influx := influxdb2.NewClientWithOptions(cfg.influxURL, cfg.influxToken, opts)
	defer influx.Close()
	writer := event.NewWriter(influx.WriteAPI(cfg.influxOrg, cfg.influxBucket), logger.Named("writer"))

	mqttClient, err := rabbitmq.NewRabbitMQConn(ctx, &cfg.mqtt, logger)
	if err != nil {
		logger.Fatal("mqtt connection error", zap.Error(err))
	}

	router := event.NewRouter(mqttClient, writer, influx.QueryAPI(cfg.influxOrg), cfg.influxBucket)
	router.Handle("/metrics", promhttp.Handler())
	hs := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.httpPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http listening", zap.String("addr", hs.Addr))
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	h := event.NewMQTTHandler(writer.Write, logger.Named("decoder"))
	logger.Info("subscribing", zap.Strings("topics", cfg.topics))
	consumer := rabbitmq.NewMultiConsumer(mqttClient, cfg.topics, h.Handle, logger)
	go consumer.ConsumeMessage(ctx)

	<-ctx.Done()
	logger.Info("shutting down")

	shCtx, shCancel := context.WithTimeout(context.Background(), cfg.shutdownGrace)
	defer shCancel()
	_ = hs.Shutdown(shCtx)
	rabbitmq.CloseRabbitMQConn(mqttClient)

	// consenti il flush dell'ultimo batch
	time.Sleep(cfg.flushInterval + 100*time.Millisecond)
}
