package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/fleetwatch/internal/services/persistence"
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
	logger := newLogger("persistence")
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- MQTT ---
	mqCfg := &rabbitmq.RabbitMQConfig{
		Host:     envStr("RABBITMQ_HOST", "localhost"),
		Port:     envInt("RABBITMQ_PORT", 1883),
		User:     envStr("RABBITMQ_USER", "mqtt_user"),
		Password: envStr("RABBITMQ_PASSWORD", "mqtt_pwd"),
		ClientID: envStr("MQTT_CLIENT_ID", "persistence-service"),
	}
	mqClient, err := rabbitmq.NewRabbitMQConn(ctx, mqCfg, logger)
	if err != nil {
		logger.Fatal("mqtt connect failed", zap.Error(err))
	}
	topic := envStr("MQTT_TOPIC", messages.TopicSensorAggregatedAll)
	consumer := rabbitmq.NewConsumer(mqClient, topic, nil, logger)

	// --- InfluxDB ---
	influxCfg := persistence.InfluxConfig{
		InfluxURL:    envStr("INFLUX_URL", "http://localhost:8086"),
		InfluxToken:  envStr("INFLUX_TOKEN", ""),
		InfluxOrg:    envStr("INFLUX_ORG", "org"),
		InfluxBucket: envStr("INFLUX_BUCKET", "aggregated-data"),
		Measurement:  envStr("MEASUREMENT", "sensor_reading"),
	}
	influxClient := influxdb2.NewClient(influxCfg.InfluxURL, influxCfg.InfluxToken)
	defer influxClient.Close()

	var store persistence.Store
	if s, err := persistence.NewInfluxStore(influxClient, influxCfg); err != nil {
		logger.Warn("influx disabled, cache only", zap.Error(err))
	} else {
		store = s
	}

	cache := persistence.NewCache(envInt("CACHE_BUCKETS", 180))
	svc := persistence.NewService(consumer, cache, store, logger)

	// --- HTTP ---
	router := persistence.NewRouter(svc)
	router.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !mqClient.IsConnectionOpen() {
			http.Error(w, "mqtt not connected", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ready"))
	})
	router.Handle("/metrics", promhttp.Handler())

	httpPort := envStr("PORT", "8080")
	srv := &http.Server{
		Addr:              ":" + httpPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	go svc.Start(ctx)

	<-ctx.Done()
	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shCtx)
	rabbitmq.CloseRabbitMQConn(mqClient)
	logger.Info("shutdown complete")
}
