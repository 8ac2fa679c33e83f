package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/LeonardoBeccarini/fleetwatch/internal/config"
	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/fleetwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/fleetwatch/internal/registry"
	"github.com/LeonardoBeccarini/fleetwatch/internal/services/monitor"
	"github.com/LeonardoBeccarini/fleetwatch/internal/services/persistence"
	"github.com/LeonardoBeccarini/fleetwatch/pkg/rabbitmq"
	"github.com/LeonardoBeccarini/fleetwatch/pkg/wsfeed"
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
	logger := newLogger("monitor")
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- configurazione (hot reload) ---
	watcher, err := config.NewWatcher(envStr("CONFIG_FILE", ""), logger.Named("config"))
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	cfg := watcher.Current()
	if cfg.InstanceID == "" {
		host, _ := os.Hostname()
		cfg.InstanceID = cfg.ClusterID + "@" + host
	}
	instanceID := cfg.InstanceID

	reg, err := registry.Load(envStr("NODES_FILE", "/app/config/nodes.json"),
		envDuration("NODE_LIVENESS_TTL", 3*time.Minute), logger.Named("registry"))
	if err != nil {
		logger.Fatal("load node registry", zap.Error(err))
	}

	// --- MQTT ---
	mqCfg := &rabbitmq.RabbitMQConfig{
		Host:     envStr("RABBITMQ_HOST", "localhost"),
		Port:     envInt("RABBITMQ_PORT", 1883),
		User:     envStr("RABBITMQ_USER", "mqtt_user"),
		Password: envStr("RABBITMQ_PASSWORD", "mqtt_pwd"),
		ClientID: envStr("MQTT_CLIENT_ID", "monitor-"+cfg.ClusterID),
	}
	mqClient, err := rabbitmq.NewRabbitMQConn(ctx, mqCfg, logger)
	if err != nil {
		logger.Fatal("mqtt connect failed", zap.Error(err))
	}
	publisher := rabbitmq.NewPublisher(mqClient, logger)

	// --- letture aggregate, in processo ---
	var store persistence.Store
	if url := envStr("INFLUX_URL", ""); url != "" {
		influxClient := influxdb2.NewClient(url, envStr("INFLUX_TOKEN", ""))
		defer influxClient.Close()
		s, err := persistence.NewInfluxStore(influxClient, persistence.InfluxConfig{
			InfluxURL:    url,
			InfluxToken:  envStr("INFLUX_TOKEN", ""),
			InfluxOrg:    envStr("INFLUX_ORG", "org"),
			InfluxBucket: envStr("INFLUX_BUCKET", "aggregated-data"),
			Measurement:  envStr("MEASUREMENT", "sensor_reading"),
		})
		if err != nil {
			logger.Warn("influx disabled, cache only", zap.Error(err))
		} else {
			store = s
		}
	}
	readingConsumer := rabbitmq.NewConsumer(mqClient, messages.TopicSensorAggregatedAll, nil, logger)
	readings := persistence.NewService(readingConsumer, persistence.NewCache(envInt("CACHE_BUCKETS", 180)), store, logger.Named("readings"))
	readings.OnReading(func(r entities.SensorReading) { reg.MarkSeen(r.NodeID, r.Timestamp) })

	// --- loop e dispatcher ---
	hub := wsfeed.NewHub(logger.Named("ws"))
	mqttSender := monitor.NewMQTTSender(publisher, logger.Named("broadcast"))
	dispatcher := monitor.NewDispatcher(envInt("DISPATCH_QUEUE", 64), logger.Named("dispatch"),
		mqttSender, monitor.NewFeedSender(hub))
	loop := monitor.NewLoop(cfg, reg, readings, dispatcher, logger.Named("loop"))

	feed := monitor.NewFeedHandler(loop, func() string { return instanceID }, logger.Named("external"))
	externalConsumer := rabbitmq.NewMultiConsumer(mqClient, monitor.ExternalTopics, feed.Handle, logger)

	scheduler := monitor.NewScheduler(loop, logger.Named("scheduler"))
	watcher.OnChange(func(next config.Config) {
		if next.InstanceID == "" {
			next.InstanceID = instanceID
		}
		if err := loop.ApplyConfig(ctx, next); err != nil {
			logger.Warn("apply config", zap.Error(err))
			return
		}
		if err := scheduler.Reschedule(next.TickSchedule); err != nil {
			logger.Warn("reschedule", zap.Error(err))
		}
	})
	watcher.Watch()

	go hub.Run(ctx)
	go dispatcher.Run(ctx)
	go loop.Run(ctx)
	go readings.Start(ctx)
	go externalConsumer.ConsumeMessage(ctx)
	if err := scheduler.Start(ctx, cfg.TickSchedule); err != nil {
		logger.Fatal("start scheduler", zap.Error(err))
	}

	// --- gRPC health ---
	maxAge := envDuration("READY_MAX_TICK_AGE", 5*time.Minute)
	reporter := monitor.NewHealthReporter(loop, maxAge, logger.Named("grpc"))
	grpcServer := grpc.NewServer()
	reporter.Register(grpcServer)
	lis, err := net.Listen("tcp", ":"+envStr("GRPC_PORT", "50051"))
	if err != nil {
		logger.Fatal("grpc listen", zap.Error(err))
	}
	go reporter.Run(ctx, 10*time.Second)
	go func() {
		logger.Info("grpc listening", zap.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc serve", zap.Error(err))
		}
	}()

	// --- HTTP ---
	api := monitor.NewAPI(loop, hub, watcher.Current, maxAge)
	srv := &http.Server{
		Addr:              ":" + envStr("PORT", "8080"),
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr), zap.String("instance_id", instanceID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shCtx)
	grpcServer.GracefulStop()
	publisher.Close()
	rabbitmq.CloseRabbitMQConn(mqClient)
	logger.Info("shutdown complete")
}
