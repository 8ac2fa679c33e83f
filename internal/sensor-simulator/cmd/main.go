package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/fleetwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/fleetwatch/internal/registry"
	sensorSimulator "github.com/LeonardoBeccarini/fleetwatch/internal/sensor-simulator"
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

func main() {
	nodesFile := flag.String("nodes", envStr("NODES_FILE", "nodes.yaml"), "node registry file")
	cluster := flag.String("cluster", "", "simulate only this cluster")
	clientID := flag.String("client-id", "sensorPublisher1", "MQTT client ID")
	interval := flag.Duration("interval", 10*time.Second, "publish interval")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	dropRate := flag.Float64("drop-rate", 0, "probability that a field is missing from a reading")
	soilGrids := flag.Bool("soilgrids", false, "seed soil moisture from SoilGrids")
	inject := flag.String("inject", "", "hazard to inject at start: tvoc|chemical|pest|drought|frost")
	injectNode := flag.String("inject-node", "", "node receiving -inject (default: first node)")
	injectFor := flag.Duration("inject-for", 0, "injection duration, 0 = until stopped")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("service", "sensor-simulator"))

	inj, err := sensorSimulator.ParseInjection(*inject)
	if err != nil {
		logger.Fatal("bad -inject", zap.Error(err))
	}

	all, err := registry.ReadFile(*nodesFile)
	if err != nil {
		logger.Fatal("load nodes", zap.String("file", *nodesFile), zap.Error(err))
	}
	var nodes []entities.Node
	for _, n := range all {
		if *cluster == "" || n.ClusterID == *cluster {
			nodes = append(nodes, n)
		}
	}
	if len(nodes) == 0 {
		logger.Fatal("no nodes to simulate", zap.String("cluster", *cluster))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := &rabbitmq.RabbitMQConfig{
		Host:     envStr("RABBITMQ_HOST", "localhost"),
		Port:     envInt("RABBITMQ_PORT", 1883),
		User:     envStr("RABBITMQ_USER", "guest"),
		Password: envStr("RABBITMQ_PASSWORD", "guest"),
		ClientID: *clientID,
	}
	client, err := rabbitmq.NewRabbitMQConn(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("mqtt connect failed", zap.Error(err))
	}

	publisher := rabbitmq.NewPublisher(client, logger)
	consumer := rabbitmq.NewConsumer(client, messages.TopicSimInjectAll, nil, logger)
	sim := sensorSimulator.NewSensorSimulator(consumer, publisher, nodes, *seed, *dropRate, logger)
	if *soilGrids {
		sim.SeedFromSoilGrids(ctx)
	}
	if inj != sensorSimulator.InjectNone {
		target := *injectNode
		if target == "" {
			target = nodes[0].ID
		}
		if !sim.Inject(target, inj, *injectFor) {
			logger.Fatal("inject target not simulated", zap.String("node_id", target))
		}
	}

	logger.Info("simulating", zap.Int("nodes", len(nodes)), zap.Duration("interval", *interval))
	sim.Start(ctx, *interval)
}
