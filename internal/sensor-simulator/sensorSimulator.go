// Package sensor_simulator is the reference clock source of the pipeline: it
// publishes one raw multivariate reading per node every interval and lets
// hazards be injected on demand.
package sensor_simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/fleetwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/fleetwatch/pkg/dedup"
	"github.com/LeonardoBeccarini/fleetwatch/pkg/rabbitmq"
)

// InjectCommand arrives on sim/inject/{cluster}/{node}. Zero Seconds keeps
// the hazard until the next command; Hazard "" clears it.
type InjectCommand struct {
	NodeID  string    `json:"node_id"`
	Hazard  Injection `json:"hazard"`
	Seconds int       `json:"seconds,omitempty"`
}

type simNode struct {
	node  entities.Node
	gen   *DataGenerator
	timer *time.Timer // un solo timer di revert per nodo
}

type SensorSimulator struct {
	mu        sync.Mutex
	nodes     map[string]*simNode
	order     []string
	publisher rabbitmq.IPublisher
	consumer  rabbitmq.IConsumer // nil: niente comandi runtime
	deduper   *dedup.Deduper
	logger    *zap.Logger
	now       func() time.Time
}

// NewSensorSimulator builds one generator per node, seeded from seed and the
// node position in the list.
func NewSensorSimulator(consumer rabbitmq.IConsumer, publisher rabbitmq.IPublisher,
	nodes []entities.Node, seed int64, dropRate float64, logger *zap.Logger) *SensorSimulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SensorSimulator{
		nodes:     make(map[string]*simNode, len(nodes)),
		publisher: publisher,
		consumer:  consumer,
		deduper:   dedup.New(2*time.Minute, 10000),
		logger:    logger,
		now:       time.Now,
	}
	for i, n := range nodes {
		s.nodes[n.ID] = &simNode{node: n, gen: NewDataGenerator(seed+int64(i), dropRate)}
		s.order = append(s.order, n.ID)
	}
	return s
}

// SeedFromSoilGrids seeds soil moisture for every node; failures keep the default.
func (s *SensorSimulator) SeedFromSoilGrids(ctx context.Context) {
	for _, id := range s.order {
		sn := s.nodes[id]
		if err := sn.gen.SeedFromSoilGrids(ctx, sn.node); err != nil {
			s.logger.Warn("soilgrids seed failed, using default", zap.String("node_id", id), zap.Error(err))
		}
	}
}

// Start publica una lettura per nodo ad ogni intervallo e ascolta i comandi di injection.
func (s *SensorSimulator) Start(ctx context.Context, interval time.Duration) {
	if s.consumer != nil {
		s.consumer.SetHandler(s.handleMessage)
		go s.consumer.ConsumeMessage(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.publisher.Close()
			return
		case <-ticker.C:
			s.PublishAll()
		}
	}
}

// PublishAll emits one reading per node and returns how many were published.
func (s *SensorSimulator) PublishAll() int {
	now := s.now()
	sent := 0
	for _, id := range s.order {
		sn := s.nodes[id]
		sd := sn.gen.Next(sn.node, now)
		topic := messages.SensorDataTopic(sn.node.ClusterID, sn.node.ID)
		if err := rabbitmq.PublishJSON(s.publisher, topic, 0, sd); err != nil {
			s.logger.Warn("publish error", zap.String("node_id", id), zap.Error(err))
			continue
		}
		sent++
	}
	s.logger.Debug("readings published", zap.Int("count", sent))
	return sent
}

func (s *SensorSimulator) handleMessage(topic string, msg mqtt.Message) error {
	return s.HandleCommand(topic, msg.Payload())
}

// HandleCommand applies one injection command. Redeliveries are ignored.
func (s *SensorSimulator) HandleCommand(topic string, payload []byte) error {
	if !s.deduper.ShouldProcessPayload(payload) {
		return nil
	}
	var cmd InjectCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("invalid inject command on %s: %w", topic, err)
	}
	if _, err := ParseInjection(string(cmd.Hazard)); err != nil {
		return err
	}
	if !s.Inject(cmd.NodeID, cmd.Hazard, time.Duration(cmd.Seconds)*time.Second) {
		s.logger.Debug("inject for unknown node", zap.String("node_id", cmd.NodeID))
	}
	return nil
}

// Inject applies inj to node id, reverting to the previous injection after d
// when d > 0. It reports whether the node is simulated here.
func (s *SensorSimulator) Inject(id string, inj Injection, d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sn, ok := s.nodes[id]
	if !ok {
		return false
	}
	if sn.timer != nil {
		sn.timer.Stop()
		sn.timer = nil
	}
	prev := sn.gen.Injection()
	sn.gen.Inject(inj)
	s.logger.Info("hazard injected", zap.String("node_id", id), zap.String("hazard", string(inj)), zap.Duration("for", d))

	if d > 0 {
		sn.timer = time.AfterFunc(d, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			sn.gen.Inject(prev)
			sn.timer = nil
			s.logger.Info("hazard reverted", zap.String("node_id", id), zap.String("hazard", string(prev)))
		})
	}
	return true
}
