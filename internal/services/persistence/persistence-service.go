// Package persistence ingests aggregated readings, keeps a per-node cache of
// recent minute buckets and writes every reading to InfluxDB. The cache,
// with InfluxDB as fallback, answers getReading(node, bucket).
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fleetwatch/internal/metrics"
	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/fleetwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/fleetwatch/pkg/dedup"
	"github.com/LeonardoBeccarini/fleetwatch/pkg/rabbitmq"
)

var ErrNoReading = errors.New("no reading for bucket")

type Service struct {
	consumer rabbitmq.IConsumer
	cache    *Cache
	store    Store // nil: cache only
	deduper  *dedup.Deduper
	logger   *zap.Logger

	writeTimeout time.Duration
	onReading    []func(entities.SensorReading)
}

func NewService(consumer rabbitmq.IConsumer, cache *Cache, store Store, logger *zap.Logger) *Service {
	if cache == nil {
		cache = NewCache(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		consumer:     consumer,
		cache:        cache,
		store:        store,
		deduper:      dedup.New(5*time.Minute, 20000),
		logger:       logger,
		writeTimeout: 5 * time.Second,
	}
}

// OnReading registers fn to run for every accepted reading.
func (s *Service) OnReading(fn func(entities.SensorReading)) {
	s.onReading = append(s.onReading, fn)
}

func (s *Service) Cache() *Cache { return s.cache }

// Start consumes until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.consumer.SetHandler(func(topic string, msg mqtt.Message) error {
		return s.Handle(ctx, topic, msg.Payload())
	})
	s.consumer.ConsumeMessage(ctx)
}

// Handle decodes one aggregated reading. Malformed payloads are logged and
// dropped so the stream keeps flowing.
func (s *Service) Handle(ctx context.Context, topic string, payload []byte) error {
	if !s.deduper.ShouldProcessPayload(payload) {
		return nil
	}
	var sd messages.SensorData
	if err := json.Unmarshal(payload, &sd); err != nil {
		s.logger.Warn("invalid reading payload", zap.String("topic", topic), zap.Error(err))
		return nil
	}
	if sd.NodeID == "" {
		s.logger.Warn("reading without node id", zap.String("topic", topic))
		return nil
	}
	r := sd.ToReading()
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	if len(r.Rejected) > 0 {
		s.logger.Debug("rejected fields", zap.String("node_id", r.NodeID), zap.Any("fields", r.Rejected))
	}
	s.Ingest(ctx, r)
	return nil
}

// Ingest stores r in the cache and, when configured, in InfluxDB.
func (s *Service) Ingest(ctx context.Context, r entities.SensorReading) {
	s.cache.Put(r)
	metrics.RecordReadingIngested()
	for _, fn := range s.onReading {
		fn(r)
	}
	if s.store == nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	if err := s.store.Write(wctx, r); err != nil {
		s.logger.Warn("influx write failed", zap.String("node_id", r.NodeID), zap.Error(err))
	}
}

// GetReading returns the reading of node for the minute bucket of at.
func (s *Service) GetReading(ctx context.Context, node string, at time.Time) (entities.SensorReading, error) {
	if r, ok := s.cache.Get(node, at); ok {
		return r, nil
	}
	if s.store != nil {
		r, ok, err := s.store.ReadBucket(ctx, node, at)
		if err != nil {
			return entities.SensorReading{}, fmt.Errorf("reading %s@%s: %w", node, at.Format(time.RFC3339), err)
		}
		if ok {
			s.cache.Put(r)
			return r, nil
		}
	}
	return entities.SensorReading{}, fmt.Errorf("reading %s@%s: %w", node, at.UTC().Truncate(time.Minute).Format(time.RFC3339), ErrNoReading)
}

// Latest prefers InfluxDB and falls back to the cache; it reports which
// source answered.
func (s *Service) Latest(ctx context.Context, source string, minutes int) ([]entities.SensorReading, string) {
	if s.store != nil && (source == "influx" || source == "auto") {
		list, err := s.store.ReadLatest(ctx, minutes)
		if err == nil && len(list) > 0 {
			return list, "influx"
		}
		if err != nil {
			s.logger.Debug("influx latest failed, using cache", zap.Error(err))
		}
	}
	return s.cache.Latest(), "cache"
}
