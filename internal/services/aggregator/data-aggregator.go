// Package aggregator turns raw readings into one aggregated reading per node
// and minute bucket: every field is the mean of the samples that carried it.
package aggregator

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/fleetwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/fleetwatch/pkg/rabbitmq"
)

type bucketKey struct {
	node   string
	bucket time.Time
}

// bucketAcc accumulates the samples of one node in one minute.
type bucketAcc struct {
	cluster string
	flag    entities.ReadingFlag
	samples int
	sums    map[entities.Field]float64
	counts  map[entities.Field]int
}

func (a *bucketAcc) add(r entities.SensorReading) {
	a.samples++
	if r.ClusterID != "" {
		a.cluster = r.ClusterID
	}
	if flagRank(r.Flag) > flagRank(a.flag) {
		a.flag = r.Flag
	}
	for f, v := range r.Values {
		a.sums[f] += v
		a.counts[f]++
	}
}

// flagRank orders flags so the worst one reported in a bucket wins.
func flagRank(f entities.ReadingFlag) int {
	switch f {
	case entities.FlagFault:
		return 2
	case entities.FlagMaintenance:
		return 1
	}
	return 0
}

type DataAggregatorService struct {
	consumer            rabbitmq.IConsumer
	publisher           rabbitmq.IPublisher
	logger              *zap.Logger
	aggregationInterval time.Duration
	now                 func() time.Time

	mutex  sync.Mutex
	buffer map[bucketKey]*bucketAcc
}

func NewDataAggregatorService(consumer rabbitmq.IConsumer, publisher rabbitmq.IPublisher, aggregationInterval time.Duration, logger *zap.Logger) *DataAggregatorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if aggregationInterval <= 0 {
		aggregationInterval = time.Minute
	}
	return &DataAggregatorService{
		consumer:            consumer,
		publisher:           publisher,
		logger:              logger,
		aggregationInterval: aggregationInterval,
		now:                 time.Now,
		buffer:              make(map[bucketKey]*bucketAcc),
	}
}

func (d *DataAggregatorService) messageHandler(topic string, message mqtt.Message) error {
	d.Add(topic, message.Payload())
	return nil
}

// Add buffers one raw payload. Malformed payloads are dropped.
func (d *DataAggregatorService) Add(topic string, payload []byte) {
	var sd messages.SensorData
	if err := json.Unmarshal(payload, &sd); err != nil {
		d.logger.Warn("invalid sensor payload", zap.String("topic", topic), zap.Error(err))
		return
	}
	if sd.NodeID == "" {
		d.logger.Warn("sensor payload without node id", zap.String("topic", topic))
		return
	}
	r := sd.ToReading()
	if r.Timestamp.IsZero() {
		r.Timestamp = d.now()
	}
	if len(r.Rejected) > 0 {
		d.logger.Debug("rejected fields", zap.String("node_id", r.NodeID), zap.Any("fields", r.Rejected))
	}

	k := bucketKey{node: r.NodeID, bucket: r.Bucket()}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	acc, ok := d.buffer[k]
	if !ok {
		acc = &bucketAcc{
			flag:   entities.FlagNormal,
			sums:   make(map[entities.Field]float64),
			counts: make(map[entities.Field]int),
		}
		d.buffer[k] = acc
	}
	acc.add(r)
}

func (d *DataAggregatorService) Start(ctx context.Context) {
	d.consumer.SetHandler(d.messageHandler)

	// il consumer blocca: va in goroutine, altrimenti il ticker non parte
	go d.consumer.ConsumeMessage(ctx)

	ticker := time.NewTicker(d.aggregationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// chiude anche i bucket in corso
			d.Flush(time.Time{})
			d.publisher.Close()
			return
		case <-ticker.C:
			d.Flush(d.now())
		}
	}
}

// Flush publishes every bucket that ended before now's minute; a zero now
// flushes everything. It returns the readings it published.
func (d *DataAggregatorService) Flush(now time.Time) []messages.SensorData {
	cutoff := now.UTC().Truncate(time.Minute)

	d.mutex.Lock()
	var ready []bucketKey
	for k := range d.buffer {
		if now.IsZero() || k.bucket.Before(cutoff) {
			ready = append(ready, k)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if !ready[i].bucket.Equal(ready[j].bucket) {
			return ready[i].bucket.Before(ready[j].bucket)
		}
		return ready[i].node < ready[j].node
	})
	out := make([]messages.SensorData, 0, len(ready))
	for _, k := range ready {
		out = append(out, aggregate(k, d.buffer[k]))
		delete(d.buffer, k)
	}
	d.mutex.Unlock()

	for _, sd := range out {
		topic := messages.SensorAggregatedTopic(sd.ClusterID, sd.NodeID)
		if err := rabbitmq.PublishJSON(d.publisher, topic, 1, sd); err != nil {
			d.logger.Warn("publish aggregated reading failed", zap.String("node_id", sd.NodeID), zap.Error(err))
			continue
		}
		d.logger.Debug("aggregated reading published",
			zap.String("node_id", sd.NodeID), zap.Time("bucket", sd.Timestamp), zap.Int("samples", sd.Samples))
	}
	return out
}

func aggregate(k bucketKey, acc *bucketAcc) messages.SensorData {
	r := entities.SensorReading{
		NodeID:    k.node,
		ClusterID: acc.cluster,
		Timestamp: k.bucket,
		Values:    make(map[entities.Field]float64, len(acc.sums)),
		Flag:      acc.flag,
	}
	for f, s := range acc.sums {
		r.Values[f] = s / float64(acc.counts[f])
	}
	return messages.FromReading(r, true, acc.samples)
}

// Pending reports how many node buckets are still open.
func (d *DataAggregatorService) Pending() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return len(d.buffer)
}
