package monitor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/fleetwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/fleetwatch/internal/services/aggregator"
	"github.com/LeonardoBeccarini/fleetwatch/internal/services/persistence"
)

// relay hands every aggregated payload straight to the persistence service,
// standing in for the broker between the two.
type relay struct {
	svc *persistence.Service
}

func (r *relay) PublishTo(topic string, _ byte, payload []byte) error {
	return r.svc.Handle(context.Background(), topic, payload)
}

func (r *relay) Close() {}

func rawSample(t *testing.T, node string, ts time.Time, tvoc float64) []byte {
	t.Helper()
	b, err := json.Marshal(messages.SensorData{
		ClusterID: "c1",
		NodeID:    node,
		Values:    map[string]any{string(entities.FieldTVOC): tvoc},
		Timestamp: ts,
	})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestAggregatedBucketReachesTick(t *testing.T) {
	g := NewWithT(t)
	svc := persistence.NewService(nil, persistence.NewCache(0), nil, zap.NewNop())
	agg := aggregator.NewDataAggregatorService(nil, &relay{svc: svc}, time.Minute, zap.NewNop())

	minute := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	for _, sec := range []int{5, 25, 45} {
		agg.Add("sensor/data/c1/a", rawSample(t, "a", minute.Add(time.Duration(sec)*time.Second), 150))
	}
	agg.Add("sensor/data/c1/b", rawSample(t, "b", minute.Add(10*time.Second), 20))

	// the minute is still open: nothing reaches persistence yet
	g.Expect(agg.Flush(minute.Add(50 * time.Second))).To(BeEmpty())

	flushed := agg.Flush(minute.Add(61 * time.Second))
	g.Expect(flushed).To(HaveLen(2))

	nodes := []entities.Node{at("a", "c1", 0), at("b", "c1", 50)}
	l := NewLoop(testConfig(), &fakeLister{nodes: nodes}, svc, nil, zap.NewNop())
	tickAt := minute.Add(62 * time.Second)
	l.now = func() time.Time { return tickAt }

	rep, err := l.Tick(context.Background(), tickAt)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(rep.Bucket).To(BeTemporally("==", minute))
	g.Expect(rep.Missing).To(BeEmpty())
	g.Expect(rep.Evaluated).To(Equal(2))

	snap := l.Snapshot()
	a, _ := snap.Node("a")
	b, _ := snap.Node("b")
	g.Expect(a.Status).To(Equal(entities.StatusInfected))
	g.Expect(b.Status).To(Equal(entities.StatusAtRisk))
}

func healthy(id string) entities.SensorReading {
	return entities.SensorReading{NodeID: id, Timestamp: now0, Values: map[entities.Field]float64{
		entities.FieldTVOC:         10,
		entities.FieldHumidity:     55,
		entities.FieldSoilMoisture: 0.3,
	}}
}

// bucketSource only answers for the exact minute a reading was filed under.
type bucketSource struct {
	readings map[time.Time]map[string]entities.SensorReading
}

func (s *bucketSource) put(bucket time.Time, r entities.SensorReading) {
	if s.readings == nil {
		s.readings = make(map[time.Time]map[string]entities.SensorReading)
	}
	if s.readings[bucket] == nil {
		s.readings[bucket] = make(map[string]entities.SensorReading)
	}
	r.Timestamp = bucket
	s.readings[bucket][r.NodeID] = r
}

func (s *bucketSource) GetReading(_ context.Context, id string, at time.Time) (entities.SensorReading, error) {
	r, ok := s.readings[at.UTC().Truncate(time.Minute)][id]
	if !ok {
		return entities.SensorReading{}, persistence.ErrNoReading
	}
	return r, nil
}

func TestTickReadsLastClosedBucket(t *testing.T) {
	g := NewWithT(t)
	prev := time.Date(2026, 5, 4, 9, 59, 0, 0, time.UTC)
	cur := prev.Add(time.Minute)

	src := &bucketSource{}
	src.put(prev, tvoc("a", 125))
	// a partial aggregate for the running minute must never be looked at
	src.put(cur, healthy("a"))

	l := NewLoop(testConfig(), &fakeLister{nodes: []entities.Node{at("a", "c1", 0)}}, src, nil, zap.NewNop())
	l.now = func() time.Time { return now0 }

	rep, err := l.Tick(context.Background(), now0)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(rep.Bucket).To(BeTemporally("==", prev))
	g.Expect(rep.Missing).To(BeEmpty())
	g.Expect(rep.Transitions).To(HaveLen(1))
	g.Expect(rep.Transitions[0].NewStatus).To(Equal(entities.StatusInfected))

	// one minute later the 10:00 bucket is closed and brings a back down
	rep, err = l.Tick(context.Background(), now0.Add(time.Minute))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(rep.Bucket).To(BeTemporally("==", cur))
	g.Expect(rep.Transitions).To(HaveLen(1))
	g.Expect(rep.Transitions[0].NewStatus).To(Equal(entities.StatusOnline))

	// nothing filed yet for 10:01
	rep, err = l.Tick(context.Background(), now0.Add(2*time.Minute))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(rep.Missing).To(Equal([]string{"a"}))
}

func TestTickHonoursReadingLag(t *testing.T) {
	g := NewWithT(t)
	older := time.Date(2026, 5, 4, 9, 58, 0, 0, time.UTC)

	src := &bucketSource{}
	src.put(older, tvoc("a", 125))
	src.put(older.Add(time.Minute), healthy("a"))

	cfg := testConfig()
	cfg.ReadingLag = 2 * time.Minute
	l := NewLoop(cfg, &fakeLister{nodes: []entities.Node{at("a", "c1", 0)}}, src, nil, zap.NewNop())
	l.now = func() time.Time { return now0 }

	rep, err := l.Tick(context.Background(), now0)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(rep.Bucket).To(BeTemporally("==", older))
	g.Expect(l.Snapshot().Nodes[0].Status).To(Equal(entities.StatusInfected))
}
