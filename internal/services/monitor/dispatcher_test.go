package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/fleetwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/fleetwatch/internal/services/critical"
	"github.com/LeonardoBeccarini/fleetwatch/pkg/wsfeed"
)

type published struct {
	topic string
	qos   byte
}

type fakePublisher struct {
	mu    sync.Mutex
	sent  []published
	err   error
	calls int
}

func (f *fakePublisher) PublishTo(topic string, qos byte, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{topic, qos})
	return nil
}

func (f *fakePublisher) Close() {}

type countingSender struct {
	mu sync.Mutex
	n  int
}

func (c *countingSender) Name() string { return "count" }

func (c *countingSender) Send(TickReport) error {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return nil
}

func (c *countingSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	s := &countingSender{}
	d := NewDispatcher(1, nil, s)
	if !d.Dispatch(TickReport{}) {
		t.Fatal("first report must be queued")
	}
	if d.Dispatch(TickReport{}) {
		t.Fatal("second report must be dropped")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx) // drains before returning
	if s.count() != 1 {
		t.Fatalf("delivered %d, want 1", s.count())
	}
}

func sampleReport() TickReport {
	return TickReport{
		Transitions: []messages.StatusTransition{{NodeID: "a", ClusterID: "c1", NewStatus: entities.StatusInfected}},
		Feed:        []messages.FeedEntry{{ClusterID: "c1", Kind: messages.FeedInfected}},
		Critical: critical.Outcome{
			Raised:      []messages.CriticalAlert{{ID: "n2", SourceNodeID: "a", SourceClusterID: "c1", Active: true}},
			Deactivated: []messages.CriticalAlert{{ID: "n1", SourceNodeID: "a", SourceClusterID: "c1"}},
			Emitted:     []messages.InterClusterAlert{{ID: "i2", DestinationClusterID: "c2", Active: true}},
			Retracted:   []messages.InterClusterAlert{{ID: "i1", DestinationClusterID: "c2"}},
		},
	}
}

func TestMQTTSenderOrder(t *testing.T) {
	pub := &fakePublisher{}
	if err := NewMQTTSender(pub, nil).Send(sampleReport()); err != nil {
		t.Fatal(err)
	}
	want := []published{
		{"status/c1/a", 1},
		{"feed/c1", 0},
		{"alerts/critical/c1/a", 1},
		{"alerts/intercluster/c2", 1},
		{"alerts/critical/c1/a", 1},
		{"alerts/intercluster/c2", 1},
	}
	if len(pub.sent) != len(want) {
		t.Fatalf("published %v", pub.sent)
	}
	for i := range want {
		if pub.sent[i] != want[i] {
			t.Fatalf("record %d: got %v want %v", i, pub.sent[i], want[i])
		}
	}
}

func TestMQTTSenderBreakerOpens(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker gone")}
	err := NewMQTTSender(pub, nil).Send(sampleReport())
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("breaker should be open after 3 failures: %v", err)
	}
	if pub.calls != 3 {
		t.Fatalf("publisher called %d times, want 3", pub.calls)
	}
}

func TestFeedSender(t *testing.T) {
	hub := wsfeed.NewHub(nil)
	if err := NewFeedSender(hub).Send(sampleReport()); err != nil {
		t.Fatal(err)
	}
}

type fakeTicker struct {
	mu    sync.Mutex
	ticks int
}

func (f *fakeTicker) RequestTick(context.Context, time.Time) (TickReport, error) {
	f.mu.Lock()
	f.ticks++
	f.mu.Unlock()
	return TickReport{}, nil
}

func TestSchedulerReschedule(t *testing.T) {
	ft := &fakeTicker{}
	s := NewScheduler(ft, nil)

	if err := s.Reschedule("every tuesday"); err == nil || !strings.Contains(err.Error(), "every tuesday") {
		t.Fatalf("invalid schedule accepted: %v", err)
	}
	if err := s.Reschedule("@every 1h"); err != nil {
		t.Fatal(err)
	}
	first := s.entry
	if err := s.Reschedule("@every 1h"); err != nil || s.entry != first {
		t.Fatalf("unchanged schedule must be a no-op (err=%v)", err)
	}
	if err := s.Reschedule("*/5 * * * *"); err != nil {
		t.Fatal(err)
	}
	if n := len(s.cron.Entries()); n != 1 {
		t.Fatalf("%d cron entries, want 1", n)
	}
	if err := s.Reschedule("bogus"); err == nil || s.schedule != "*/5 * * * *" {
		t.Fatalf("failed reschedule must keep the old schedule, got %q", s.schedule)
	}

	s.tick()
	if ft.ticks != 1 {
		t.Fatalf("ticks = %d", ft.ticks)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.tick()
	if ft.ticks != 1 {
		t.Fatal("tick after shutdown must be skipped")
	}
}

type fixedTick struct{ at time.Time }

func (f fixedTick) LastTick() time.Time { return f.at }

func TestHealthReporter(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	check := func(h *HealthReporter) grpc_health_v1.HealthCheckResponse_ServingStatus {
		t.Helper()
		resp, err := h.Server().Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
		if err != nil {
			t.Fatal(err)
		}
		return resp.GetStatus()
	}

	h := NewHealthReporter(fixedTick{}, time.Minute, nil)
	if st := check(h); st != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("before first tick: %v", st)
	}

	h = NewHealthReporter(fixedTick{at: now.Add(-30 * time.Second)}, time.Minute, nil)
	h.now = func() time.Time { return now }
	if st := h.Update(); st != grpc_health_v1.HealthCheckResponse_SERVING || check(h) != st {
		t.Fatalf("fresh tick: %v", st)
	}

	h.now = func() time.Time { return now.Add(5 * time.Minute) }
	if st := h.Update(); st != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("stale tick: %v", st)
	}
}
