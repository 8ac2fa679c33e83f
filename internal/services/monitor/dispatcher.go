package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fleetwatch/internal/metrics"
	"github.com/LeonardoBeccarini/fleetwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/fleetwatch/pkg/rabbitmq"
	"github.com/LeonardoBeccarini/fleetwatch/pkg/wsfeed"
)

// Sender delivers one report to an outside collaborator.
type Sender interface {
	Name() string
	Send(r TickReport) error
}

// Dispatcher decouples the loop from slow sinks: a bounded queue and one
// worker. A full queue drops the report.
type Dispatcher struct {
	queue   chan TickReport
	senders []Sender
	logger  *zap.Logger
}

func NewDispatcher(size int, logger *zap.Logger, senders ...Sender) *Dispatcher {
	if size <= 0 {
		size = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{queue: make(chan TickReport, size), senders: senders, logger: logger}
}

// Dispatch never blocks.
func (d *Dispatcher) Dispatch(r TickReport) bool {
	select {
	case d.queue <- r:
		return true
	default:
		metrics.RecordDispatchDropped()
		return false
	}
}

// Run delivers queued reports until ctx is done, then drains what is left.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case r := <-d.queue:
			d.deliver(r)
		case <-ctx.Done():
			for {
				select {
				case r := <-d.queue:
					d.deliver(r)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(r TickReport) {
	for _, s := range d.senders {
		if err := s.Send(r); err != nil {
			d.logger.Warn("dispatch failed", zap.String("sink", s.Name()), zap.Error(err))
		}
	}
}

// MQTTSender publishes every record on its topic through a circuit breaker,
// so a dead broker costs one fast failure per record instead of a timeout.
type MQTTSender struct {
	pub     rabbitmq.IPublisher
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewMQTTSender(pub rabbitmq.IPublisher, logger *zap.Logger) *MQTTSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "mqtt-broadcast",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("breaker state change", zap.String("breaker", name),
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return &MQTTSender{pub: pub, breaker: cb, logger: logger}
}

func (m *MQTTSender) Name() string { return "mqtt" }

func (m *MQTTSender) Send(r TickReport) error {
	var errs []error
	publish := func(topic string, qos byte, v any) {
		_, err := m.breaker.Execute(func() (any, error) {
			return nil, rabbitmq.PublishJSON(m.pub, topic, qos, v)
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	for _, t := range r.Transitions {
		publish(messages.StatusTopic(t.ClusterID, t.NodeID), 1, t)
	}
	for _, f := range r.Feed {
		publish(messages.FeedTopic(f.ClusterID), 0, f)
	}
	// deactivations first so observers never see two active alerts in one slot
	for _, a := range r.Critical.Deactivated {
		publish(messages.CriticalTopic(a.SourceClusterID, a.SourceNodeID), 1, a)
	}
	for _, ic := range r.Critical.Retracted {
		publish(messages.InterClusterTopic(ic.DestinationClusterID), 1, ic)
	}
	for _, a := range r.Critical.Raised {
		publish(messages.CriticalTopic(a.SourceClusterID, a.SourceNodeID), 1, a)
	}
	for _, ic := range r.Critical.Emitted {
		publish(messages.InterClusterTopic(ic.DestinationClusterID), 1, ic)
	}
	return errors.Join(errs...)
}

// FeedSender pushes the report to the WebSocket clients.
type FeedSender struct {
	hub *wsfeed.Hub
}

func NewFeedSender(hub *wsfeed.Hub) *FeedSender { return &FeedSender{hub: hub} }

func (f *FeedSender) Name() string { return "websocket" }

func (f *FeedSender) Send(r TickReport) error {
	dropped := 0
	push := func(kind string, v any) {
		if !f.hub.Broadcast(kind, v) {
			dropped++
		}
	}
	for _, t := range r.Transitions {
		push("status", t)
	}
	for _, e := range r.Feed {
		push("feed", e)
	}
	for _, a := range r.Critical.Deactivated {
		push("critical", a)
	}
	for _, a := range r.Critical.Raised {
		push("critical", a)
	}
	for _, ic := range r.Critical.Retracted {
		push("intercluster", ic)
	}
	for _, ic := range r.Critical.Emitted {
		push("intercluster", ic)
	}
	if dropped > 0 {
		return errors.New("websocket hub queue full")
	}
	return nil
}
