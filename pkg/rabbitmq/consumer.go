package rabbitmq

import (
	"context"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Handler processes one delivery; topic is the concrete topic it arrived on.
type Handler func(topic string, message mqtt.Message) error

// IConsumer subscribes and dispatches to a handler until ctx is done.
type IConsumer interface {
	ConsumeMessage(ctx context.Context)
	SetHandler(handler Handler)
}

// qosFor: QoS1 sui flussi che non possiamo perdere (aggregati, stati, alert).
func qosFor(topic string) byte {
	t := strings.TrimSpace(topic)
	for _, p := range []string{"sensor/aggregated", "status/", "alerts/"} {
		if strings.HasPrefix(t, p) {
			return 1
		}
	}
	return 0
}

// MultiConsumer subscribes to one or more topic filters on the shared client.
type MultiConsumer struct {
	client  mqtt.Client
	topics  []string
	handler Handler
	logger  *zap.Logger
}

func NewConsumer(client mqtt.Client, topic string, handler Handler, logger *zap.Logger) *MultiConsumer {
	return NewMultiConsumer(client, []string{topic}, handler, logger)
}

func NewMultiConsumer(client mqtt.Client, topics []string, handler Handler, logger *zap.Logger) *MultiConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MultiConsumer{client: client, topics: topics, handler: handler, logger: logger}
}

func (m *MultiConsumer) SetHandler(handler Handler) {
	m.handler = handler
}

// dispatch runs the handler for one delivery; errors are logged, never fatal.
func (m *MultiConsumer) dispatch(msg mqtt.Message) {
	if m.handler == nil {
		m.logger.Warn("no handler set", zap.String("topic", msg.Topic()))
		return
	}
	if err := m.handler(msg.Topic(), msg); err != nil {
		m.logger.Warn("handle message", zap.String("topic", msg.Topic()), zap.Error(err))
	}
}

// ConsumeMessage subscribes to every topic and blocks until ctx is cancelled.
func (m *MultiConsumer) ConsumeMessage(ctx context.Context) {
	for _, topic := range m.topics {
		token := m.client.Subscribe(topic, qosFor(topic), func(_ mqtt.Client, msg mqtt.Message) {
			m.dispatch(msg)
		})
		token.Wait()
		if err := token.Error(); err != nil {
			m.logger.Error("subscribe failed", zap.String("topic", topic), zap.Error(err))
			continue
		}
		m.logger.Info("subscribed", zap.String("topic", topic))
	}

	<-ctx.Done()

	if m.client.IsConnected() {
		m.client.Unsubscribe(m.topics...).WaitTimeout(2 * time.Second)
	}
}
