package rabbitmq

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// IPublisher publishes payloads to MQTT topics.
type IPublisher interface {
	PublishTo(topic string, qos byte, payload []byte) error
	Close()
}

// Publisher wraps the shared client; the broker routes by topic.
type Publisher struct {
	client  mqtt.Client
	timeout time.Duration
	logger  *zap.Logger
}

func NewPublisher(client mqtt.Client, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{client: client, timeout: 5 * time.Second, logger: logger}
}

// PublishTo publishes payload and waits for the broker (QoS1) or the write (QoS0).
func (p *Publisher) PublishTo(topic string, qos byte, payload []byte) error {
	if p.client == nil {
		return fmt.Errorf("publish %s: nil mqtt client", topic)
	}
	token := p.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish %s: timeout after %s", topic, p.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	p.logger.Debug("published", zap.String("topic", topic), zap.Int("bytes", len(payload)))
	return nil
}

// Close gracefully closes the MQTT connection for the publisher
func (p *Publisher) Close() {
	CloseRabbitMQConn(p.client)
}

// PublishJSON marshals v and publishes it through pub.
func PublishJSON(pub IPublisher, topic string, qos byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", topic, err)
	}
	return pub.PublishTo(topic, qos, b)
}
