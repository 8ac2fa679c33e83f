package monitor

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fleetwatch/internal/metrics"
	"github.com/LeonardoBeccarini/fleetwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/fleetwatch/pkg/dedup"
)

// ExternalTopics are the broker filters carrying other instances' alerts.
var ExternalTopics = []string{messages.TopicCriticalAll, messages.TopicInterClusterAll}

// Enqueuer is satisfied by Loop.
type Enqueuer interface {
	Enqueue(a *messages.CriticalAlert, ic *messages.InterClusterAlert) bool
}

// FeedHandler turns alerts published by other instances into loop inbox
// entries. Our own broadcasts come back on the same topics and are dropped
// by origin.
type FeedHandler struct {
	inbox      Enqueuer
	instanceID func() string
	deduper    *dedup.Deduper
	logger     *zap.Logger
}

func NewFeedHandler(inbox Enqueuer, instanceID func() string, logger *zap.Logger) *FeedHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedHandler{
		inbox:      inbox,
		instanceID: instanceID,
		deduper:    dedup.New(10*time.Minute, 20000),
		logger:     logger,
	}
}

func (h *FeedHandler) Handle(topic string, m mqtt.Message) error {
	return h.HandlePayload(topic, m.Payload())
}

func (h *FeedHandler) HandlePayload(topic string, payload []byte) error {
	kind := messages.TopicKind(topic)
	if kind != "alerts/critical" && kind != "alerts/intercluster" {
		return nil
	}
	if !h.deduper.ShouldProcessPayload(payload) {
		return nil
	}

	var (
		a      *messages.CriticalAlert
		ic     *messages.InterClusterAlert
		origin string
	)
	switch kind {
	case "alerts/critical":
		a = new(messages.CriticalAlert)
		if err := json.Unmarshal(payload, a); err != nil {
			return fmt.Errorf("external critical alert: %w", err)
		}
		origin = a.Origin
	default:
		ic = new(messages.InterClusterAlert)
		if err := json.Unmarshal(payload, ic); err != nil {
			return fmt.Errorf("external inter-cluster alert: %w", err)
		}
		origin = ic.Origin
	}
	if self := h.instanceID(); self != "" && origin == self {
		return nil
	}

	if !h.inbox.Enqueue(a, ic) {
		h.logger.Warn("external inbox full, alert dropped", zap.String("topic", topic))
		return nil
	}
	metrics.RecordExternalAlert(kind)
	return nil
}
