package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
	msg "github.com/LeonardoBeccarini/fleetwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/fleetwatch/pkg/dedup"
)

const (
	EventStatusChange = "node.status_change"
	EventFeed         = "feed.entry"
	EventCritical     = "alert.critical"
	EventInterCluster = "alert.intercluster"
)

var errMissingIDs = errors.New("missing cluster/node id")

type CommonEvent struct {
	EventType     string // node.status_change | feed.entry | alert.critical | alert.intercluster
	SourceService string // origin instance, "monitor" when unknown
	ClusterID     string
	NodeID        string
	Severity      string // info|warning|severe|critical
	Fields        map[string]interface{}
	Timestamp     time.Time
}

// MQTTHandler trasforma messaggi MQTT in CommonEvent e li passa al sink (Influx).
type MQTTHandler struct {
	sink    func(CommonEvent)
	deduper *dedup.Deduper
	logger  *zap.Logger
}

func NewMQTTHandler(sink func(CommonEvent), logger *zap.Logger) *MQTTHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTHandler{sink: sink, deduper: dedup.New(10*time.Minute, 20000), logger: logger}
}

func (h *MQTTHandler) Handle(topic string, m mqtt.Message) error {
	return h.HandlePayload(topic, m.Payload())
}

// HandlePayload decodes by topic family; unknown topics are ignored and QoS1
// redeliveries dropped.
func (h *MQTTHandler) HandlePayload(topic string, payload []byte) error {
	var decode func(string, []byte) (CommonEvent, error)
	switch msg.TopicKind(topic) {
	case "status":
		decode = decodeTransition
	case "feed":
		decode = decodeFeed
	case "alerts/critical":
		decode = decodeCritical
	case "alerts/intercluster":
		decode = decodeInterCluster
	default:
		return nil
	}
	if !h.deduper.ShouldProcessPayload(payload) {
		return nil
	}
	evt, err := decode(topic, payload)
	if err != nil {
		h.logger.Warn("event decode failed", zap.String("topic", topic), zap.Error(err))
		return err
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if h.sink != nil {
		h.sink(evt)
	}
	return nil
}

func decodeTransition(topic string, payload []byte) (CommonEvent, error) {
	var t msg.StatusTransition
	if err := json.Unmarshal(payload, &t); err != nil {
		return CommonEvent{}, fmt.Errorf("status: %w", err)
	}
	clusterID, nodeID := pickIDs(topic, t.ClusterID, t.NodeID, "status/")
	if clusterID == "" || nodeID == "" {
		return CommonEvent{}, fmt.Errorf("status: %w", errMissingIDs)
	}
	sev := entities.SeverityInfo
	switch t.NewStatus {
	case entities.StatusInfected:
		sev = entities.SeveritySevere
		for _, tr := range t.Triggers {
			if tr.Severity == entities.SeverityCritical {
				sev = entities.SeverityCritical
			}
		}
	case entities.StatusAtRisk:
		sev = entities.SeverityWarning
	}
	return CommonEvent{
		EventType:     EventStatusChange,
		SourceService: sourceOf(t.Origin),
		ClusterID:     clusterID,
		NodeID:        nodeID,
		Severity:      string(sev),
		Fields: map[string]interface{}{
			"old_status": string(t.OldStatus),
			"new_status": string(t.NewStatus),
			"triggers":   int64(len(t.Triggers)),
		},
		Timestamp: t.Timestamp,
	}, nil
}

func decodeFeed(topic string, payload []byte) (CommonEvent, error) {
	var f msg.FeedEntry
	if err := json.Unmarshal(payload, &f); err != nil {
		return CommonEvent{}, fmt.Errorf("feed: %w", err)
	}
	clusterID := f.ClusterID
	if clusterID == "" {
		clusterID = strings.TrimPrefix(topic, "feed/")
	}
	if clusterID == "" || f.NodeID == "" {
		return CommonEvent{}, fmt.Errorf("feed: %w", errMissingIDs)
	}
	fields := map[string]interface{}{
		"kind":    string(f.Kind),
		"message": f.Message,
		"id":      f.ID,
	}
	if f.RelatedID != "" {
		fields["related_id"] = f.RelatedID
	}
	return CommonEvent{
		EventType:     EventFeed,
		SourceService: "monitor",
		ClusterID:     clusterID,
		NodeID:        f.NodeID,
		Severity:      string(f.Severity),
		Fields:        fields,
		Timestamp:     f.Timestamp,
	}, nil
}

func decodeCritical(topic string, payload []byte) (CommonEvent, error) {
	var a msg.CriticalAlert
	if err := json.Unmarshal(payload, &a); err != nil {
		return CommonEvent{}, fmt.Errorf("critical: %w", err)
	}
	clusterID, nodeID := pickIDs(topic, a.SourceClusterID, a.SourceNodeID, "alerts/critical/")
	if clusterID == "" || nodeID == "" {
		return CommonEvent{}, fmt.Errorf("critical: %w", errMissingIDs)
	}
	sev := entities.SeverityCritical
	ts := a.Timestamp
	if !a.Active {
		sev = entities.SeverityInfo
		if a.DeactivatedAt != nil {
			ts = *a.DeactivatedAt
		}
	}
	return CommonEvent{
		EventType:     EventCritical,
		SourceService: sourceOf(a.Origin),
		ClusterID:     clusterID,
		NodeID:        nodeID,
		Severity:      string(sev),
		Fields: map[string]interface{}{
			"alert_id":  a.ID,
			"hazard":    string(a.HazardType),
			"message":   a.Message,
			"active":    a.Active,
			"manual":    a.Manual,
			"latitude":  a.Latitude,
			"longitude": a.Longitude,
		},
		Timestamp: ts,
	}, nil
}

// decodeInterCluster files the event under the destination cluster, the
// tenant that has to react.
func decodeInterCluster(topic string, payload []byte) (CommonEvent, error) {
	var a msg.InterClusterAlert
	if err := json.Unmarshal(payload, &a); err != nil {
		return CommonEvent{}, fmt.Errorf("intercluster: %w", err)
	}
	dest := a.DestinationClusterID
	if dest == "" {
		dest = strings.TrimPrefix(topic, "alerts/intercluster/")
	}
	if dest == "" || a.SourceNodeID == "" {
		return CommonEvent{}, fmt.Errorf("intercluster: %w", errMissingIDs)
	}
	sev := entities.SeverityWarning
	if !a.Active {
		sev = entities.SeverityInfo
	}
	return CommonEvent{
		EventType:     EventInterCluster,
		SourceService: sourceOf(a.Origin),
		ClusterID:     dest,
		NodeID:        a.SourceNodeID,
		Severity:      string(sev),
		Fields: map[string]interface{}{
			"alert_id":          a.ID,
			"source_alert_id":   a.SourceAlertID,
			"source_cluster_id": a.SourceClusterID,
			"hazard":            string(a.HazardType),
			"message":           a.Message,
			"affected_count":    int64(a.AffectedCount),
			"active":            a.Active,
		},
		Timestamp: a.Timestamp,
	}, nil
}

func sourceOf(origin string) string {
	if strings.TrimSpace(origin) == "" {
		return "monitor"
	}
	return origin
}

// pickIDs usa il payload, oppure il topic "prefix/{cluster}/{node}".
func pickIDs(topic, clusterID, nodeID, prefix string) (string, string) {
	if strings.TrimSpace(clusterID) != "" && strings.TrimSpace(nodeID) != "" {
		return clusterID, nodeID
	}
	parts := strings.Split(strings.TrimPrefix(topic, prefix), "/")
	if len(parts) >= 2 {
		return parts[0], parts[1]
	}
	return clusterID, nodeID
}
