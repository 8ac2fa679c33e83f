package messages

import (
	"fmt"
	"strings"
)

// MQTT topics. RabbitMQ's MQTT plugin maps them onto the amq.topic exchange.
const (
	TopicSensorDataAll       = "sensor/data/#"
	TopicSensorAggregatedAll = "sensor/aggregated/#"
	TopicStatusAll           = "status/#"
	TopicFeedAll             = "feed/#"
	TopicCriticalAll         = "alerts/critical/#"
	TopicInterClusterAll     = "alerts/intercluster/#"
	TopicAlertsAll           = "alerts/#"
	TopicSimInjectAll        = "sim/inject/#"
)

func SensorDataTopic(cluster, node string) string {
	return fmt.Sprintf("sensor/data/%s/%s", cluster, node)
}

func SensorAggregatedTopic(cluster, node string) string {
	return fmt.Sprintf("sensor/aggregated/%s/%s", cluster, node)
}

func StatusTopic(cluster, node string) string {
	return fmt.Sprintf("status/%s/%s", cluster, node)
}

func FeedTopic(cluster string) string {
	return "feed/" + cluster
}

func CriticalTopic(cluster, node string) string {
	return fmt.Sprintf("alerts/critical/%s/%s", cluster, node)
}

func InterClusterTopic(destCluster string) string {
	return "alerts/intercluster/" + destCluster
}

// SimInjectTopic addresses hazard injection commands to one simulated node.
func SimInjectTopic(cluster, node string) string {
	return fmt.Sprintf("sim/inject/%s/%s", cluster, node)
}

// TopicKind classifies a concrete topic by its leading segments:
// "sensor/data", "sensor/aggregated", "status", "feed", "alerts/critical",
// "alerts/intercluster" or "" when unknown.
func TopicKind(topic string) string {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	if len(parts) == 0 {
		return ""
	}
	switch parts[0] {
	case "status", "feed":
		return parts[0]
	case "sensor", "alerts":
		if len(parts) < 2 {
			return ""
		}
		k := parts[0] + "/" + parts[1]
		switch k {
		case "sensor/data", "sensor/aggregated", "alerts/critical", "alerts/intercluster":
			return k
		}
	}
	return ""
}
