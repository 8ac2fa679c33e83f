package messages

import "testing"

func TestTopicKind(t *testing.T) {
	cases := map[string]string{
		SensorDataTopic("c1", "n1"):       "sensor/data",
		SensorAggregatedTopic("c1", "n1"): "sensor/aggregated",
		StatusTopic("c1", "n1"):           "status",
		FeedTopic("c1"):                   "feed",
		CriticalTopic("c1", "n1"):         "alerts/critical",
		InterClusterTopic("c2"):           "alerts/intercluster",
		"alerts":                          "",
		"event/irrigationResult":          "",
	}
	for topic, want := range cases {
		if got := TopicKind(topic); got != want {
			t.Fatalf("TopicKind(%q) = %q, want %q", topic, got, want)
		}
	}
}
