package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func getCounterVecValue(cv *prometheus.CounterVec, labels ...string) float64 {
	m := &dto.Metric{}
	if err := cv.WithLabelValues(labels...).Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func getGaugeVecValue(gv *prometheus.GaugeVec, labels ...string) float64 {
	m := &dto.Metric{}
	if err := gv.WithLabelValues(labels...).Write(m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

func TestRecordTick(t *testing.T) {
	before := getCounterVecValue(TicksTotal, "degraded")
	missingBefore := getCounterValue(ReadingsMissingTotal)

	RecordTick("degraded", 20*time.Millisecond, 3)

	if got := getCounterVecValue(TicksTotal, "degraded"); got != before+1 {
		t.Fatalf("ticks = %v, want %v", got, before+1)
	}
	if got := getCounterValue(ReadingsMissingTotal); got != missingBefore+3 {
		t.Fatalf("missing = %v, want %v", got, missingBefore+3)
	}
}

func TestSetNodeCounts(t *testing.T) {
	statuses := []string{"online", "infected", "at_risk", "offline"}
	SetNodeCounts(map[string]int{"online": 4, "infected": 1}, statuses)
	if got := getGaugeVecValue(NodesByStatus, "online"); got != 4 {
		t.Fatalf("online = %v", got)
	}
	SetNodeCounts(map[string]int{"online": 5}, statuses)
	if got := getGaugeVecValue(NodesByStatus, "infected"); got != 0 {
		t.Fatalf("infected gauge not reset: %v", got)
	}
}

func TestRecordAlerts(t *testing.T) {
	before := getCounterVecValue(CriticalAlertsTotal, "flood")
	icBefore := getCounterValue(InterClusterAlertsTotal)

	RecordCriticalAlert("flood")
	RecordInterClusterAlerts(2)

	if got := getCounterVecValue(CriticalAlertsTotal, "flood"); got != before+1 {
		t.Fatalf("critical = %v", got)
	}
	if got := getCounterValue(InterClusterAlertsTotal); got != icBefore+2 {
		t.Fatalf("intercluster = %v", got)
	}
}
