package event

import (
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const measurementEvent = "system_event"

// EventToPoint normalizza CommonEvent in un *write.Point per InfluxDB.
func EventToPoint(evt CommonEvent) *write.Point {
	tags := map[string]string{
		"event_type":     evt.EventType,
		"source_service": evt.SourceService,
		"severity":       evt.Severity,
	}
	if evt.ClusterID != "" {
		tags["cluster_id"] = evt.ClusterID
	}
	if evt.NodeID != "" {
		tags["node_id"] = evt.NodeID
	}

	fields := make(map[string]interface{}, len(evt.Fields)+1)
	for k, v := range evt.Fields {
		fields[k] = v
	}
	// almeno un field per punto
	if _, ok := fields["count"]; !ok {
		fields["count"] = int64(1)
	}
	return influxdb2.NewPoint(measurementEvent, tags, fields, evt.Timestamp)
}
