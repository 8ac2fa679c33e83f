package event

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/query"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/fleetwatch/internal/model/messages"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func collect(t *testing.T) (*MQTTHandler, *[]CommonEvent) {
	t.Helper()
	var got []CommonEvent
	return NewMQTTHandler(func(e CommonEvent) { got = append(got, e) }, nil), &got
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestHandleStatusTransition(t *testing.T) {
	h, got := collect(t)
	payload := mustJSON(t, messages.StatusTransition{
		NodeID: "n1", ClusterID: "c1",
		OldStatus: entities.StatusOnline, NewStatus: entities.StatusInfected,
		Triggers:  []entities.Trigger{{Code: entities.TriggerTVOCCritical, Severity: entities.SeverityCritical}},
		Timestamp: t0, Origin: "mon-a",
	})
	if err := h.HandlePayload("status/c1/n1", payload); err != nil {
		t.Fatal(err)
	}
	// redelivery
	_ = h.HandlePayload("status/c1/n1", payload)

	if len(*got) != 1 {
		t.Fatalf("events = %d, want 1", len(*got))
	}
	e := (*got)[0]
	if e.EventType != EventStatusChange || e.Severity != "critical" || e.SourceService != "mon-a" {
		t.Fatalf("event = %+v", e)
	}
	if e.Fields["new_status"] != "infected" || e.Fields["triggers"] != int64(1) {
		t.Fatalf("fields = %v", e.Fields)
	}
}

func TestHandleIDsFromTopic(t *testing.T) {
	h, got := collect(t)
	payload := mustJSON(t, messages.CriticalAlert{
		ID: "a1", HazardType: "frost", Active: false, Timestamp: t0,
	})
	if err := h.HandlePayload("alerts/critical/c2/n9", payload); err != nil {
		t.Fatal(err)
	}
	e := (*got)[0]
	if e.ClusterID != "c2" || e.NodeID != "n9" || e.Severity != "info" || e.SourceService != "monitor" {
		t.Fatalf("event = %+v", e)
	}
}

func TestHandleInterClusterUsesDestination(t *testing.T) {
	h, got := collect(t)
	payload := mustJSON(t, messages.InterClusterAlert{
		ID: "ic1", SourceAlertID: "a1", SourceNodeID: "n1", SourceClusterID: "c1",
		DestinationClusterID: "c2", HazardType: "flood", AffectedNodeIDs: []string{"b1", "b2"},
		AffectedCount: 2, Active: true, Timestamp: t0,
	})
	if err := h.HandlePayload("alerts/intercluster/c2", payload); err != nil {
		t.Fatal(err)
	}
	e := (*got)[0]
	if e.EventType != EventInterCluster || e.ClusterID != "c2" || e.Fields["affected_count"] != int64(2) {
		t.Fatalf("event = %+v", e)
	}
}

func TestHandleRejectsAndIgnores(t *testing.T) {
	h, got := collect(t)
	if err := h.HandlePayload("sensor/data/c1/n1", []byte("{}")); err != nil {
		t.Fatalf("unknown topic must be ignored: %v", err)
	}
	err := h.HandlePayload("feed/", mustJSON(t, messages.FeedEntry{Kind: messages.FeedInfected}))
	if !errors.Is(err, errMissingIDs) {
		t.Fatalf("want errMissingIDs, got %v", err)
	}
	if err := h.HandlePayload("status/c1/n1", []byte("not json")); err == nil {
		t.Fatal("malformed payload accepted")
	}
	if len(*got) != 0 {
		t.Fatalf("events = %+v", *got)
	}
}

func TestEventToPoint(t *testing.T) {
	p := EventToPoint(CommonEvent{
		EventType: EventFeed, SourceService: "monitor", ClusterID: "c1", NodeID: "n1",
		Severity: "warning", Timestamp: t0,
	})
	tags := map[string]string{}
	for _, tg := range p.TagList() {
		tags[tg.Key] = tg.Value
	}
	if p.Name() != "system_event" || tags["cluster_id"] != "c1" || tags["node_id"] != "n1" {
		t.Fatalf("point = %s %v", p.Name(), tags)
	}
	if len(p.FieldList()) != 1 || p.FieldList()[0].Key != "count" {
		t.Fatalf("fields = %+v", p.FieldList())
	}
}

type fakeWriteAPI struct {
	points []*write.Point
	errs   chan error
}

func (f *fakeWriteAPI) WritePoint(p *write.Point) { f.points = append(f.points, p) }
func (f *fakeWriteAPI) Errors() <-chan error      { return f.errs }

type conn bool

func (c conn) IsConnectionOpen() bool { return bool(c) }

func TestWriterAndProbes(t *testing.T) {
	api := &fakeWriteAPI{errs: make(chan error)}
	w := NewWriter(api, nil)
	w.Write(CommonEvent{EventType: EventCritical, Timestamp: t0})
	if len(api.points) != 1 || w.Count(EventCritical) != 1 {
		t.Fatalf("points = %d count = %d", len(api.points), w.Count(EventCritical))
	}

	rec := httptest.NewRecorder()
	NewReadyHandler(conn(true), w, 2*time.Second).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ready = %d", rec.Code)
	}

	api.errs <- errors.New("boom")
	close(api.errs)
	deadline := time.Now().Add(time.Second)
	for w.LastErrorAge() > time.Minute && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	rec = httptest.NewRecorder()
	NewReadyHandler(conn(true), w, 2*time.Second).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready after write error = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	NewHealthHandler(conn(true), w).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if !strings.Contains(rec.Body.String(), `"status":"degraded"`) {
		t.Fatalf("health = %s", rec.Body.String())
	}
}

func TestAlertsFluxAndRecord(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/events/alerts/latest?limit=9999&minutes=0&cluster=c2", nil)
	p := parseQuery(req, 1440, 20, 2000)
	if p.Limit != 500 || p.Minutes != 1 || p.ClusterID != "c2" {
		t.Fatalf("params = %+v", p)
	}
	flux := buildAlertsFlux("events", p)
	for _, want := range []string{`r.cluster_id == "c2"`, `"alert.critical"`, "limit(n: 500)", "range(start: -1m)"} {
		if !strings.Contains(flux, want) {
			t.Fatalf("flux misses %q:\n%s", want, flux)
		}
	}

	rec := query.NewFluxRecord(0, map[string]interface{}{
		"_time": t0, "event_type": EventCritical, "cluster_id": "c1", "node_id": "n1",
		"severity": "critical", "hazard": "flood", "message": "water", "active": true,
	})
	a := recordToAlert(rec)
	if a.Hazard != "flood" || !a.Active || a.Time != "2026-05-04T10:00:00Z" {
		t.Fatalf("alert = %+v", a)
	}
}
