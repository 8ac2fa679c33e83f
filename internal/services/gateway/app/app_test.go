package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/fleetwatch/internal/model/messages"
)

func jsonHandler(v any) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
}

func newMonitor() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/nodes", jsonHandler([]NodeView{
		{Node: entities.Node{ID: "n2", ClusterID: "c1", Status: entities.StatusInfected}},
		{Node: entities.Node{ID: "n1", ClusterID: "c1", Status: entities.StatusOnline}},
	}))
	mux.HandleFunc("/alerts/lines", jsonHandler([]messages.AlertLine{
		{SourceNodeID: "n2", DestinationNodeID: "x1", HazardType: "flood"},
	}))
	return httptest.NewServer(mux)
}

func TestDashboardAggregatesUpstreams(t *testing.T) {
	monitor := newMonitor()
	defer monitor.Close()
	persistence := httptest.NewServer(jsonHandler([]messages.SensorData{
		{NodeID: "n1", Values: map[string]any{"tvoc_ugm3": 10.0}},
		{NodeID: "n2", Values: map[string]any{"tvoc_ugm3": 130.0}},
	}))
	defer persistence.Close()

	gw := NewGateway(Config{
		MonitorBaseURL:     monitor.URL,
		PersistenceBaseURL: persistence.URL,
		HTTPTimeout:        time.Second,
	})
	srv := httptest.NewServer(gw.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/dashboard/data")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var data DashboardData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		t.Fatal(err)
	}

	if len(data.Nodes) != 2 || data.Nodes[0].ID != "n1" {
		t.Fatalf("nodes = %+v", data.Nodes)
	}
	if len(data.Lines) != 1 || len(data.Readings) != 2 {
		t.Fatalf("lines = %d readings = %d", len(data.Lines), len(data.Readings))
	}
	if data.Stats.ByStatus["infected"] != 1 || data.Stats.TVOCMean != 70 || data.Stats.TVOCMax != 130 {
		t.Fatalf("stats = %+v", data.Stats)
	}
	if data.Sources["nodes"] != SourceLive || data.Sources["alerts"] != SourceOff {
		t.Fatalf("sources = %v", data.Sources)
	}
}

func TestUpstreamServesLastGoodWhileFailing(t *testing.T) {
	var fail atomic.Bool
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if fail.Load() {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		jsonHandler([]string{"a", "b"})(w, r)
	}))
	defer srv.Close()

	u := NewUpstream("test", srv.URL, "/x", time.Second, newBreaker("test", 2, time.Minute, zap.NewNop()))

	var out []string
	if src, err := u.GetJSON(context.Background(), &out); err != nil || src != SourceLive || len(out) != 2 {
		t.Fatalf("live: src=%s err=%v out=%v", src, err, out)
	}

	fail.Store(true)
	for i := 0; i < 2; i++ {
		out = nil
		src, err := u.GetJSON(context.Background(), &out)
		if err == nil || src != SourceStale || len(out) != 2 {
			t.Fatalf("attempt %d: src=%s err=%v out=%v", i, src, err, out)
		}
	}
	if u.State() != "open" {
		t.Fatalf("breaker = %s", u.State())
	}

	before := calls.Load()
	out = nil
	src, _ := u.GetJSON(context.Background(), &out)
	if src != SourceStale || calls.Load() != before {
		t.Fatalf("open breaker must not call upstream: src=%s calls=%d->%d", src, before, calls.Load())
	}
}
