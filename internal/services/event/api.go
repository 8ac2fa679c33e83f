package event

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/query"
)

// AlertEvent is the payload served to the gateway.
type AlertEvent struct {
	Type      string `json:"type"`
	ClusterID string `json:"cluster_id,omitempty"`
	NodeID    string `json:"node_id,omitempty"`
	Severity  string `json:"severity,omitempty"`
	Hazard    string `json:"hazard,omitempty"`
	Message   string `json:"message,omitempty"`
	Active    bool   `json:"active"`
	Time      string `json:"time"` // RFC3339
}

type queryParams struct {
	Minutes   int
	Limit     int
	TimeoutMS int
	ClusterID string
}

func parseQuery(r *http.Request, defMin, defLim, defTOms int) queryParams {
	q := r.URL.Query()
	get := func(k string, def, min, max int) int {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				if n < min {
					return min
				}
				if max > 0 && n > max {
					return max
				}
				return n
			}
		}
		return def
	}
	return queryParams{
		Minutes:   get("minutes", defMin, 1, 7*24*60),
		Limit:     get("limit", defLim, 1, 500),
		TimeoutMS: get("timeout_ms", defTOms, 200, 5000),
		ClusterID: strings.TrimSpace(q.Get("cluster")),
	}
}

func buildAlertsFlux(bucket string, p queryParams) string {
	var cluster string
	if p.ClusterID != "" {
		cluster = fmt.Sprintf("\n  |> filter(fn: (r) => r.cluster_id == %q)", p.ClusterID)
	}
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%dm)
  |> filter(fn: (r) => r._measurement == %q and (r.event_type == %q or r.event_type == %q))%s
  |> pivot(rowKey: ["_time", "event_type", "cluster_id", "node_id", "severity"], columnKey: ["_field"], valueColumn: "_value")
  |> group()
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: %d)
`, bucket, p.Minutes, measurementEvent, EventCritical, EventInterCluster, cluster, p.Limit)
}

func recordToAlert(rec *query.FluxRecord) AlertEvent {
	str := func(k string) string {
		s, _ := rec.ValueByKey(k).(string)
		return s
	}
	active, _ := rec.ValueByKey("active").(bool)
	return AlertEvent{
		Type:      str("event_type"),
		ClusterID: str("cluster_id"),
		NodeID:    str("node_id"),
		Severity:  str("severity"),
		Hazard:    str("hazard"),
		Message:   str("message"),
		Active:    active,
		Time:      rec.Time().UTC().Format(time.RFC3339),
	}
}

// NewAlertsLatestHandler serves
// GET /events/alerts/latest?limit=20[&minutes=1440][&cluster=c1]
func NewAlertsLatestHandler(q api.QueryAPI, bucket string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := parseQuery(r, 1440, 20, 2000)
		ctx, cancel := context.WithTimeout(r.Context(), time.Duration(p.TimeoutMS)*time.Millisecond)
		defer cancel()

		res, err := q.Query(ctx, buildAlertsFlux(bucket, p))
		if err != nil {
			w.Header().Set("X-Error", "influx-query-error")
			writeJSON(w, http.StatusOK, []AlertEvent{})
			return
		}
		defer func() { _ = res.Close() }()

		out := make([]AlertEvent, 0, p.Limit)
		for res.Next() {
			out = append(out, recordToAlert(res.Record()))
		}
		if res.Err() != nil {
			w.Header().Set("X-Error", "influx-iter-error")
		}
		writeJSON(w, http.StatusOK, out)
	})
}

// NewRouter mounts the health probes and the alerts endpoint.
func NewRouter(m Connected, w *Writer, q api.QueryAPI, bucket string) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/healthz", NewHealthHandler(m, w))
	r.Method(http.MethodGet, "/readyz", NewReadyHandler(m, w, 2*time.Second))
	r.Method(http.MethodGet, "/events/alerts/latest", NewAlertsLatestHandler(q, bucket))
	return r
}
