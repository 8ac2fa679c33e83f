package monitor

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LeonardoBeccarini/fleetwatch/internal/config"
	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/fleetwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/fleetwatch/internal/services/analytics"
	"github.com/LeonardoBeccarini/fleetwatch/internal/services/critical"
	"github.com/LeonardoBeccarini/fleetwatch/pkg/wsfeed"
)

// API serves the loop snapshot and the operator endpoints.
type API struct {
	loop       *Loop
	hub        *wsfeed.Hub
	current    func() config.Config
	readyAfter time.Duration // /readyz fails past this tick age
}

func NewAPI(loop *Loop, hub *wsfeed.Hub, current func() config.Config, readyAfter time.Duration) *API {
	if readyAfter <= 0 {
		readyAfter = 5 * time.Minute
	}
	return &API{loop: loop, hub: hub, current: current, readyAfter: readyAfter}
}

func (a *API) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Get("/readyz", a.ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/nodes", a.listNodes)
	r.Get("/nodes/{id}/health", a.nodeHealth)

	r.Route("/alerts", func(r chi.Router) {
		r.Get("/", a.alerts)
		r.Get("/lines", a.lines)
		r.Get("/external", a.external)
		r.Post("/test", a.raiseTest)
		r.Delete("/test/{node}/{hazard}", a.retractTest)
	})

	r.Post("/diagnostics/anomalies", a.anomalies)
	if a.hub != nil {
		r.Get("/feed", a.hub.ServeWS)
	}
	return r
}

func (a *API) ready(w http.ResponseWriter, _ *http.Request) {
	last := a.loop.LastTick()
	if last.IsZero() || time.Since(last) > a.readyAfter {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "last_tick": last})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true, "last_tick": last})
}

func (a *API) listNodes(w http.ResponseWriter, r *http.Request) {
	nodes := a.loop.Snapshot().Nodes
	if c := r.URL.Query().Get("cluster"); c != "" {
		filtered := make([]NodeView, 0, len(nodes))
		for _, n := range nodes {
			if n.ClusterID == c {
				filtered = append(filtered, n)
			}
		}
		nodes = filtered
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (a *API) nodeHealth(w http.ResponseWriter, r *http.Request) {
	n, ok := a.loop.Snapshot().Node(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown node")
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (a *API) alerts(w http.ResponseWriter, _ *http.Request) {
	s := a.loop.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"active":       nonNil(s.Active),
		"intercluster": nonNil(s.InterCluster),
	})
}

func (a *API) lines(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(a.loop.Snapshot().Lines))
}

func (a *API) external(w http.ResponseWriter, _ *http.Request) {
	s := a.loop.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"critical":     nonNil(s.ExternalCritical),
		"intercluster": nonNil(s.ExternalInterCluster),
	})
}

type testAlertRequest struct {
	NodeID string              `json:"node_id"`
	Hazard messages.HazardType `json:"hazard"`
}

func (a *API) raiseTest(w http.ResponseWriter, r *http.Request) {
	var req testAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	req.NodeID = strings.TrimSpace(req.NodeID)
	if req.NodeID == "" || !a.knownHazard(req.Hazard) {
		writeError(w, http.StatusBadRequest, "node_id and a configured hazard are required")
		return
	}
	out, err := a.loop.RaiseTestAlert(r.Context(), req.NodeID, req.Hazard)
	switch {
	case errors.Is(err, critical.ErrUnknownNode):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeJSON(w, http.StatusCreated, out)
	}
}

func (a *API) retractTest(w http.ResponseWriter, r *http.Request) {
	node := chi.URLParam(r, "node")
	hazard := messages.HazardType(chi.URLParam(r, "hazard"))
	out, err := a.loop.RetractTestAlert(r.Context(), node, hazard)
	switch {
	case errors.Is(err, critical.ErrNoActiveAlert):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeJSON(w, http.StatusOK, out)
	}
}

func (a *API) knownHazard(h messages.HazardType) bool {
	for _, rule := range a.current().HazardRules {
		if rule.ID == h {
			return true
		}
	}
	return false
}

type anomalyRequest struct {
	Readings []messages.SensorData `json:"readings"`
	Fields   []entities.Field      `json:"fields,omitempty"`
}

// anomalies runs the detector and the correlation analysis on the posted
// readings, node by node.
func (a *API) anomalies(w http.ResponseWriter, r *http.Request) {
	var req anomalyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	for _, f := range req.Fields {
		if !entities.KnownField(f) {
			writeError(w, http.StatusBadRequest, "unknown field "+string(f))
			return
		}
	}
	cfg := a.current()

	byNode := make(map[string][]entities.SensorReading)
	for _, sd := range req.Readings {
		rd := sd.ToReading()
		byNode[rd.NodeID] = append(byNode[rd.NodeID], rd)
	}
	ids := make([]string, 0, len(byNode))
	for id := range byNode {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]analytics.AnnotatedAnomaly, 0)
	for _, id := range ids {
		series := byNode[id]
		found := analytics.DetectAnomalies(series, req.Fields, cfg.Detector())
		out = append(out, analytics.Annotate(series, found, nil, cfg.Correlation())...)
	}
	// time order across nodes; same instant keeps node id order
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	writeJSON(w, http.StatusOK, out)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
