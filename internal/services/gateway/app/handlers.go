package app

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/fleetwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/fleetwatch/internal/services/event"
)

func (g *Gateway) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.HTTPTimeout)
	defer cancel()

	data := DashboardData{
		Nodes:    []NodeView{},
		Lines:    []messages.AlertLine{},
		Readings: []messages.SensorData{},
		Alerts:   []event.AlertEvent{},
		Sources:  make(map[string]Source, 4),
	}

	// fetch in parallelo, ognuno scrive solo il proprio campo
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	fetch := func(key string, u *Upstream, out any) {
		defer wg.Done()
		src, err := u.GetJSON(ctx, out)
		if err != nil {
			g.logger.Warn("upstream failed", zap.String("upstream", key), zap.String("served", string(src)), zap.Error(err))
		}
		mu.Lock()
		data.Sources[key] = src
		mu.Unlock()
	}
	wg.Add(4)
	go fetch("nodes", g.nodes, &data.Nodes)
	go fetch("lines", g.lines, &data.Lines)
	go fetch("readings", g.persistence, &data.Readings)
	go fetch("alerts", g.events, &data.Alerts)
	wg.Wait()

	sort.Slice(data.Nodes, func(i, j int) bool { return data.Nodes[i].ID < data.Nodes[j].ID })
	data.Stats = computeStats(data.Nodes, data.Readings)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)

	g.logger.Debug("dashboard served",
		zap.Duration("took", time.Since(start)),
		zap.Int("nodes", len(data.Nodes)),
		zap.Int("alerts", len(data.Alerts)))
}

func computeStats(nodes []NodeView, readings []messages.SensorData) Stats {
	st := Stats{Nodes: len(nodes), ByStatus: make(map[string]int)}
	for _, n := range nodes {
		st.ByStatus[string(n.Status)]++
	}

	var (
		sum float64
		cnt int
	)
	st.TVOCMin = math.MaxFloat64
	for _, sd := range readings {
		v, ok := sd.ToReading().Value(entities.FieldTVOC)
		if !ok {
			continue
		}
		sum += v
		cnt++
		st.TVOCMin = math.Min(st.TVOCMin, v)
		st.TVOCMax = math.Max(st.TVOCMax, v)
	}
	if cnt == 0 {
		st.TVOCMin = 0
		return st
	}
	st.TVOCMean = math.Round(sum/float64(cnt)*100) / 100
	return st
}

// HandleBreakers reports the state of every upstream breaker.
func (g *Gateway) HandleBreakers(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"monitor-nodes": g.nodes.State(),
		"monitor-lines": g.lines.State(),
		"persistence":   g.persistence.State(),
		"events":        g.events.State(),
	})
}
