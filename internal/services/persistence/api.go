package persistence

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/messages"
)

func NewRouter(svc *Service) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })

	// GET /data/latest
	//   source=auto|influx|cache   (default auto: prova Influx, fallback cache)
	//   minutes=<int>              (finestra per Influx, default 1440 = 24h)
	r.Get("/data/latest", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		source := strings.ToLower(q.Get("source"))
		if source == "" {
			source = "auto"
		}
		minutes := intParam(q.Get("minutes"), 60*24)

		ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
		defer cancel()
		list, used := svc.Latest(ctx, source, minutes)

		out := make([]messages.SensorData, 0, len(list))
		for _, rd := range list {
			out = append(out, messages.FromReading(rd, true, 0))
		}
		w.Header().Set("X-Data-Source", used)
		writeJSON(w, http.StatusOK, out)
	})

	// GET /data/{node}?minutes=60 returns the cached series, oldest first.
	r.Get("/data/{node}", func(w http.ResponseWriter, req *http.Request) {
		node := chi.URLParam(req, "node")
		minutes := intParam(req.URL.Query().Get("minutes"), 60)
		hist := svc.Cache().History(node, time.Now().Add(-time.Duration(minutes)*time.Minute))
		writeJSON(w, http.StatusOK, hist)
	})

	return r
}

func intParam(s string, def int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && n > 0 {
		return n
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
