// Package app aggregates the dashboard view from the monitor, persistence and
// event services, each behind its own circuit breaker.
package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type Config struct {
	MonitorBaseURL     string
	PersistenceBaseURL string
	EventsBaseURL      string
	HTTPTimeout        time.Duration

	BreakerFailures int
	BreakerOpenFor  time.Duration

	Logger *zap.Logger
}

type Gateway struct {
	cfg         Config
	logger      *zap.Logger
	nodes       *Upstream
	lines       *Upstream
	persistence *Upstream
	events      *Upstream
}

func NewGateway(cfg Config) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 3 * time.Second
	}
	// un breaker per ciascun upstream
	up := func(name, base, path string) *Upstream {
		return NewUpstream(name, base, path, cfg.HTTPTimeout, newBreaker(name, cfg.BreakerFailures, cfg.BreakerOpenFor, logger))
	}
	return &Gateway{
		cfg:         cfg,
		logger:      logger,
		nodes:       up("monitor-nodes", cfg.MonitorBaseURL, "/nodes"),
		lines:       up("monitor-lines", cfg.MonitorBaseURL, "/alerts/lines"),
		persistence: up("persistence", cfg.PersistenceBaseURL, "/data/latest"),
		events:      up("events", cfg.EventsBaseURL, "/events/alerts/latest?limit=50"),
	}
}

func (g *Gateway) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Get("/dashboard/data", g.HandleDashboard)
	r.Get("/breakers", g.HandleBreakers)
	return r
}
