package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fleetwatch/internal/services/gateway/app"
)

func main() {
	logger, _ := zap.NewProduction()
	if getenv("LOG_LEVEL", "") == "debug" {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("service", "gateway"))

	cfg := loadConfig()
	gw := app.NewGateway(app.Config{
		MonitorBaseURL:     cfg.MonitorURL,
		PersistenceBaseURL: cfg.PersistenceURL,
		EventsBaseURL:      cfg.EventURL,
		HTTPTimeout:        cfg.timeout(),
		BreakerFailures:    cfg.CBFails,
		BreakerOpenFor:     time.Duration(cfg.CBOpenMs) * time.Millisecond,
		Logger:             logger.Named("app"),
	})

	router := gw.Router()
	router.Handle("/metrics", promhttp.Handler())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("gateway listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shCtx)
}
