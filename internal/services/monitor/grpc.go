package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name reported on the gRPC health service.
const ServiceName = "fleetwatch.monitor"

// HealthReporter mirrors the loop liveness on the standard gRPC health
// service. A loop that has not ticked within maxAge is NOT_SERVING.
type HealthReporter struct {
	srv    *health.Server
	loop   interface{ LastTick() time.Time }
	maxAge time.Duration
	logger *zap.Logger
	now    func() time.Time
	last   healthpb.HealthCheckResponse_ServingStatus
}

func NewHealthReporter(loop interface{ LastTick() time.Time }, maxAge time.Duration, logger *zap.Logger) *HealthReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HealthReporter{
		srv:    health.NewServer(),
		loop:   loop,
		maxAge: maxAge,
		logger: logger,
		now:    time.Now,
		last:   healthpb.HealthCheckResponse_UNKNOWN,
	}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to s.
func (h *HealthReporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Server exposes the underlying health server.
func (h *HealthReporter) Server() *health.Server { return h.srv }

// Update recomputes the serving status from the last tick.
func (h *HealthReporter) Update() healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	last := h.loop.LastTick()
	if last.IsZero() || h.now().Sub(last) > h.maxAge {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.set(st)
	return st
}

// Run updates the status every interval until ctx is done, then marks the
// service as shutting down.
func (h *HealthReporter) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		h.Update()
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-t.C:
		}
	}
}

func (h *HealthReporter) set(st healthpb.HealthCheckResponse_ServingStatus) {
	if st == h.last {
		return
	}
	h.srv.SetServingStatus("", st)
	h.srv.SetServingStatus(ServiceName, st)
	h.logger.Info("grpc health changed", zap.String("status", st.String()))
	h.last = st
}
