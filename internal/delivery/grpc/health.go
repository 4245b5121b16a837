package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dakota002/gcn.nasa.gov/pkg/logger"
)

// ServiceName is the health service name reported alongside the overall ("") status
const ServiceName = "gcn.circulars.Ingest"

// HealthChecker reports whether the pipeline's dependencies are reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthConfig represents health probing configuration
type HealthConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// HealthHandler serves grpc.health.v1 with a status refreshed from HealthChecker
type HealthHandler struct {
	server   *health.Server
	checker  HealthChecker
	interval time.Duration
	timeout  time.Duration
	logger   *logger.Logger
}

// NewHealthHandler creates a new health handler. The initial status is NOT_SERVING
// until the first probe succeeds.
func NewHealthHandler(checker HealthChecker, cfg HealthConfig, log *logger.Logger) *HealthHandler {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	h := &HealthHandler{
		server:   health.NewServer(),
		checker:  checker,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		logger:   log,
	}
	h.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register registers the health service on s
func (h *HealthHandler) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Probe runs one health check and publishes the resulting status
func (h *HealthHandler) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := h.checker.HealthCheck(ctx); err != nil {
		h.logger.Warn("Health check failed", logger.Error(err))
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}

	h.setStatus(status)
	return status
}

// Run probes periodically until ctx is cancelled, then reports NOT_SERVING
// for good so that clients drain before the server stops.
func (h *HealthHandler) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
			h.Probe(ctx)
		}
	}
}

func (h *HealthHandler) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(ServiceName, status)
}
