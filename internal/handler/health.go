package handler

import (
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"synxronusage/internal/domain"
)

// WriteServiceName is the health service that reports NOT_SERVING while the
// repository is locked down by usage limits.
const WriteServiceName = "synxronusage.Write"

// HealthReporter publishes repository usage status through the gRPC
// health protocol.
type HealthReporter struct {
	server *health.Server
}

func NewHealthReporter() *HealthReporter {
	s := health.NewServer()
	s.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.SetServingStatus(WriteServiceName, healthpb.HealthCheckResponse_SERVING)
	return &HealthReporter{server: s}
}

func (h *HealthReporter) Server() *health.Server {
	return h.server
}

func (h *HealthReporter) OnUsageStatus(status domain.RepoUsageStatus) {
	s := healthpb.HealthCheckResponse_SERVING
	if status.Level == domain.UsageLevelLockedDown {
		s = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.server.SetServingStatus(WriteServiceName, s)
}

// Shutdown marks every service NOT_SERVING.
func (h *HealthReporter) Shutdown() {
	h.server.Shutdown()
}
