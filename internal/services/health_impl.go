package services

import (
	"log"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"framecast/internal/camera"
)

// HealthImplementation maps capture loop states onto the gRPC health
// service. Each camera is its own service name; the empty name is SERVING
// while the process runs.
type HealthImplementation struct {
	server *health.Server
}

// NewHealthService creates a new health service implementation
func NewHealthService() *HealthImplementation {
	h := &HealthImplementation{server: health.NewServer()}
	h.server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return h
}

// Server returns the gRPC health server to register
func (h *HealthImplementation) Server() *health.Server {
	return h.server
}

// Watch tracks a camera's capture state. Must be called before the camera runs.
func (h *HealthImplementation) Watch(svc *CameraService) {
	name := svc.Name()
	h.server.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	svc.OnStateChange(func(s camera.State) {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if s == camera.StateRunning {
			status = healthpb.HealthCheckResponse_SERVING
		}
		h.server.SetServingStatus(name, status)
		log.Printf("[Health] Camera %s is %s", name, status)
	})
}

// Shutdown sets every service to NOT_SERVING
func (h *HealthImplementation) Shutdown() {
	h.server.Shutdown()
}
