package handler

import (
	"net/http"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Health reports liveness from the gRPC health server's overall status.
func Health(hs *health.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !serving(r, hs) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Service Unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}

// Ready additionally requires a loaded model.
func Ready(hs *health.Server, loaded func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !serving(r, hs) || !loaded() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Not Ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Ready"))
	}
}

func serving(r *http.Request, hs *health.Server) bool {
	resp, err := hs.Check(r.Context(), &healthpb.HealthCheckRequest{})
	return err == nil && resp.Status == healthpb.HealthCheckResponse_SERVING
}
