// Package health implements the liveness/readiness endpoints and the gRPC
// health surface, grounded on the teacher's internal/v1/health package. The
// teacher's readiness check pings Redis directly and probes a Rust SFU over
// gRPC; this service has no SFU, so readiness here checks the one thing this
// process actually depends on externally: its durable Store. The gRPC
// health service (grpc/health/grpc_health_v1) is kept and now reports this
// process's own readiness instead of proxying an SFU's.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/roomrelay/signaling-server/internal/v1/logging"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Checker is the dependency a Handler probes for readiness. store.Store
// already exposes Ping, so both the in-memory and Redis-backed stores
// satisfy this directly.
type Checker interface {
	Ping(ctx context.Context) error
}

// Handler manages the HTTP health endpoints.
type Handler struct {
	store Checker
}

// NewHandler creates a Handler. store may be nil, in which case readiness
// reports healthy unconditionally (no durable dependency configured).
func NewHandler(store Checker) *Handler {
	return &Handler{store: store}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health/live. Returns 200 as long as the process is
// alive, no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready. Returns 200 only if the durable
// store responds, 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{"store": h.checkStore(ctx)}

	status := "ready"
	statusCode := http.StatusOK
	if checks["store"] != "healthy" {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkStore(ctx context.Context) string {
	if h.store == nil {
		return "healthy"
	}
	if err := h.store.Ping(ctx); err != nil {
		logging.Error(ctx, "store health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}

// MarshalJSON keeps ReadinessResponse's field order stable in output.
func (r ReadinessResponse) MarshalJSON() ([]byte, error) {
	type Alias ReadinessResponse
	return json.Marshal(&struct{ *Alias }{Alias: (*Alias)(&r)})
}

// GRPCHealthServer implements grpc_health_v1.HealthServer, backed by the
// same Checker the HTTP readiness endpoint uses, for orchestrators that
// poll gRPC health instead of HTTP.
type GRPCHealthServer struct {
	healthpb.UnimplementedHealthServer
	store Checker
}

// NewGRPCHealthServer wraps store behind the gRPC health protocol.
func NewGRPCHealthServer(store Checker) *GRPCHealthServer {
	return &GRPCHealthServer{store: store}
}

// Check implements a single-shot health RPC.
func (s *GRPCHealthServer) Check(ctx context.Context, _ *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	status := healthpb.HealthCheckResponse_SERVING
	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	return &healthpb.HealthCheckResponse{Status: status}, nil
}

// Watch implements the streaming health RPC, emitting one snapshot every
// five seconds until the client disconnects.
func (s *GRPCHealthServer) Watch(_ *healthpb.HealthCheckRequest, stream healthpb.Health_WatchServer) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		resp, err := s.Check(stream.Context(), nil)
		if err != nil {
			return err
		}
		if err := stream.Send(resp); err != nil {
			return err
		}
		select {
		case <-stream.Context().Done():
			return nil
		case <-ticker.C:
		}
	}
}
