package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/reviewloop/internal/pkg/httputil"
)

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status string                    `json:"status"` // "healthy" or "unhealthy"
	Uptime string                    `json:"uptime"`
	Checks map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck is the health of one dependency.
type ComponentCheck struct {
	Status  string `json:"status"` // "up" or "down"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// handleHealth pings the datastore. It returns 503 when the store is down
// so it can back a readiness probe.
//
//	GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	db := s.checkStore(r.Context())
	status := HealthStatus{
		Status: "healthy",
		Uptime: time.Since(s.startTime).Truncate(time.Second).String(),
		Checks: map[string]ComponentCheck{"database": db},
	}
	code := http.StatusOK
	if db.Status != "up" {
		status.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	httputil.JSON(w, code, status)
}

func (s *Server) checkStore(ctx context.Context) ComponentCheck {
	if s.deps.Store == nil {
		return ComponentCheck{Status: "down", Message: "not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	start := time.Now()
	if err := s.deps.Store.Ping(ctx); err != nil {
		return ComponentCheck{Status: "down", Message: err.Error()}
	}
	return ComponentCheck{Status: "up", Latency: time.Since(start).String()}
}
