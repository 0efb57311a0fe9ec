package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/sendgate/sendgate/pkg/database"
	"github.com/sendgate/sendgate/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Only the gateway's own components are checked; the upstream chat API is
// deliberately excluded so its outages do not make an orchestrator restart us.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	resp := &HealthResponse{Version: version.GitCommit}

	dbHealth, err := database.Health(reqCtx, s.db.Pool())
	resp.Database = dbHealth
	if err != nil {
		status = healthStatusUnhealthy
		checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["database"] = HealthCheck{Status: healthStatusHealthy}
	}

	if s.queue != nil {
		qs := s.queue.Stats()
		resp.Queue = &qs
		checks["send_queue"] = HealthCheck{Status: healthStatusHealthy}
	}
	if s.media != nil {
		ws := s.media.Warmer().Stats()
		resp.Warmup = &ws
		check := HealthCheck{Status: healthStatusHealthy}
		// A saturated warm-up queue keeps serving sends, just without media.
		if ws.Pending >= warmupSaturation {
			check = HealthCheck{Status: healthStatusDegraded, Message: "warm-up queue saturated"}
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
		}
		checks["warmup"] = check
	}

	resp.Status = status
	resp.Checks = checks

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, resp)
}

// warmupSaturation is the pending-job count at which health reports degraded.
const warmupSaturation = 450

// statsHandler handles GET /api/v1/stats: the in-process metrics rings plus
// live queue and warm-up snapshots.
func (s *Server) statsHandler(c *echo.Context) error {
	body := map[string]any{
		"series": s.sink.Snapshot(),
	}
	if s.queue != nil {
		body["queue"] = s.queue.Stats()
	}
	if s.media != nil {
		body["warmup"] = s.media.Warmer().Stats()
	}
	return c.JSON(http.StatusOK, body)
}
