package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/dualstore/store/backend"
)

// HealthResponse is the body of the health check.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	backend.Health
}

// GetHealth reports whether the durable store is reachable. It never writes anything.
// GET /healthz
func (s *APIV1Service) GetHealth(c echo.Context) error {
	health := s.Backend.Ping(c.Request().Context())

	resp := HealthResponse{Status: "ok", Health: health}
	if s.Profile != nil {
		resp.Version = s.Profile.Version
	}
	if !health.OK() {
		resp.Status = "unavailable"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}
