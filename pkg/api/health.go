package api

import (
	"context"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/nebula-assistant/agent-core/pkg/database"
)

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status        string                  `json:"status"`
	Database      *database.HealthStatus  `json:"database,omitempty"`
	ActiveUsers   int                     `json:"activeUsers"`
	Configuration healthConfigurationInfo `json:"configuration"`
}

type healthConfigurationInfo struct {
	PersistenceEnabled bool `json:"persistenceEnabled"`
	BackendConfigured  bool `json:"backendConfigured"`
}

// healthHandler handles GET /health: it reports database connectivity (when
// persistence is configured) and the static configuration facts a caller
// needs to interpret a degraded status, per the health endpoint's
// composed-liveness requirement.
func (s *Server) healthHandler(c *echo.Context) error {
	resp := healthResponse{
		Status:      "healthy",
		ActiveUsers: s.router.Count(),
		Configuration: healthConfigurationInfo{
			PersistenceEnabled: s.dbClient != nil,
			BackendConfigured:  s.backendURL != "",
		},
	}

	if s.dbClient != nil {
		reqCtx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		dbHealth, err := database.Health(reqCtx, s.dbClient.DB())
		resp.Database = dbHealth
		if err != nil {
			resp.Status = "unhealthy"
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
	}

	return c.JSON(http.StatusOK, resp)
}

func parseExp(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
