package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/watchdog"
)

type watchdogHandler struct {
	coordinator *watchdog.Coordinator
}

// health answers the watchdog's own probe: 200 when every engine is
// present and at least one health check is registered, 204 when none
// are registered yet, 500 otherwise.
func (h *watchdogHandler) health(c echo.Context) error {
	if h.coordinator.HealthEngine == nil || h.coordinator.MetricsEngine == nil ||
		h.coordinator.CleanupEngine == nil {
		return c.NoContent(http.StatusInternalServerError)
	}

	checks, err := h.coordinator.HealthEngine.List(c.Request().Context(), "", "", "")
	if err != nil {
		return c.NoContent(http.StatusInternalServerError)
	}
	if len(checks) == 0 {
		return c.NoContent(http.StatusNoContent)
	}
	return c.NoContent(http.StatusOK)
}
