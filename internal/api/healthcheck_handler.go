package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/healthcheck"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/logger"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/model"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/store"
)

type healthCheckHandler struct {
	engine *healthcheck.Engine
	log    logger.Logger
}

// register accepts a HealthCheck registration. Result fields in the
// request body are ignored; the engine owns them.
func (h *healthCheckHandler) register(c echo.Context) error {
	var hc model.HealthCheck
	if err := c.Bind(&hc); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	hc.LastAttempt = nil
	hc.FailureCount = 0
	hc.ResultCode = 0
	hc.Duration = 0

	if err := h.engine.Register(c.Request().Context(), &hc); err != nil {
		if store.IsInvalidArgument(err) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		h.log.Error("health check registration failed", zap.Error(err))
		return c.NoContent(http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusOK)
}

// list returns the registered checks matching the path filters. An
// empty result (including an unavailable store) is 204.
func (h *healthCheckHandler) list(c echo.Context) error {
	checks, err := h.engine.List(c.Request().Context(),
		c.Param("application"), c.Param("service"), c.Param("partition"))
	if err != nil {
		if store.IsNotPrimary(err) || store.IsTransient(err) {
			return c.NoContent(http.StatusNoContent)
		}
		h.log.Error("health check list failed", zap.Error(err))
		return c.NoContent(http.StatusInternalServerError)
	}
	if len(checks) == 0 {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, checks)
}
