package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/logger"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/metrics"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/model"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/store"
)

type metricCheckHandler struct {
	engine *metrics.Engine
	log    logger.Logger
}

// register accepts a subscription: the scope comes from the path, the
// body is a JSON array of metric names.
func (h *metricCheckHandler) register(c echo.Context) error {
	var names []string
	if err := c.Bind(&names); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	mc := model.MetricCheck{
		MetricNames: names,
		Application: c.Param("application"),
		Service:     c.Param("service"),
	}
	if p := c.Param("partition"); p != "" {
		id, err := uuid.Parse(p)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid partition id"})
		}
		mc.Partition = id
	}

	if err := h.engine.Register(c.Request().Context(), &mc); err != nil {
		if store.IsInvalidArgument(err) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		h.log.Error("metric registration failed", zap.Error(err))
		return c.NoContent(http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusOK)
}

// list returns the subscriptions matching the path filters.
func (h *metricCheckHandler) list(c echo.Context) error {
	subs, err := h.engine.List(c.Request().Context(),
		c.Param("application"), c.Param("service"), c.Param("partition"))
	if err != nil {
		if store.IsNotPrimary(err) || store.IsTransient(err) {
			return c.NoContent(http.StatusNoContent)
		}
		h.log.Error("metric list failed", zap.Error(err))
		return c.NoContent(http.StatusInternalServerError)
	}
	if len(subs) == 0 {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, subs)
}
