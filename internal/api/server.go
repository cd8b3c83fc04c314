// Package api is the HTTP listener surface of the watchdog: thin CRUD
// over the durable maps plus the watchdog's own health and metrics
// endpoints.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/logger"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/watchdog"
)

// Server hosts the registration and status endpoints.
type Server struct {
	e       *echo.Echo
	address string
	port    int
	log     logger.Logger
}

// NewServer builds the listener. registry may be nil when no
// prometheus sink is configured; the scrape endpoint is then omitted.
func NewServer(coordinator *watchdog.Coordinator, registry *prometheus.Registry,
	address string, port int, log logger.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	hc := &healthCheckHandler{engine: coordinator.HealthEngine, log: log}
	e.POST("/healthcheck", hc.register)
	e.GET("/healthcheck", hc.list)
	e.GET("/healthcheck/:application", hc.list)
	e.GET("/healthcheck/:application/:service", hc.list)
	e.GET("/healthcheck/:application/:service/:partition", hc.list)

	mc := &metricCheckHandler{engine: coordinator.MetricsEngine, log: log}
	e.POST("/metrics/:application", mc.register)
	e.POST("/metrics/:application/:service", mc.register)
	e.POST("/metrics/:application/:service/:partition", mc.register)
	e.GET("/metrics", mc.list)
	e.GET("/metrics/:application", mc.list)
	e.GET("/metrics/:application/:service", mc.list)
	e.GET("/metrics/:application/:service/:partition", mc.list)

	wh := &watchdogHandler{coordinator: coordinator}
	e.GET("/watchdog/health", wh.health)
	if registry != nil {
		e.GET("/watchdog/metrics", echo.WrapHandler(
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	return &Server{e: e, address: address, port: port, log: log}
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		addr := fmt.Sprintf("%s:%d", s.address, s.port)
		s.log.Info("listener starting", zap.String("address", addr))
		if err := s.e.Start(addr); err != nil && err != http.ErrServerClosed {
			s.log.Error("listener failed", zap.Error(err))
		}
	}()
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}
