package telemetry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/logger"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/platform"
)

// ZapSink writes every report as a structured log line. It is the
// default sink when no telemetry key is configured.
type ZapSink struct {
	log logger.Logger

	mu  sync.RWMutex
	key string
}

// NewZapSink builds a logging sink.
func NewZapSink(log logger.Logger) *ZapSink {
	return &ZapSink{log: log}
}

func (s *ZapSink) ReportMetric(ctx context.Context, role, instance, name string, value int64) error {
	s.log.Info("metric",
		zap.String("role", role),
		zap.String("instance", instance),
		zap.String("name", name),
		zap.Int64("value", value))
	return nil
}

func (s *ZapSink) ReportAvailability(ctx context.Context, service, instance, name string,
	capturedAt time.Time, duration time.Duration, location string, success bool) error {
	s.log.Info("availability",
		zap.String("service", service),
		zap.String("instance", instance),
		zap.String("name", name),
		zap.Time("captured_at", capturedAt),
		zap.Duration("duration", duration),
		zap.String("location", location),
		zap.Bool("success", success))
	return nil
}

func (s *ZapSink) ReportHealth(ctx context.Context, application, service, instance, source, property string,
	state platform.HealthState) error {
	s.log.Info("health",
		zap.String("application", application),
		zap.String("service", service),
		zap.String("instance", instance),
		zap.String("source", source),
		zap.String("property", property),
		zap.String("state", state.String()))
	return nil
}

func (s *ZapSink) SetKey(key string) {
	s.mu.Lock()
	s.key = key
	s.mu.Unlock()
}

func (s *ZapSink) Key() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key
}
