package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/platform"
)

// PromSink exports reports as prometheus series. Metric reports become
// a gauge vec, availability reports a duration histogram plus outcome
// counter, health reports a state gauge.
type PromSink struct {
	registry *prometheus.Registry

	metricValue   *prometheus.GaugeVec
	probeDuration *prometheus.HistogramVec
	probeOutcomes *prometheus.CounterVec
	healthState   *prometheus.GaugeVec

	mu  sync.RWMutex
	key string
}

// NewPromSink builds a prometheus sink on its own registry.
func NewPromSink() *PromSink {
	registry := prometheus.NewRegistry()
	s := &PromSink{
		registry: registry,
		metricValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "watchdog",
			Name:      "load_metric",
			Help:      "Last observed load metric value per role and instance.",
		}, []string{"role", "instance", "name"}),
		probeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "watchdog",
			Name:      "probe_duration_seconds",
			Help:      "Health probe round-trip time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "name"}),
		probeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "watchdog",
			Name:      "probe_outcomes_total",
			Help:      "Health probe outcomes partitioned by success.",
		}, []string{"service", "name", "success"}),
		healthState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "watchdog",
			Name:      "health_state",
			Help:      "Reported health state (0=Ok, 1=Warning, 2=Error).",
		}, []string{"application", "service", "source", "property"}),
	}
	registry.MustRegister(s.metricValue, s.probeDuration, s.probeOutcomes, s.healthState)
	return s
}

// Registry exposes the sink's registry for the scrape endpoint.
func (s *PromSink) Registry() *prometheus.Registry { return s.registry }

func (s *PromSink) ReportMetric(ctx context.Context, role, instance, name string, value int64) error {
	s.metricValue.WithLabelValues(role, instance, name).Set(float64(value))
	return nil
}

func (s *PromSink) ReportAvailability(ctx context.Context, service, instance, name string,
	capturedAt time.Time, duration time.Duration, location string, success bool) error {
	if duration >= 0 {
		s.probeDuration.WithLabelValues(service, name).Observe(duration.Seconds())
	}
	outcome := "false"
	if success {
		outcome = "true"
	}
	s.probeOutcomes.WithLabelValues(service, name, outcome).Inc()
	return nil
}

func (s *PromSink) ReportHealth(ctx context.Context, application, service, instance, source, property string,
	state platform.HealthState) error {
	var v float64
	switch state {
	case platform.HealthOk:
		v = 0
	case platform.HealthWarning:
		v = 1
	default:
		v = 2
	}
	s.healthState.WithLabelValues(application, service, source, property).Set(v)
	return nil
}

func (s *PromSink) SetKey(key string) {
	s.mu.Lock()
	s.key = key
	s.mu.Unlock()
}

func (s *PromSink) Key() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key
}
