// Package telemetrytest provides a recording telemetry.Sink for tests.
package telemetrytest

import (
	"context"
	"sync"
	"time"

	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/platform"
)

// Metric is one captured ReportMetric call.
type Metric struct {
	Role     string
	Instance string
	Name     string
	Value    int64
}

// Availability is one captured ReportAvailability call.
type Availability struct {
	Service  string
	Instance string
	Name     string
	Duration time.Duration
	Location string
	Success  bool
}

// Health is one captured ReportHealth call.
type Health struct {
	Application string
	Service     string
	Instance    string
	Source      string
	Property    string
	State       platform.HealthState
}

// Sink records every report it receives.
type Sink struct {
	mu             sync.Mutex
	key            string
	metrics        []Metric
	availabilities []Availability
	healths        []Health
}

func (s *Sink) ReportMetric(ctx context.Context, role, instance, name string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, Metric{Role: role, Instance: instance, Name: name, Value: value})
	return nil
}

func (s *Sink) ReportAvailability(ctx context.Context, service, instance, name string,
	capturedAt time.Time, duration time.Duration, location string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.availabilities = append(s.availabilities, Availability{
		Service: service, Instance: instance, Name: name,
		Duration: duration, Location: location, Success: success,
	})
	return nil
}

func (s *Sink) ReportHealth(ctx context.Context, application, service, instance, source, property string,
	state platform.HealthState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healths = append(s.healths, Health{
		Application: application, Service: service, Instance: instance,
		Source: source, Property: property, State: state,
	})
	return nil
}

func (s *Sink) SetKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = key
}

func (s *Sink) Key() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// Metrics returns the captured metric reports.
func (s *Sink) Metrics() []Metric {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Metric, len(s.metrics))
	copy(out, s.metrics)
	return out
}

// Availabilities returns the captured availability reports.
func (s *Sink) Availabilities() []Availability {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Availability, len(s.availabilities))
	copy(out, s.availabilities)
	return out
}

// Healths returns the captured health reports.
func (s *Sink) Healths() []Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Health, len(s.healths))
	copy(out, s.healths)
	return out
}
