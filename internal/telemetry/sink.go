// Package telemetry defines the sink the watchdog publishes metric,
// availability and health reports through. Two implementations exist:
// a zap sink that logs every report (used when no telemetry key is
// configured) and a prometheus sink that exports them as series.
package telemetry

import (
	"context"
	"time"

	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/platform"
)

// Sink receives watchdog telemetry. Implementations must be safe for
// concurrent use; the engines report from independent tick loops.
type Sink interface {
	// ReportMetric publishes one load-metric observation for a role
	// (service or application name) and instance (partition or
	// replica id).
	ReportMetric(ctx context.Context, role, instance, name string, value int64) error

	// ReportAvailability publishes the outcome of one availability
	// probe.
	ReportAvailability(ctx context.Context, service, instance, name string,
		capturedAt time.Time, duration time.Duration, location string, success bool) error

	// ReportHealth publishes a health verdict for an entity.
	ReportHealth(ctx context.Context, application, service, instance, source, property string,
		state platform.HealthState) error

	// SetKey installs the backend instrumentation key. An empty key
	// disables export; reports become no-ops or log lines.
	SetKey(key string)

	// Key returns the current instrumentation key.
	Key() string
}
