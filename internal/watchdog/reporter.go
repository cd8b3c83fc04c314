package watchdog

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/cleanup"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/healthcheck"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/logger"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/metrics"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/platform"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/telemetry"
)

// Health report properties posted on every reporter pass.
const (
	PropertyServiceHealth = "WatchdogServiceHealth"
	PropertyHealthChecks  = "HealthCheckOperations"
	PropertyMetrics       = "MetricOperations"
	PropertyCleanup       = "CleanupOperations"

	reportSource = "Watchdog"

	// clusterHealthTimeout bounds the roll-up query.
	clusterHealthTimeout = 4 * time.Second
)

// Reporter aggregates the watchdog's own health and publishes it with
// the engines' states, load counters and the cluster roll-up.
type Reporter struct {
	log    logger.Logger
	handle *platform.Handle
	sink   telemetry.Sink

	healthEngine  *healthcheck.Engine
	metricsEngine *metrics.Engine
	cleanupEngine *cleanup.Engine

	partitionID uuid.UUID
	application string
	service     string

	// endpoints returns the addresses the watchdog is listening on.
	endpoints func() []string
	// interval returns the current report interval; the event TTL is
	// interval + 30s so a stalled reporter surfaces as expired events.
	interval func() time.Duration

	proc *process.Process
}

// NewReporter builds the self reporter.
func NewReporter(log logger.Logger, handle *platform.Handle, sink telemetry.Sink,
	he *healthcheck.Engine, me *metrics.Engine, ce *cleanup.Engine,
	partitionID uuid.UUID, application, service string,
	endpoints func() []string, interval func() time.Duration) *Reporter {
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &Reporter{
		log:           log,
		handle:        handle,
		sink:          sink,
		healthEngine:  he,
		metricsEngine: me,
		cleanupEngine: ce,
		partitionID:   partitionID,
		application:   application,
		service:       service,
		endpoints:     endpoints,
		interval:      interval,
		proc:          proc,
	}
}

// SelfHealth aggregates the watchdog's own state: missing collaborators
// and a silent listener each degrade it to Error, and every failure
// contributes a description line.
func (r *Reporter) SelfHealth() (platform.HealthState, string) {
	state := platform.HealthOk
	var desc strings.Builder

	degrade := func(line string) {
		state = platform.MergeHealth(state, platform.HealthError)
		desc.WriteString(line)
		desc.WriteByte('\n')
	}

	if r.log == nil {
		degrade("logger sink is not configured")
	}
	if r.healthEngine == nil {
		degrade("health check engine is missing")
	}
	if r.metricsEngine == nil {
		degrade("metrics engine is missing")
	}
	if len(r.endpoints()) == 0 {
		degrade("no listening endpoints")
	}
	return state, desc.String()
}

// Tick publishes one self-report pass.
func (r *Reporter) Tick(ctx context.Context) error {
	ttl := r.interval() + 30*time.Second
	client := r.handle.Client()

	selfState, selfDesc := r.SelfHealth()
	reports := []platform.HealthReport{
		{Source: reportSource, Property: PropertyServiceHealth, State: selfState, Description: selfDesc, TTL: ttl},
		{Source: reportSource, Property: PropertyHealthChecks, State: r.healthEngineState(), TTL: ttl},
		{Source: reportSource, Property: PropertyMetrics, State: r.metricsEngineState(), TTL: ttl},
		{Source: reportSource, Property: PropertyCleanup, State: r.cleanupEngineState(), TTL: ttl},
	}
	for _, report := range reports {
		if err := client.ReportPartitionHealth(ctx, r.partitionID, report); err != nil {
			r.log.Warn("self health report failed",
				zap.String("property", report.Property), zap.Error(err))
		}
	}

	r.reportLoad(ctx, client)
	r.reportClusterHealth(ctx, client)
	return nil
}

func (r *Reporter) healthEngineState() platform.HealthState {
	if r.healthEngine == nil {
		return platform.HealthError
	}
	return r.healthEngine.State()
}

func (r *Reporter) metricsEngineState() platform.HealthState {
	if r.metricsEngine == nil {
		return platform.HealthError
	}
	return r.metricsEngine.State()
}

func (r *Reporter) cleanupEngineState() platform.HealthState {
	if r.cleanupEngine == nil {
		return platform.HealthError
	}
	return r.cleanupEngine.State()
}

// reportLoad publishes the watchdog's own load to the platform and the
// telemetry sink, with process resource usage attached to the latter.
func (r *Reporter) reportLoad(ctx context.Context, client platform.Client) {
	var observed, checks int64
	if r.metricsEngine != nil {
		observed = r.metricsEngine.ObservedCount()
	}
	if r.healthEngine != nil {
		checks = r.healthEngine.Count()
	}

	load := []platform.LoadValue{
		{Name: "ObservedMetricCount", Value: observed},
		{Name: "HealthCheckCount", Value: checks},
	}
	if err := client.ReportLoad(ctx, load); err != nil {
		r.log.Warn("load report failed", zap.Error(err))
	}
	instance := r.partitionID.String()
	for _, lv := range load {
		if err := r.sink.ReportMetric(ctx, r.service, instance, lv.Name, lv.Value); err != nil {
			r.log.Warn("load telemetry failed", zap.String("name", lv.Name), zap.Error(err))
		}
	}

	if r.proc != nil {
		if mem, err := r.proc.MemoryInfo(); err == nil && mem != nil {
			r.sink.ReportMetric(ctx, r.service, instance, "ProcessMemoryBytes", int64(mem.RSS))
		}
		if cpu, err := r.proc.CPUPercent(); err == nil {
			r.sink.ReportMetric(ctx, r.service, instance, "ProcessCpuPercent", int64(cpu))
		}
	}
}

// reportClusterHealth publishes the cluster roll-up: the aggregate
// state always, plus one event per unhealthy application and node.
func (r *Reporter) reportClusterHealth(ctx context.Context, client platform.Client) {
	health, err := client.ClusterHealth(ctx, clusterHealthTimeout)
	if err != nil {
		r.log.Warn("cluster health query failed", zap.Error(err))
		return
	}

	if err := r.sink.ReportHealth(ctx, r.application, r.service, r.partitionID.String(),
		reportSource, "ClusterHealth", health.AggregatedState); err != nil {
		r.log.Warn("cluster health telemetry failed", zap.Error(err))
	}
	for _, app := range health.Applications {
		if app.State == platform.HealthOk {
			continue
		}
		r.sink.ReportHealth(ctx, app.Name, "", "", reportSource, "ApplicationHealth", app.State)
	}
	for _, node := range health.Nodes {
		if node.State == platform.HealthOk {
			continue
		}
		r.sink.ReportHealth(ctx, node.Name, "", "", reportSource, "NodeHealth", node.State)
	}
}
