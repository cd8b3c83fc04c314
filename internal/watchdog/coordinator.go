// Package watchdog composes the three periodic engines and the self
// reporter under one lifecycle and cancellation domain.
package watchdog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/cleanup"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/config"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/healthcheck"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/logger"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/metrics"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/model"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/platform"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/store"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/telemetry"
)

// Identity of the watchdog inside the cluster.
const (
	Application = "Watchdog"
	Service     = "WatchdogService"
)

// tickWindow extends each tick's deadline past its interval.
const tickWindow = 30 * time.Second

// LifecycleHost is the surface the process bootstrap drives: open the
// coordinator, run it while primary, close it, and answer data-loss
// callbacks.
type LifecycleHost interface {
	Open(ctx context.Context) error
	RunPrimary(ctx context.Context) error
	Close(ctx context.Context) error
	OnDataLoss(ctx context.Context) (bool, error)
}

// Coordinator owns the engines, the configuration snapshot and the
// shared cancellation domain, and restarts the engine loops across
// replica role transitions.
type Coordinator struct {
	log    logger.Logger
	store  store.Store
	handle *platform.Handle
	sink   telemetry.Sink

	settings  atomic.Pointer[config.Watchdog]
	endpoints atomic.Pointer[[]string]

	HealthEngine  *healthcheck.Engine
	MetricsEngine *metrics.Engine
	CleanupEngine *cleanup.Engine
	Reporter      *Reporter

	partitionID uuid.UUID

	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu            sync.Mutex
	primaryCancel context.CancelFunc
	opened        bool
}

// New wires the engines together. tableFactory opens the diagnostic
// table store; cfg seeds the settings snapshot later replaced by hot
// reloads.
func New(cfg *config.Config, st store.Store, handle *platform.Handle,
	sink telemetry.Sink, tableFactory cleanup.StoreFactory, log logger.Logger) *Coordinator {
	rootCtx, rootCancel := context.WithCancel(context.Background())
	c := &Coordinator{
		log:         log,
		store:       st,
		handle:      handle,
		sink:        sink,
		partitionID: uuid.New(),
		rootCtx:     rootCtx,
		rootCancel:  rootCancel,
	}
	c.settings.Store(&cfg.Watchdog)
	empty := []string{}
	c.endpoints.Store(&empty)

	c.HealthEngine = healthcheck.New(st, handle, sink, log)
	c.MetricsEngine = metrics.New(st, handle, sink, log)
	c.CleanupEngine = cleanup.New(c.cleanupSettings, tableFactory, log)
	c.Reporter = NewReporter(log, handle, sink,
		c.HealthEngine, c.MetricsEngine, c.CleanupEngine,
		c.partitionID, Application, Service,
		c.Endpoints, c.reportInterval)

	sink.SetKey(cfg.Watchdog.TelemetryKey)
	return c
}

// ApplyConfig installs a new settings snapshot. Engines observe the
// changed intervals on their next timer reset; no engine state is torn
// down.
func (c *Coordinator) ApplyConfig(cfg *config.Config) {
	c.settings.Store(&cfg.Watchdog)
	c.sink.SetKey(cfg.Watchdog.TelemetryKey)
	c.log.Info("configuration applied",
		zap.Duration("health_check_interval", cfg.Watchdog.HealthCheckInterval),
		zap.Duration("metric_interval", cfg.Watchdog.MetricInterval),
		zap.Duration("diagnostic_interval", cfg.Watchdog.DiagnosticInterval))
}

// SetEndpoints records the listener addresses for self-health checks.
func (c *Coordinator) SetEndpoints(addrs []string) {
	c.endpoints.Store(&addrs)
}

// Endpoints returns the current listener addresses.
func (c *Coordinator) Endpoints() []string { return *c.endpoints.Load() }

// PartitionID is the identity the watchdog reports health against.
func (c *Coordinator) PartitionID() uuid.UUID { return c.partitionID }

func (c *Coordinator) watchdog() config.Watchdog { return *c.settings.Load() }

func (c *Coordinator) reportInterval() time.Duration {
	return c.watchdog().WatchdogHealthReportInterval
}

func (c *Coordinator) cleanupSettings() cleanup.Settings {
	s := c.watchdog()
	return cleanup.Settings{
		Endpoint:    s.DiagnosticEndpoint,
		SasToken:    s.DiagnosticSasToken,
		TimeToKeep:  s.DiagnosticTimeToKeep,
		TargetCount: s.DiagnosticTargetCount,
	}
}

// Open starts the self-report loop and hooks role transitions. When
// the store is already primary the engine loops start immediately.
func (c *Coordinator) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.opened {
		c.mu.Unlock()
		return nil
	}
	c.opened = true
	c.mu.Unlock()

	c.store.OnRoleChange(func(primary bool) {
		if primary {
			c.log.Info("replica promoted to primary")
			c.promote()
		} else {
			c.log.Info("replica lost primacy")
			c.demote()
		}
	})

	go c.runLoop(c.rootCtx, "self-report", c.reportInterval, c.Reporter.Tick)

	if c.store.WriteStatus() == store.AccessGranted {
		c.promote()
	}
	return nil
}

// RunPrimary runs the engine loops until ctx is cancelled.
func (c *Coordinator) RunPrimary(ctx context.Context) error {
	c.promote()
	<-ctx.Done()
	c.demote()
	return nil
}

// Close tears the coordinator down.
func (c *Coordinator) Close(ctx context.Context) error {
	c.demote()
	c.rootCancel()
	c.HealthEngine.Close()
	return nil
}

// OnDataLoss declines restoration: the durable maps rebuild from
// client registrations.
func (c *Coordinator) OnDataLoss(ctx context.Context) (bool, error) {
	c.log.Warn("data loss reported, continuing with current state")
	return false, nil
}

// promote starts the three engine loops under a fresh cancellation
// scope derived from the coordinator's root.
func (c *Coordinator) promote() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.primaryCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(c.rootCtx)
	c.primaryCancel = cancel

	go c.runLoop(ctx, "health-check", func() time.Duration { return c.watchdog().HealthCheckInterval }, c.HealthEngine.Tick)
	go c.runLoop(ctx, "metrics", func() time.Duration { return c.watchdog().MetricInterval }, c.MetricsEngine.Tick)
	go c.runLoop(ctx, "cleanup", func() time.Duration { return c.watchdog().DiagnosticInterval }, c.CleanupEngine.Tick)
}

// demote cancels the engine loops; in-flight ticks abort at their next
// suspension point and their transactions are discarded uncommitted.
func (c *Coordinator) demote() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.primaryCancel == nil {
		return
	}
	c.primaryCancel()
	c.primaryCancel = nil
}

// runLoop drives one engine: ticks never overlap themselves, each tick
// gets a deadline of interval + tickWindow, and a tick that overruns
// its interval is followed immediately by the next one.
func (c *Coordinator) runLoop(ctx context.Context, name string,
	interval func() time.Duration, tick func(context.Context) error) {
	timer := time.NewTimer(interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		iv := interval()
		tickCtx, cancel := context.WithTimeout(ctx, iv+tickWindow)
		started := time.Now()
		if err := tick(tickCtx); err != nil {
			c.log.Error(name+" tick failed", zap.Error(err))
		}
		cancel()

		next := iv - time.Since(started)
		if next < 0 {
			next = 0
		}
		timer.Reset(next)
	}
}

// RegisterSelf registers the watchdog's own health endpoint with its
// listener so the service shows up as a monitored target. Best effort
// with a short retry.
func (c *Coordinator) RegisterSelf(ctx context.Context, baseURL string) error {
	hc := model.HealthCheck{
		Name:        "WatchdogHealth",
		ServiceName: fmt.Sprintf("fabric:/%s/%s", Application, Service),
		Partition:   c.partitionID,
		SuffixPath:  "watchdog/health",
		Frequency:   time.Minute,
	}
	body, err := json.Marshal(&hc)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			baseURL+"/healthcheck", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			lastErr = fmt.Errorf("self registration returned %d", resp.StatusCode)
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return lastErr
}
