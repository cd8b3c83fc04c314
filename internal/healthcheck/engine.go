// Package healthcheck drives the durable probe schedule: it keeps the
// schedule map drained, executes HTTP probes against resolved service
// endpoints and writes each result back to the health-check map in the
// same transaction.
package healthcheck

import (
	"context"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/logger"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/model"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/platform"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/store"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/telemetry"
)

// scheduleAttempts bounds the collision-retry loop when inserting a
// scheduled item: the initial tick plus five increments.
const scheduleAttempts = 6

// Engine schedules and executes registered health checks.
type Engine struct {
	store    store.Store
	handle   *platform.Handle
	sink     telemetry.Sink
	log      logger.Logger
	client   *http.Client
	location string

	count int64
	state int32

	// now is a test seam.
	now func() time.Time
}

// New builds the engine. The HTTP client is shared by every probe for
// connection reuse and torn down with the engine.
func New(st store.Store, handle *platform.Handle, sink telemetry.Sink, log logger.Logger) *Engine {
	host, _ := os.Hostname()
	return &Engine{
		store:    st,
		handle:   handle,
		sink:     sink,
		log:      log,
		client:   &http.Client{},
		location: host,
		state:    int32(platform.HealthOk),
		now:      time.Now,
	}
}

// Close releases the probe HTTP client.
func (e *Engine) Close() {
	e.client.CloseIdleConnections()
}

// Count returns the number of successful registrations since start.
func (e *Engine) Count() int64 { return atomic.LoadInt64(&e.count) }

// State returns the engine's current health.
func (e *Engine) State() platform.HealthState {
	return platform.HealthState(atomic.LoadInt32(&e.state))
}

func (e *Engine) setState(s platform.HealthState) {
	atomic.StoreInt32(&e.state, int32(s))
}

// Register validates hc against the cluster and persists it together
// with an immediate schedule entry. A service or partition that does
// not resolve is rejected as an invalid argument.
func (e *Engine) Register(ctx context.Context, hc *model.HealthCheck) error {
	hc.ApplyDefaults()
	if err := hc.Validate(); err != nil {
		return store.NewError(store.ClassInvalidArgument, err.Error(), nil)
	}

	exists, err := e.handle.Client().ServiceExists(ctx, hc.ServiceName, hc.Partition)
	if err != nil {
		return store.NewError(store.ClassTransient, "service lookup", err)
	}
	if !exists {
		return store.NewError(store.ClassInvalidArgument, "service does not exist: "+hc.ServiceName, nil)
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Discard()

	key := hc.Key()
	checks := tx.Map(store.MapHealthChecks)
	if err := checks.AddOrUpdate(ctx, key, model.EncodeHealthCheck(hc)); err != nil {
		return err
	}

	// A re-registration resets the schedule: drop any live item for
	// this key before inserting the immediate one.
	sched := tx.Map(store.MapSchedule)
	if err := removeScheduledFor(ctx, sched, key); err != nil {
		return err
	}
	if _, err := addScheduledItem(ctx, sched, model.ToTicks(e.now()), key); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	atomic.AddInt64(&e.count, 1)
	return nil
}

// List returns an ordered snapshot of the health checks whose keys
// match the filter prefix.
func (e *Engine) List(ctx context.Context, application, service, partition string) ([]model.HealthCheck, error) {
	if e.store.ReadStatus() != store.AccessGranted {
		return nil, store.NewError(store.ClassNotPrimary, "read access not granted", nil)
	}
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Discard()

	prefix := model.FilterPrefix(application, service, partition)
	var out []model.HealthCheck
	var decodeErr error
	err = tx.Map(store.MapHealthChecks).Ascend(ctx, prefix, func(kv store.KV) bool {
		hc, err := model.DecodeHealthCheck(kv.Value)
		if err != nil {
			decodeErr = err
			return false
		}
		out = append(out, *hc)
		return true
	})
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, store.NewError(store.ClassFatal, "corrupt health check record", decodeErr)
	}
	return out, nil
}

// Tick drains every scheduled item whose execution time has passed.
// Transient store faults end the tick early and are retried on the
// next one; losing primacy abandons the tick without commit.
func (e *Engine) Tick(ctx context.Context) error {
	if e.store.ReadStatus() != store.AccessGranted || e.store.WriteStatus() != store.AccessGranted {
		return nil
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		if store.IsNotPrimary(err) {
			return nil
		}
		return err
	}
	defer tx.Discard()

	nowTicks := model.ToTicks(e.now())
	sched := tx.Map(store.MapSchedule)

	var due []model.ScheduledItem
	var decodeErr error
	err = sched.Ascend(ctx, "", func(kv store.KV) bool {
		item, err := model.DecodeScheduledItem(kv.Value)
		if err != nil {
			decodeErr = err
			return false
		}
		if item.ExecutionTicks >= nowTicks {
			// Ordered iteration: everything after this is in the
			// future as well.
			return false
		}
		due = append(due, *item)
		return true
	})
	if err != nil {
		return e.tickError(err)
	}
	if decodeErr != nil {
		e.setState(platform.HealthError)
		return store.NewError(store.ClassFatal, "corrupt scheduled item", decodeErr)
	}

	for i := range due {
		if err := e.executeItem(ctx, tx, &due[i]); err != nil {
			return e.tickError(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return e.tickError(err)
	}
	e.setState(platform.HealthOk)
	return nil
}

// tickError absorbs transient and not-primary faults; everything else
// propagates and marks the engine unhealthy.
func (e *Engine) tickError(err error) error {
	switch {
	case store.IsNotPrimary(err):
		return nil
	case store.IsTransient(err):
		e.log.Warn("health check tick hit a transient fault, will retry", zap.Error(err))
		return nil
	}
	e.setState(platform.HealthError)
	return err
}

// executeItem runs one due schedule entry inside the tick transaction.
func (e *Engine) executeItem(ctx context.Context, tx store.Tx, item *model.ScheduledItem) error {
	checks := tx.Map(store.MapHealthChecks)
	sched := tx.Map(store.MapSchedule)

	witness, ok, err := checks.TryGet(ctx, item.Key, store.ModeUpdate)
	if err != nil {
		return err
	}
	if !ok {
		// The check was unregistered out from under its token; drop
		// the stale token so the schedule stays drained.
		_, err := sched.TryRemove(ctx, model.TickKey(item.ExecutionTicks))
		return err
	}
	hc, err := model.DecodeHealthCheck(witness)
	if err != nil {
		return store.NewError(store.ClassFatal, "corrupt health check record", err)
	}

	part, err := e.handle.Client().FindPartition(ctx, hc.Partition)
	if err != nil {
		return store.NewError(store.ClassTransient, "find partition", err)
	}
	if part == nil {
		// Target is gone: the orphaned entry leaves both maps in the
		// transaction that would have updated it.
		e.log.Info("health check target removed", zap.String("key", item.Key))
		if _, err := checks.TryRemove(ctx, item.Key); err != nil {
			return err
		}
		_, err := sched.TryRemove(ctx, model.TickKey(item.ExecutionTicks))
		return err
	}

	result, err := e.probe(ctx, hc, part)
	if err != nil {
		return err
	}

	if _, err := checks.TryUpdate(ctx, item.Key, model.EncodeHealthCheck(result), witness); err != nil {
		return err
	}
	if _, err := sched.TryRemove(ctx, model.TickKey(item.ExecutionTicks)); err != nil {
		return err
	}
	next := model.ToTicks(result.LastAttempt.Add(result.Frequency))
	_, err = addScheduledItem(ctx, sched, next, item.Key)
	return err
}

// addScheduledItem inserts a schedule entry at ticks, bumping the tick
// by one on key collisions. Two items never share an execution tick.
func addScheduledItem(ctx context.Context, sched store.Map, ticks int64, key string) (int64, error) {
	for attempt := 0; attempt < scheduleAttempts; attempt++ {
		item := model.ScheduledItem{ExecutionTicks: ticks, Key: key}
		ok, err := sched.TryAdd(ctx, model.TickKey(ticks), model.EncodeScheduledItem(&item))
		if err != nil {
			return 0, err
		}
		if ok {
			return ticks, nil
		}
		ticks++
	}
	return 0, store.NewError(store.ClassTransient, "no free schedule slot for "+key, nil)
}

// removeScheduledFor deletes every live schedule entry pointing at key.
func removeScheduledFor(ctx context.Context, sched store.Map, key string) error {
	var stale []string
	var decodeErr error
	err := sched.Ascend(ctx, "", func(kv store.KV) bool {
		item, err := model.DecodeScheduledItem(kv.Value)
		if err != nil {
			decodeErr = err
			return false
		}
		if item.Key == key {
			stale = append(stale, kv.Key)
		}
		return true
	})
	if err != nil {
		return err
	}
	if decodeErr != nil {
		return store.NewError(store.ClassFatal, "corrupt scheduled item", decodeErr)
	}
	for _, k := range stale {
		if _, err := sched.TryRemove(ctx, k); err != nil {
			return err
		}
	}
	return nil
}
