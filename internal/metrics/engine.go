// Package metrics pulls load data from the platform for every
// registered subscription and publishes it to the telemetry sink.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/logger"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/model"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/platform"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/store"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/telemetry"
)

// pageRetries is the retry budget of each paged platform call.
const pageRetries = 5

// Engine harvests load metrics for registered subscriptions.
type Engine struct {
	store  store.Store
	handle *platform.Handle
	sink   telemetry.Sink
	log    logger.Logger

	observed int64
	state    int32
}

// New builds the engine.
func New(st store.Store, handle *platform.Handle, sink telemetry.Sink, log logger.Logger) *Engine {
	return &Engine{
		store:  st,
		handle: handle,
		sink:   sink,
		log:    log,
		state:  int32(platform.HealthOk),
	}
}

// ObservedCount returns the cumulative number of metric values
// published since start.
func (e *Engine) ObservedCount() int64 { return atomic.LoadInt64(&e.observed) }

// State returns the engine's current health.
func (e *Engine) State() platform.HealthState {
	return platform.HealthState(atomic.LoadInt32(&e.state))
}

func (e *Engine) setState(s platform.HealthState) {
	atomic.StoreInt32(&e.state, int32(s))
}

// Register upserts a subscription. A platform handle that went stale
// underneath the caller is refreshed and the registration reported as
// success; the caller retries externally.
func (e *Engine) Register(ctx context.Context, mc *model.MetricCheck) error {
	if err := mc.Validate(); err != nil {
		return store.NewError(store.ClassInvalidArgument, err.Error(), nil)
	}

	err := e.persist(ctx, mc)
	if errors.Is(err, platform.ErrClosed) {
		if _, rerr := e.handle.Refresh(); rerr != nil {
			e.log.Warn("platform client refresh failed", zap.Error(rerr))
		}
		return nil
	}
	return err
}

func (e *Engine) persist(ctx context.Context, mc *model.MetricCheck) error {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Discard()

	if err := tx.Map(store.MapMetricChecks).AddOrUpdate(ctx, mc.Key(), model.EncodeMetricCheck(mc)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// List returns an ordered snapshot of the subscriptions whose keys
// match the filter prefix.
func (e *Engine) List(ctx context.Context, application, service, partition string) ([]model.MetricCheck, error) {
	if e.store.ReadStatus() != store.AccessGranted {
		return nil, store.NewError(store.ClassNotPrimary, "read access not granted", nil)
	}
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Discard()

	prefix := model.MetricFilterPrefix(application, service, partition)
	var out []model.MetricCheck
	var decodeErr error
	err = tx.Map(store.MapMetricChecks).Ascend(ctx, prefix, func(kv store.KV) bool {
		mc, err := model.DecodeMetricCheck(kv.Value)
		if err != nil {
			decodeErr = err
			return false
		}
		out = append(out, *mc)
		return true
	})
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, store.NewError(store.ClassFatal, "corrupt metric check record", decodeErr)
	}
	return out, nil
}

// Tick harvests every subscription once.
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

	var subs []model.MetricCheck
	var decodeErr error
	err = tx.Map(store.MapMetricChecks).Ascend(ctx, "", func(kv store.KV) bool {
		mc, err := model.DecodeMetricCheck(kv.Value)
		if err != nil {
			decodeErr = err
			return false
		}
		subs = append(subs, *mc)
		return true
	})
	if err != nil {
		if store.IsNotPrimary(err) {
			return nil
		}
		if store.IsTransient(err) {
			e.log.Warn("metric tick hit a transient fault, will retry", zap.Error(err))
			return nil
		}
		e.setState(platform.HealthError)
		return err
	}
	if decodeErr != nil {
		e.setState(platform.HealthError)
		return store.NewError(store.ClassFatal, "corrupt metric check record", decodeErr)
	}

	for i := range subs {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if ok := e.harvest(ctx, &subs[i]); !ok {
			e.log.Warn("metric subscription harvest incomplete", zap.String("key", subs[i].Key()))
		}
	}
	e.setState(platform.HealthOk)
	return nil
}

// harvest dispatches one subscription by scope. It returns false when
// the harvest ended early (gone target, exhausted retries).
func (e *Engine) harvest(ctx context.Context, mc *model.MetricCheck) bool {
	switch {
	case mc.Service != "" && mc.Partition != uuid.Nil:
		return e.harvestPartition(ctx, mc)
	case mc.Service != "":
		return e.harvestService(ctx, mc)
	}
	return e.harvestApplication(ctx, mc)
}

func (e *Engine) harvestPartition(ctx context.Context, mc *model.MetricCheck) bool {
	load, err := e.handle.Client().PartitionLoad(ctx, mc.Partition)
	if err != nil {
		e.log.Warn("partition load failed", zap.String("key", mc.Key()), zap.Error(err))
		return false
	}
	for _, lv := range load.PrimaryLoad {
		e.emit(ctx, mc.Service, model.PartitionString(mc.Partition), lv.Name, lv.Value)
	}
	return true
}

func (e *Engine) harvestService(ctx context.Context, mc *model.MetricCheck) bool {
	serviceURI := fmt.Sprintf("fabric:/%s/%s", mc.Application, mc.Service)
	partitions, ok := e.listPartitions(ctx, serviceURI)
	if !ok {
		return false
	}
	complete := true
	for i := range partitions {
		part := &partitions[i]
		if part.Status != platform.PartitionStatusReady {
			continue
		}
		replicas, ok := e.listReplicas(ctx, part.ID)
		if !ok {
			complete = false
			continue
		}
		for _, r := range replicas {
			if r.Status != platform.ReplicaStatusReady {
				continue
			}
			load, err := e.handle.Client().ReplicaLoad(ctx, part.ID, r.ID)
			if err != nil {
				e.log.Warn("replica load failed",
					zap.String("partition", part.ID.String()),
					zap.Int64("replica", r.ID), zap.Error(err))
				complete = false
				continue
			}
			for _, lv := range load.Load {
				if mc.WantsMetric(lv.Name) {
					e.emit(ctx, mc.Service, strconv.FormatInt(r.ID, 10), lv.Name, lv.Value)
				}
			}
		}
	}
	return complete
}

func (e *Engine) harvestApplication(ctx context.Context, mc *model.MetricCheck) bool {
	load, err := e.handle.Client().AppLoad(ctx, mc.Application)
	if err != nil {
		e.log.Warn("application load failed", zap.String("key", mc.Key()), zap.Error(err))
		return false
	}
	for _, lv := range load.Load {
		if mc.WantsMetric(lv.Name) {
			e.emit(ctx, mc.Application, "", lv.Name, lv.Value)
		}
	}
	return true
}

// listPartitions walks the partition enumeration. Each page gets an
// independent retry budget; exhausting it yields the pages collected
// so far. A gone service ends the walk with ok=false.
func (e *Engine) listPartitions(ctx context.Context, serviceURI string) ([]platform.Partition, bool) {
	var out []platform.Partition
	continuation := ""
	for {
		page, err := e.pagedPartitions(ctx, serviceURI, continuation)
		if err != nil {
			if errors.Is(err, platform.ErrNotFound) {
				return nil, false
			}
			return out, true
		}
		out = append(out, page.Partitions...)
		if page.ContinuationToken == "" {
			return out, true
		}
		continuation = page.ContinuationToken
	}
}

func (e *Engine) pagedPartitions(ctx context.Context, serviceURI, continuation string) (*platform.PartitionPage, error) {
	var lastErr error
	for attempt := 0; attempt < pageRetries; attempt++ {
		page, err := e.handle.Client().PartitionList(ctx, serviceURI, continuation)
		if err == nil {
			return page, nil
		}
		if errors.Is(err, platform.ErrNotFound) {
			return nil, err
		}
		if errors.Is(err, platform.ErrClosed) {
			if _, rerr := e.handle.Refresh(); rerr != nil {
				e.log.Warn("platform client refresh failed", zap.Error(rerr))
			}
		}
		lastErr = err
	}
	e.log.Warn("partition enumeration gave up", zap.String("service", serviceURI), zap.Error(lastErr))
	return nil, lastErr
}

func (e *Engine) listReplicas(ctx context.Context, partitionID uuid.UUID) ([]platform.Replica, bool) {
	var out []platform.Replica
	continuation := ""
	for {
		page, err := e.pagedReplicas(ctx, partitionID, continuation)
		if err != nil {
			if errors.Is(err, platform.ErrNotFound) {
				return nil, false
			}
			return out, true
		}
		out = append(out, page.Replicas...)
		if page.ContinuationToken == "" {
			return out, true
		}
		continuation = page.ContinuationToken
	}
}

func (e *Engine) pagedReplicas(ctx context.Context, partitionID uuid.UUID, continuation string) (*platform.ReplicaPage, error) {
	var lastErr error
	for attempt := 0; attempt < pageRetries; attempt++ {
		page, err := e.handle.Client().ReplicaList(ctx, partitionID, continuation)
		if err == nil {
			return page, nil
		}
		if errors.Is(err, platform.ErrNotFound) {
			return nil, err
		}
		if errors.Is(err, platform.ErrClosed) {
			if _, rerr := e.handle.Refresh(); rerr != nil {
				e.log.Warn("platform client refresh failed", zap.Error(rerr))
			}
		}
		lastErr = err
	}
	e.log.Warn("replica enumeration gave up", zap.String("partition", partitionID.String()), zap.Error(lastErr))
	return nil, lastErr
}

func (e *Engine) emit(ctx context.Context, role, instance, name string, value int64) {
	if err := e.sink.ReportMetric(ctx, role, instance, name, value); err != nil {
		e.log.Warn("metric report failed", zap.String("name", name), zap.Error(err))
		return
	}
	atomic.AddInt64(&e.observed, 1)
}
