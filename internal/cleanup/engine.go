// Package cleanup ages old diagnostic records out of the external
// table store in partition-key batches.
package cleanup

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/logger"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/platform"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/tablestore"
)

const (
	// MaximumBatchSize is the largest delete batch the store accepts.
	MaximumBatchSize = 100
	// DefaultTargetCount bounds deletions per tick when the
	// configured target is unset.
	DefaultTargetCount = 5000

	// batchPause throttles consecutive batch submissions.
	batchPause     = 100 * time.Millisecond
	serverTimeout  = 5 * time.Second
	overallTimeout = 60 * time.Second
	retryBase      = time.Second
	batchRetries   = 3
)

// diagnosticTables are the tables aged out on every tick.
var diagnosticTables = []string{
	"WADPerformanceCountersTable",
	"WADDiagnosticInfrastructureLogsTable",
	"WADWindowsEventLogsTable",
}

// Settings is the cleanup slice of the watchdog configuration,
// re-read on every tick so hot reloads apply without restart.
type Settings struct {
	Endpoint    string
	SasToken    string
	TimeToKeep  time.Duration
	TargetCount int
}

// StoreFactory opens a table store for the configured endpoint.
type StoreFactory func(endpoint, sasToken string) (tablestore.Store, error)

// Engine deletes aged diagnostic rows.
type Engine struct {
	settings func() Settings
	factory  StoreFactory
	log      logger.Logger

	state int32

	now       func() time.Time
	pause     func(ctx context.Context, d time.Duration)
	retryBase time.Duration
}

// New builds the engine. settings is consulted on every tick.
func New(settings func() Settings, factory StoreFactory, log logger.Logger) *Engine {
	return &Engine{
		settings:  settings,
		factory:   factory,
		log:       log,
		state:     int32(platform.HealthOk),
		now:       time.Now,
		pause:     sleepCtx,
		retryBase: retryBase,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// State returns the engine's current health.
func (e *Engine) State() platform.HealthState {
	return platform.HealthState(atomic.LoadInt32(&e.state))
}

func (e *Engine) setState(s platform.HealthState) {
	atomic.StoreInt32(&e.state, int32(s))
}

// Tick runs one cleanup pass. An unconfigured endpoint or token makes
// the tick a no-op; storage failures mark the engine unhealthy and are
// retried next tick.
func (e *Engine) Tick(ctx context.Context) error {
	cfg := e.settings()
	if cfg.Endpoint == "" || cfg.SasToken == "" {
		return nil
	}

	ts, err := e.factory(cfg.Endpoint, cfg.SasToken)
	if err != nil {
		e.setState(platform.HealthError)
		e.log.Error("table store unavailable", zap.Error(err))
		return nil
	}

	target := cfg.TargetCount
	if target <= 0 {
		target = DefaultTargetCount
	}
	cutoff := e.now().Add(-cfg.TimeToKeep)

	total := 0
	for _, table := range diagnosticTables {
		deleted, err := e.cleanTable(ctx, ts, table, cutoff, target-total)
		total += deleted
		if err != nil {
			e.setState(platform.HealthError)
			e.log.Error("cleanup failed", zap.String("table", table),
				zap.Int("deleted", total), zap.Error(err))
			return nil
		}
		if total >= target {
			break
		}
	}

	e.log.Info("cleanup pass complete", zap.Int("deleted", total))
	e.setState(platform.HealthOk)
	return nil
}

// cleanTable deletes up to target aged rows of one table. It stops at
// the end of the result set or when the target is reached.
func (e *Engine) cleanTable(ctx context.Context, ts tablestore.Store, table string, cutoff time.Time, target int) (int, error) {
	if target <= 0 {
		return 0, nil
	}
	exists, err := ts.TableExists(ctx, table)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	deleted := 0
	continuation := ""
	for {
		rows, next, err := ts.QueryByTimestamp(ctx, table, cutoff, continuation)
		if err != nil {
			return deleted, err
		}

		for _, batch := range partitionBatches(rows) {
			n, err := e.submitBatch(ctx, ts, table, batch)
			deleted += n
			if err != nil {
				return deleted, err
			}
			if deleted >= target {
				return deleted, nil
			}
			e.pause(ctx, batchPause)
		}

		if next == "" {
			return deleted, nil
		}
		continuation = next
	}
}

// partitionBatches groups rows by partition key into batches of at
// most MaximumBatchSize, preserving the query order within each key.
func partitionBatches(rows []tablestore.Row) [][]tablestore.Row {
	grouped := make(map[string][]tablestore.Row)
	var order []string
	for _, row := range rows {
		if _, seen := grouped[row.PartitionKey]; !seen {
			order = append(order, row.PartitionKey)
		}
		grouped[row.PartitionKey] = append(grouped[row.PartitionKey], row)
	}

	var batches [][]tablestore.Row
	for _, pk := range order {
		group := grouped[pk]
		for len(group) > MaximumBatchSize {
			batches = append(batches, group[:MaximumBatchSize])
			group = group[MaximumBatchSize:]
		}
		if len(group) > 0 {
			batches = append(batches, group)
		}
	}
	return batches
}

// submitBatch deletes one partition-key batch with exponential retry.
// A ResourceNotFound result names the offending row, which is removed
// before resubmitting; an unparseable or out-of-range index abandons
// the batch.
func (e *Engine) submitBatch(ctx context.Context, ts tablestore.Store, table string, rows []tablestore.Row) (int, error) {
	overallCtx, cancel := context.WithTimeout(ctx, overallTimeout)
	defer cancel()

	opts := tablestore.BatchOptions{
		ServerTimeout:  serverTimeout,
		OverallTimeout: overallTimeout,
	}

	for len(rows) > 0 {
		var results []tablestore.BatchResult
		op := func() error {
			opCtx, opCancel := context.WithTimeout(overallCtx, serverTimeout)
			defer opCancel()
			var err error
			results, err = ts.BatchDelete(opCtx, table, rows, opts)
			return err
		}
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = e.retryBase
		policy := backoff.WithContext(backoff.WithMaxRetries(bo, batchRetries), overallCtx)
		if err := backoff.Retry(op, policy); err != nil {
			return 0, err
		}

		repaired := false
		for _, r := range results {
			if r.Succeeded() {
				continue
			}
			idx, ok := r.FailedIndex()
			if !ok || idx < 0 || idx >= len(rows) {
				return 0, fmt.Errorf("batch abandoned on %s result %d: %s", table, r.Status, r.Code)
			}
			rows = append(rows[:idx], rows[idx+1:]...)
			repaired = true
			break
		}
		if !repaired {
			return len(rows), nil
		}
	}
	return 0, nil
}
