// Package store defines the transactional ordered key-value facade the
// watchdog engines persist through. Two implementations exist: an
// etcd-backed store for cluster deployments and an in-memory store with
// identical transaction semantics for tests and single-node runs.
package store

import "context"

// AccessStatus gates engine ticks. Engines must observe Granted on both
// ReadStatus and WriteStatus before touching state; anything else makes
// the tick a no-op.
type AccessStatus int

const (
	AccessGranted AccessStatus = iota
	AccessReconfiguring
	AccessNotReady
	AccessNotPrimary
)

func (s AccessStatus) String() string {
	switch s {
	case AccessGranted:
		return "granted"
	case AccessReconfiguring:
		return "reconfiguring"
	case AccessNotReady:
		return "not-ready"
	case AccessNotPrimary:
		return "not-primary"
	}
	return "unknown"
}

// AccessMode selects the lock strength of a read.
type AccessMode int

const (
	// ModeRead takes a shared read.
	ModeRead AccessMode = iota
	// ModeUpdate pins the read for a later write in the same
	// transaction; a concurrent commit to the key fails this
	// transaction with a transient conflict instead of losing a write.
	ModeUpdate
)

// KV is one entry of an ordered map.
type KV struct {
	Key   string
	Value []byte
}

// Map is an ordered string-keyed map scoped to one transaction.
// Numeric keys (the schedule) are stored as fixed-width decimal strings
// so lexicographic iteration equals numeric iteration.
type Map interface {
	// TryAdd inserts key if absent. Returns false when the key exists.
	TryAdd(ctx context.Context, key string, value []byte) (bool, error)

	// AddOrUpdate writes key unconditionally.
	AddOrUpdate(ctx context.Context, key string, value []byte) error

	// TryGet reads key. ok is false when the key is absent.
	TryGet(ctx context.Context, key string, mode AccessMode) (value []byte, ok bool, err error)

	// TryUpdate writes value only if the stored bytes equal witness.
	TryUpdate(ctx context.Context, key string, value, witness []byte) (bool, error)

	// TryRemove deletes key. Returns false when the key is absent.
	TryRemove(ctx context.Context, key string) (bool, error)

	// Ascend streams entries in ascending key order, restricted to keys
	// with the given prefix (empty prefix matches all). Iteration stops
	// when fn returns false.
	Ascend(ctx context.Context, prefix string, fn func(kv KV) bool) error
}

// Tx is a transaction handle. Commit applies every buffered mutation
// atomically or fails with a transient conflict; Discard on any exit
// path without Commit drops the buffer. Discard after Commit is a no-op,
// so `defer tx.Discard()` is the idiomatic usage.
type Tx interface {
	Map(name string) Map
	Commit(ctx context.Context) error
	Discard()
}

// Store hands out transactions and reports replica access status.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	ReadStatus() AccessStatus
	WriteStatus() AccessStatus

	// OnRoleChange registers a callback invoked when this replica gains
	// or loses primacy. Callbacks run on the store's watcher goroutine.
	OnRoleChange(fn func(primary bool))

	Close() error
}

// Names of the three durable maps.
const (
	MapHealthChecks = "healthchecks"
	MapSchedule     = "schedule"
	MapMetricChecks = "metricchecks"
)
