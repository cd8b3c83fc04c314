package platform

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Error classes a client implementation must surface so engine retry
// policy can tell a retryable fault from a terminal one.
var (
	// ErrNotFound means the addressed entity does not exist.
	ErrNotFound = errors.New("platform: not found")
	// ErrTransient covers timeouts, throttling and role transfers.
	ErrTransient = errors.New("platform: transient fault")
	// ErrClosed means the underlying client handle is no longer
	// usable and must be refreshed.
	ErrClosed = errors.New("platform: client closed")
)

// HealthReport is one health event published for a partition.
type HealthReport struct {
	Source      string
	Property    string
	State       HealthState
	Description string
	TTL         time.Duration
	// RemoveWhenExpired drops the event instead of flagging Error
	// when the TTL lapses.
	RemoveWhenExpired bool
}

// Client is the host-platform surface the watchdog depends on.
type Client interface {
	// ServiceExists reports whether serviceName (and, when non-nil,
	// the given partition of it) exists in the cluster.
	ServiceExists(ctx context.Context, serviceName string, partition uuid.UUID) (bool, error)

	// FindPartition locates a partition by id anywhere in the
	// cluster. A nil result with nil error means the partition is
	// gone.
	FindPartition(ctx context.Context, id uuid.UUID) (*Partition, error)

	// ResolveEndpoint resolves the current endpoints of a service
	// partition addressed by partition key.
	ResolveEndpoint(ctx context.Context, serviceName string, key PartitionKey) (*ResolvedEndpoint, error)

	// ReportPartitionHealth publishes a health event against a
	// partition.
	ReportPartitionHealth(ctx context.Context, partitionID uuid.UUID, report HealthReport) error

	// ReportLoad publishes this replica's own load values.
	ReportLoad(ctx context.Context, values []LoadValue) error

	// ClusterHealth obtains the cluster roll-up within timeout.
	ClusterHealth(ctx context.Context, timeout time.Duration) (*ClusterHealth, error)

	PartitionLoad(ctx context.Context, id uuid.UUID) (*PartitionLoad, error)
	ReplicaLoad(ctx context.Context, partitionID uuid.UUID, replicaID int64) (*ReplicaLoad, error)
	AppLoad(ctx context.Context, application string) (*ApplicationLoad, error)

	// PartitionList enumerates the partitions of a service, one page
	// per call.
	PartitionList(ctx context.Context, serviceName string, continuation string) (*PartitionPage, error)

	// ReplicaList enumerates the replicas of a partition, one page
	// per call.
	ReplicaList(ctx context.Context, partitionID uuid.UUID, continuation string) (*ReplicaPage, error)

	Close() error
}

// PartitionKeyKind tags the variants of PartitionKey.
type PartitionKeyKind int

const (
	KeyNone PartitionKeyKind = iota
	KeyInt64
	KeyString
)

// PartitionKey addresses one partition during endpoint resolution.
// Singleton partitions use KeyNone, int64-range partitions the low
// key, named partitions the name.
type PartitionKey struct {
	Kind   PartitionKeyKind
	Int64  int64
	String string
}

// KeyForPartition derives the resolution key from a partition's kind.
func KeyForPartition(p *Partition) (PartitionKey, error) {
	switch p.Kind {
	case PartitionKindSingleton:
		return PartitionKey{Kind: KeyNone}, nil
	case PartitionKindInt64Range:
		return PartitionKey{Kind: KeyInt64, Int64: p.LowKey}, nil
	case PartitionKindNamed:
		return PartitionKey{Kind: KeyString, String: p.Name}, nil
	}
	return PartitionKey{}, errors.New("platform: unknown partition kind")
}
