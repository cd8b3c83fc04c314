// Package platform defines the host-platform client the watchdog
// probes and publishes through, together with the partition, replica
// and health types that cross that boundary.
package platform

import "github.com/google/uuid"

// HealthState is a health verdict. Ordering for aggregation purposes
// is Ok < Warning < Error; Invalid and Unknown are treated as
// worst-case and always replaced by a proposed state.
type HealthState int

const (
	HealthInvalid HealthState = iota
	HealthOk
	HealthWarning
	HealthError
	HealthUnknown
)

func (s HealthState) String() string {
	switch s {
	case HealthOk:
		return "Ok"
	case HealthWarning:
		return "Warning"
	case HealthError:
		return "Error"
	case HealthUnknown:
		return "Unknown"
	}
	return "Invalid"
}

// MergeHealth worsens current by proposed: Ok < Warning < Error, and
// an Invalid or Unknown current is always replaced. The result is
// always one of the two arguments.
func MergeHealth(current, proposed HealthState) HealthState {
	if current == HealthInvalid || current == HealthUnknown {
		return proposed
	}
	if rank(proposed) > rank(current) {
		return proposed
	}
	return current
}

func rank(s HealthState) int {
	switch s {
	case HealthOk:
		return 0
	case HealthWarning:
		return 1
	case HealthError:
		return 2
	}
	return -1
}

// PartitionKind determines how a partition key is derived for
// endpoint resolution.
type PartitionKind int

const (
	PartitionKindInvalid PartitionKind = iota
	PartitionKindSingleton
	PartitionKindInt64Range
	PartitionKindNamed
)

// PartitionStatus is the serving state of a partition.
type PartitionStatus int

const (
	PartitionStatusInvalid PartitionStatus = iota
	PartitionStatusReady
	PartitionStatusNotReady
	PartitionStatusInLoss
)

// Partition describes one shard of a service.
type Partition struct {
	ID     uuid.UUID
	Kind   PartitionKind
	Status PartitionStatus
	// LowKey applies to int64-range partitions, Name to named ones.
	LowKey int64
	Name   string
}

// ReplicaRole is the role of a replica within its partition.
type ReplicaRole int

const (
	RoleUnknown ReplicaRole = iota
	RolePrimary
	RoleActiveSecondary
	RoleIdleSecondary
	RoleStateless
)

// ReplicaStatus is the serving state of a replica.
type ReplicaStatus int

const (
	ReplicaStatusInvalid ReplicaStatus = iota
	ReplicaStatusReady
	ReplicaStatusDown
	ReplicaStatusStandby
)

// Replica is one running copy of a partition.
type Replica struct {
	ID     int64
	Role   ReplicaRole
	Status ReplicaStatus
}

// Listener is one named network listener of a replica endpoint.
type Listener struct {
	Name    string
	Address string
}

// ReplicaEndpoint is the resolved endpoint set of a single replica.
type ReplicaEndpoint struct {
	Role      ReplicaRole
	Listeners []Listener
}

// ResolvedEndpoint is the result of resolving a service partition.
type ResolvedEndpoint struct {
	Endpoints []ReplicaEndpoint
}

// LoadValue is one reported load metric.
type LoadValue struct {
	Name  string
	Value int64
}

// PartitionLoad carries the load reports of a partition, split by the
// reporting replica role.
type PartitionLoad struct {
	PrimaryLoad   []LoadValue
	SecondaryLoad []LoadValue
}

// ReplicaLoad carries the load reports of one replica.
type ReplicaLoad struct {
	Load []LoadValue
}

// ApplicationLoad carries application-scoped load reports.
type ApplicationLoad struct {
	Load []LoadValue
}

// PartitionPage is one page of a partition enumeration.
type PartitionPage struct {
	Partitions        []Partition
	ContinuationToken string
}

// ReplicaPage is one page of a replica enumeration.
type ReplicaPage struct {
	Replicas          []Replica
	ContinuationToken string
}

// EntityHealth is the aggregate state of a named entity in the
// cluster roll-up.
type EntityHealth struct {
	Name  string
	State HealthState
}

// ClusterHealth is the cluster-wide roll-up.
type ClusterHealth struct {
	AggregatedState HealthState
	Applications    []EntityHealth
	Nodes           []EntityHealth
}
