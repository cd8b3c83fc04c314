// Package platformtest provides a configurable platform.Client double
// for engine and handler tests.
package platformtest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/platform"
)

// ReportedHealth is one captured ReportPartitionHealth call.
type ReportedHealth struct {
	PartitionID uuid.UUID
	Report      platform.HealthReport
}

// Client implements platform.Client. Unset function fields fall back
// to permissive defaults: every service exists, every partition is a
// ready singleton, enumerations are empty.
type Client struct {
	ServiceExistsFn   func(ctx context.Context, serviceName string, partition uuid.UUID) (bool, error)
	FindPartitionFn   func(ctx context.Context, id uuid.UUID) (*platform.Partition, error)
	ResolveEndpointFn func(ctx context.Context, serviceName string, key platform.PartitionKey) (*platform.ResolvedEndpoint, error)
	PartitionLoadFn   func(ctx context.Context, id uuid.UUID) (*platform.PartitionLoad, error)
	ReplicaLoadFn     func(ctx context.Context, partitionID uuid.UUID, replicaID int64) (*platform.ReplicaLoad, error)
	AppLoadFn         func(ctx context.Context, application string) (*platform.ApplicationLoad, error)
	PartitionListFn   func(ctx context.Context, serviceName string, continuation string) (*platform.PartitionPage, error)
	ReplicaListFn     func(ctx context.Context, partitionID uuid.UUID, continuation string) (*platform.ReplicaPage, error)
	ClusterHealthFn   func(ctx context.Context, timeout time.Duration) (*platform.ClusterHealth, error)

	mu            sync.Mutex
	healthReports []ReportedHealth
	loadReports   [][]platform.LoadValue
	closed        bool
}

func (c *Client) ServiceExists(ctx context.Context, serviceName string, partition uuid.UUID) (bool, error) {
	if c.ServiceExistsFn != nil {
		return c.ServiceExistsFn(ctx, serviceName, partition)
	}
	return true, nil
}

func (c *Client) FindPartition(ctx context.Context, id uuid.UUID) (*platform.Partition, error) {
	if c.FindPartitionFn != nil {
		return c.FindPartitionFn(ctx, id)
	}
	return &platform.Partition{
		ID:     id,
		Kind:   platform.PartitionKindSingleton,
		Status: platform.PartitionStatusReady,
	}, nil
}

func (c *Client) ResolveEndpoint(ctx context.Context, serviceName string, key platform.PartitionKey) (*platform.ResolvedEndpoint, error) {
	if c.ResolveEndpointFn != nil {
		return c.ResolveEndpointFn(ctx, serviceName, key)
	}
	return &platform.ResolvedEndpoint{}, nil
}

func (c *Client) ReportPartitionHealth(ctx context.Context, partitionID uuid.UUID, report platform.HealthReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthReports = append(c.healthReports, ReportedHealth{PartitionID: partitionID, Report: report})
	return nil
}

func (c *Client) ReportLoad(ctx context.Context, values []platform.LoadValue) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadReports = append(c.loadReports, values)
	return nil
}

func (c *Client) ClusterHealth(ctx context.Context, timeout time.Duration) (*platform.ClusterHealth, error) {
	if c.ClusterHealthFn != nil {
		return c.ClusterHealthFn(ctx, timeout)
	}
	return &platform.ClusterHealth{AggregatedState: platform.HealthOk}, nil
}

func (c *Client) PartitionLoad(ctx context.Context, id uuid.UUID) (*platform.PartitionLoad, error) {
	if c.PartitionLoadFn != nil {
		return c.PartitionLoadFn(ctx, id)
	}
	return &platform.PartitionLoad{}, nil
}

func (c *Client) ReplicaLoad(ctx context.Context, partitionID uuid.UUID, replicaID int64) (*platform.ReplicaLoad, error) {
	if c.ReplicaLoadFn != nil {
		return c.ReplicaLoadFn(ctx, partitionID, replicaID)
	}
	return &platform.ReplicaLoad{}, nil
}

func (c *Client) AppLoad(ctx context.Context, application string) (*platform.ApplicationLoad, error) {
	if c.AppLoadFn != nil {
		return c.AppLoadFn(ctx, application)
	}
	return &platform.ApplicationLoad{}, nil
}

func (c *Client) PartitionList(ctx context.Context, serviceName string, continuation string) (*platform.PartitionPage, error) {
	if c.PartitionListFn != nil {
		return c.PartitionListFn(ctx, serviceName, continuation)
	}
	return &platform.PartitionPage{}, nil
}

func (c *Client) ReplicaList(ctx context.Context, partitionID uuid.UUID, continuation string) (*platform.ReplicaPage, error) {
	if c.ReplicaListFn != nil {
		return c.ReplicaListFn(ctx, partitionID, continuation)
	}
	return &platform.ReplicaPage{}, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// HealthReports returns the captured partition-health calls.
func (c *Client) HealthReports() []ReportedHealth {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ReportedHealth, len(c.healthReports))
	copy(out, c.healthReports)
	return out
}

// LoadReports returns the captured ReportLoad calls.
func (c *Client) LoadReports() [][]platform.LoadValue {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]platform.LoadValue, len(c.loadReports))
	copy(out, c.loadReports)
	return out
}

// IsClosed reports whether Close was called.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
