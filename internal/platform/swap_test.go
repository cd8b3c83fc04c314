package platform

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubClient is the minimal Client used by the handle tests.
type stubClient struct {
	id     int
	mu     sync.Mutex
	closed bool
}

func (c *stubClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *stubClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *stubClient) ServiceExists(context.Context, string, uuid.UUID) (bool, error) {
	return false, nil
}
func (c *stubClient) FindPartition(context.Context, uuid.UUID) (*Partition, error) { return nil, nil }
func (c *stubClient) ResolveEndpoint(context.Context, string, PartitionKey) (*ResolvedEndpoint, error) {
	return nil, nil
}
func (c *stubClient) ReportPartitionHealth(context.Context, uuid.UUID, HealthReport) error {
	return nil
}
func (c *stubClient) ReportLoad(context.Context, []LoadValue) error { return nil }
func (c *stubClient) ClusterHealth(context.Context, time.Duration) (*ClusterHealth, error) {
	return nil, nil
}
func (c *stubClient) PartitionLoad(context.Context, uuid.UUID) (*PartitionLoad, error) {
	return nil, nil
}
func (c *stubClient) ReplicaLoad(context.Context, uuid.UUID, int64) (*ReplicaLoad, error) {
	return nil, nil
}
func (c *stubClient) AppLoad(context.Context, string) (*ApplicationLoad, error) { return nil, nil }
func (c *stubClient) PartitionList(context.Context, string, string) (*PartitionPage, error) {
	return nil, nil
}
func (c *stubClient) ReplicaList(context.Context, uuid.UUID, string) (*ReplicaPage, error) {
	return nil, nil
}

func TestHandleRefreshSwapsAndClosesOld(t *testing.T) {
	first := &stubClient{id: 1}
	second := &stubClient{id: 2}
	h := NewHandle(first, func() (Client, error) { return second, nil })

	assert.Same(t, Client(first), h.Client())

	got, err := h.Refresh()
	require.NoError(t, err)
	assert.Same(t, Client(second), got)
	assert.Same(t, Client(second), h.Client())
	assert.True(t, first.isClosed())
	assert.False(t, second.isClosed())
}

func TestHandleRefreshWithoutFactoryKeepsClient(t *testing.T) {
	first := &stubClient{id: 1}
	h := NewHandle(first, nil)

	got, err := h.Refresh()
	require.NoError(t, err)
	assert.Same(t, Client(first), got)
	assert.False(t, first.isClosed())
}

func TestHandleRefreshFactoryFailure(t *testing.T) {
	first := &stubClient{id: 1}
	h := NewHandle(first, func() (Client, error) { return nil, errors.New("dial failed") })

	_, err := h.Refresh()
	require.Error(t, err)
	assert.Same(t, Client(first), h.Client())
}

func TestHandleConcurrentRefreshClosesLoser(t *testing.T) {
	first := &stubClient{id: 1}
	var built []*stubClient
	var mu sync.Mutex
	h := NewHandle(first, func() (Client, error) {
		mu.Lock()
		defer mu.Unlock()
		c := &stubClient{id: len(built) + 2}
		built = append(built, c)
		return c, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.Refresh()
		}()
	}
	wg.Wait()

	// Exactly one built client survives uninstalled and open: the one
	// the handle currently holds.
	current := h.Client().(*stubClient)
	open := 0
	mu.Lock()
	for _, c := range built {
		if !c.isClosed() {
			open++
			assert.Same(t, current, c)
		}
	}
	mu.Unlock()
	assert.Equal(t, 1, open)
	assert.True(t, first.isClosed())
}
