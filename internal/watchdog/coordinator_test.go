package watchdog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/cleanup"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/config"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/logger"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/model"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/platform"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/platform/platformtest"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/store/memory"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/tablestore"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/telemetry/telemetrytest"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Watchdog = config.Watchdog{
		HealthCheckInterval:          5 * time.Minute,
		MetricInterval:               5 * time.Minute,
		DiagnosticInterval:           2 * time.Minute,
		DiagnosticTimeToKeep:         240 * time.Hour,
		DiagnosticTargetCount:        8000,
		WatchdogHealthReportInterval: time.Minute,
	}
	return cfg
}

func newCoordinator(t *testing.T) (*Coordinator, *memory.Store, *telemetrytest.Sink) {
	t.Helper()
	st := memory.New()
	sink := &telemetrytest.Sink{}
	handle := platform.NewHandle(&platformtest.Client{}, nil)
	factory := func(endpoint, sasToken string) (tablestore.Store, error) { return nil, nil }

	c := New(testConfig(), st, handle, sink, factory, logger.NewNop())
	t.Cleanup(func() { c.Close(context.Background()) })
	return c, st, sink
}

func TestNewWiresEngines(t *testing.T) {
	c, _, _ := newCoordinator(t)

	assert.NotNil(t, c.HealthEngine)
	assert.NotNil(t, c.MetricsEngine)
	assert.NotNil(t, c.CleanupEngine)
	assert.NotNil(t, c.Reporter)
	assert.NotEqual(t, [16]byte{}, [16]byte(c.PartitionID()))
}

func TestApplyConfigSwapsSettingsSnapshot(t *testing.T) {
	c, _, sink := newCoordinator(t)
	assert.Equal(t, time.Minute, c.reportInterval())

	cfg := testConfig()
	cfg.Watchdog.WatchdogHealthReportInterval = 10 * time.Second
	cfg.Watchdog.DiagnosticEndpoint = "https://diag.example.net"
	cfg.Watchdog.DiagnosticSasToken = "sv=token"
	cfg.Watchdog.TelemetryKey = "ikey"
	c.ApplyConfig(cfg)

	assert.Equal(t, 10*time.Second, c.reportInterval())
	assert.Equal(t, "ikey", sink.Key())

	s := c.cleanupSettings()
	assert.Equal(t, "https://diag.example.net", s.Endpoint)
	assert.Equal(t, "sv=token", s.SasToken)
	assert.Equal(t, 240*time.Hour, s.TimeToKeep)
	assert.Equal(t, 8000, s.TargetCount)
}

func TestCleanupSettingsTracksSnapshot(t *testing.T) {
	c, _, _ := newCoordinator(t)
	assert.Equal(t, cleanup.Settings{
		TimeToKeep:  240 * time.Hour,
		TargetCount: 8000,
	}, c.cleanupSettings())
}

func TestEndpoints(t *testing.T) {
	c, _, _ := newCoordinator(t)
	assert.Empty(t, c.Endpoints())

	c.SetEndpoints([]string{"http://localhost:8080"})
	assert.Equal(t, []string{"http://localhost:8080"}, c.Endpoints())
}

func TestOnDataLossDeclinesRestore(t *testing.T) {
	c, _, _ := newCoordinator(t)
	restored, err := c.OnDataLoss(context.Background())
	require.NoError(t, err)
	assert.False(t, restored)
}

func TestOpenIsIdempotent(t *testing.T) {
	c, _, _ := newCoordinator(t)
	ctx := context.Background()
	require.NoError(t, c.Open(ctx))
	require.NoError(t, c.Open(ctx))
}

func TestPromoteDemoteAcrossRoleChanges(t *testing.T) {
	c, st, _ := newCoordinator(t)
	require.NoError(t, c.Open(context.Background()))

	// The store starts primary, so the engine loops are running.
	c.mu.Lock()
	assert.NotNil(t, c.primaryCancel)
	c.mu.Unlock()

	st.SetPrimary(false)
	c.mu.Lock()
	assert.Nil(t, c.primaryCancel)
	c.mu.Unlock()

	st.SetPrimary(true)
	c.mu.Lock()
	assert.NotNil(t, c.primaryCancel)
	c.mu.Unlock()
}

func TestRegisterSelfPostsOwnHealthCheck(t *testing.T) {
	c, _, _ := newCoordinator(t)

	var got model.HealthCheck
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/healthcheck", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, c.RegisterSelf(context.Background(), srv.URL))
	assert.Equal(t, "WatchdogHealth", got.Name)
	assert.Equal(t, "fabric:/Watchdog/WatchdogService", got.ServiceName)
	assert.Equal(t, c.PartitionID(), got.Partition)
	assert.Equal(t, "watchdog/health", got.SuffixPath)
}

func TestRegisterSelfRetriesThenFails(t *testing.T) {
	c, _, _ := newCoordinator(t)

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := c.RegisterSelf(ctx, srv.URL)
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}
