package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp moves the test into an empty directory so the default
// discovery locations cannot pick up a stray config file.
func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestDefaults(t *testing.T) {
	chdirTemp(t)

	_, cfg, err := NewLoader("")
	require.NoError(t, err)

	assert.Equal(t, []string{"localhost:2379"}, cfg.Etcd.Endpoints)
	assert.Equal(t, 5*time.Second, cfg.Etcd.DialTimeout)
	assert.Equal(t, "http://localhost:19080", cfg.Platform.Endpoint)
	assert.Equal(t, "0.0.0.0", cfg.API.ListenAddress)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, "info", cfg.Log.Level)

	assert.Equal(t, 5*time.Minute, cfg.Watchdog.HealthCheckInterval)
	assert.Equal(t, 5*time.Minute, cfg.Watchdog.MetricInterval)
	assert.Equal(t, 2*time.Minute, cfg.Watchdog.DiagnosticInterval)
	assert.Equal(t, 10*24*time.Hour, cfg.Watchdog.DiagnosticTimeToKeep)
	assert.Equal(t, 8000, cfg.Watchdog.DiagnosticTargetCount)
	assert.Empty(t, cfg.Watchdog.DiagnosticEndpoint)
	assert.Equal(t, 60*time.Second, cfg.Watchdog.WatchdogHealthReportInterval)
	assert.Empty(t, cfg.Watchdog.TelemetryKey)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
etcd:
  endpoints:
    - etcd-0:2379
    - etcd-1:2379
platform:
  endpoint: http://cluster:19080
api:
  port: 9090
watchdog:
  health_check_interval: 30s
  diagnostic_target_count: 500
  telemetry_key: ikey-123
`), 0o600))

	_, cfg, err := NewLoader(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"etcd-0:2379", "etcd-1:2379"}, cfg.Etcd.Endpoints)
	assert.Equal(t, "http://cluster:19080", cfg.Platform.Endpoint)
	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, 30*time.Second, cfg.Watchdog.HealthCheckInterval)
	assert.Equal(t, 500, cfg.Watchdog.DiagnosticTargetCount)
	assert.Equal(t, "ikey-123", cfg.Watchdog.TelemetryKey)

	// Unset keys keep their defaults.
	assert.Equal(t, 5*time.Minute, cfg.Watchdog.MetricInterval)
}

func TestMissingExplicitFileIsError(t *testing.T) {
	_, _, err := NewLoader(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvironmentOverride(t *testing.T) {
	chdirTemp(t)
	t.Setenv("WATCHDOG_WATCHDOG_HEALTH_CHECK_INTERVAL", "90s")
	t.Setenv("WATCHDOG_API_PORT", "9999")

	_, cfg, err := NewLoader("")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Watchdog.HealthCheckInterval)
	assert.Equal(t, 9999, cfg.API.Port)
}

func TestOnChangeCallbacksReceiveReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("watchdog:\n  health_check_interval: 30s\n"), 0o600))

	loader, cfg, err := NewLoader(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Watchdog.HealthCheckInterval)

	got := make(chan *Config, 1)
	loader.OnChange(func(c *Config) { got <- c })
	loader.Watch()

	require.NoError(t, os.WriteFile(path, []byte("watchdog:\n  health_check_interval: 45s\n"), 0o600))

	select {
	case c := <-got:
		assert.Equal(t, 45*time.Second, c.Watchdog.HealthCheckInterval)
	case <-time.After(5 * time.Second):
		t.Fatal("reload callback not invoked")
	}
}
