// Package config loads the watchdog configuration from file and
// environment and delivers hot reloads through the config file watcher.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the full configuration tree.
type Config struct {
	// Etcd is the durable-store connection.
	Etcd struct {
		Endpoints   []string      `mapstructure:"endpoints"`
		Username    string        `mapstructure:"username"`
		Password    string        `mapstructure:"password"`
		DialTimeout time.Duration `mapstructure:"dial_timeout"`
	} `mapstructure:"etcd"`

	// Platform is the host-platform management endpoint.
	Platform struct {
		Endpoint string `mapstructure:"endpoint"`
	} `mapstructure:"platform"`

	// API is the HTTP listener.
	API struct {
		ListenAddress string `mapstructure:"listen_address"`
		Port          int    `mapstructure:"port"`
	} `mapstructure:"api"`

	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`

	// Watchdog carries the hot-reloadable engine settings.
	Watchdog Watchdog `mapstructure:"watchdog"`
}

// Watchdog is the engine settings section. Every key can change at
// runtime; engines pick up new intervals on their next timer reset.
type Watchdog struct {
	HealthCheckInterval          time.Duration `mapstructure:"health_check_interval"`
	MetricInterval               time.Duration `mapstructure:"metric_interval"`
	DiagnosticInterval           time.Duration `mapstructure:"diagnostic_interval"`
	DiagnosticTimeToKeep         time.Duration `mapstructure:"diagnostic_time_to_keep"`
	DiagnosticTargetCount        int           `mapstructure:"diagnostic_target_count"`
	DiagnosticEndpoint           string        `mapstructure:"diagnostic_endpoint"`
	DiagnosticSasToken           string        `mapstructure:"diagnostic_sas_token"`
	WatchdogHealthReportInterval time.Duration `mapstructure:"health_report_interval"`
	TelemetryKey                 string        `mapstructure:"telemetry_key"`
}

// Loader owns the viper instance so the same source can be re-read on
// file-change events.
type Loader struct {
	v *viper.Viper

	mu       sync.Mutex
	onChange []func(*Config)
}

// NewLoader reads the configuration. An empty configPath falls back to
// the usual discovery locations; a missing file is not an error, the
// defaults apply.
func NewLoader(configPath string) (*Loader, *Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/watchdog")
	}
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("WATCHDOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	loader := &Loader{v: v}
	cfg, err := loader.unmarshal()
	if err != nil {
		return nil, nil, err
	}
	return loader, cfg, nil
}

func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// OnChange registers fn for configuration-modified events.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	l.onChange = append(l.onChange, fn)
	l.mu.Unlock()
}

// Watch starts the file watcher. Reload failures keep the previous
// configuration in effect.
func (l *Loader) Watch() {
	l.v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := l.unmarshal()
		if err != nil {
			return
		}
		l.mu.Lock()
		fns := make([]func(*Config), len(l.onChange))
		copy(fns, l.onChange)
		l.mu.Unlock()
		for _, fn := range fns {
			fn(cfg)
		}
	})
	l.v.WatchConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.username", "")
	v.SetDefault("etcd.password", "")
	v.SetDefault("etcd.dial_timeout", 5*time.Second)

	v.SetDefault("platform.endpoint", "http://localhost:19080")

	v.SetDefault("api.listen_address", "0.0.0.0")
	v.SetDefault("api.port", 8080)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("watchdog.health_check_interval", 5*time.Minute)
	v.SetDefault("watchdog.metric_interval", 5*time.Minute)
	v.SetDefault("watchdog.diagnostic_interval", 2*time.Minute)
	v.SetDefault("watchdog.diagnostic_time_to_keep", 10*24*time.Hour)
	v.SetDefault("watchdog.diagnostic_target_count", 8000)
	v.SetDefault("watchdog.diagnostic_endpoint", "")
	v.SetDefault("watchdog.diagnostic_sas_token", "")
	v.SetDefault("watchdog.health_report_interval", 60*time.Second)
	v.SetDefault("watchdog.telemetry_key", "")
}
