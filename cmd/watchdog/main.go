package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/api"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/config"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/logger"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/platform"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/store"
	etcdstore "github.com/Azure-Samples/service-fabric-watchdog-service/internal/store/etcd"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/store/memory"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/tablestore"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/telemetry"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/watchdog"
)

var (
	configFile  string
	memoryStore bool
)

func init() {
	flag.StringVar(&configFile, "config", "", "path to the configuration file")
	flag.BoolVar(&memoryStore, "memory", false, "use the in-memory store instead of etcd")
}

func main() {
	flag.Parse()

	loader, cfg, err := config.NewLoader(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Development, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialize logger: %v\n", err)
		os.Exit(1)
	}

	var st store.Store
	if memoryStore {
		st = memory.New()
	} else {
		host, _ := os.Hostname()
		st, err = etcdstore.New(etcdstore.Config{
			Endpoints:   cfg.Etcd.Endpoints,
			Username:    cfg.Etcd.Username,
			Password:    cfg.Etcd.Password,
			DialTimeout: cfg.Etcd.DialTimeout,
			InstanceID:  host,
		}, log)
		if err != nil {
			log.Fatal("connect durable store", zap.Error(err))
		}
	}

	platformEndpoint := cfg.Platform.Endpoint
	handle := platform.NewHandle(platform.NewHTTPClient(platformEndpoint), func() (platform.Client, error) {
		return platform.NewHTTPClient(platformEndpoint), nil
	})

	var sink telemetry.Sink
	var registry *prometheus.Registry
	if cfg.Watchdog.TelemetryKey != "" {
		prom := telemetry.NewPromSink()
		registry = prom.Registry()
		sink = prom
	} else {
		sink = telemetry.NewZapSink(log)
	}

	tableFactory := func(endpoint, sasToken string) (tablestore.Store, error) {
		return tablestore.NewRESTStore(endpoint, sasToken), nil
	}

	coordinator := watchdog.New(cfg, st, handle, sink, tableFactory, log)
	loader.OnChange(coordinator.ApplyConfig)
	loader.Watch()

	server := api.NewServer(coordinator, registry, cfg.API.ListenAddress, cfg.API.Port, log)
	server.Start()

	selfURL := fmt.Sprintf("http://localhost:%d", cfg.API.Port)
	coordinator.SetEndpoints([]string{selfURL})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := coordinator.Open(ctx); err != nil {
		log.Fatal("open coordinator", zap.Error(err))
	}

	// The watchdog watches itself: register its own health endpoint
	// once the listener is up. Best effort, the cluster may not know
	// the watchdog service yet.
	go func() {
		if err := coordinator.RegisterSelf(ctx, selfURL); err != nil {
			log.Warn("self registration failed", zap.Error(err))
		}
	}()

	log.Info("watchdog started", zap.String("listen", selfURL))
	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("listener shutdown failed", zap.Error(err))
	}
	coordinator.Close(shutdownCtx)
	st.Close()
	handle.Close()
}
