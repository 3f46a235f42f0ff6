package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mjasion/balena-home/dashboard/backend"
	"github.com/mjasion/balena-home/dashboard/config"
	"github.com/mjasion/balena-home/dashboard/control"
	"github.com/mjasion/balena-home/dashboard/offline"
	"github.com/mjasion/balena-home/dashboard/pkg/buffer"
	"github.com/mjasion/balena-home/dashboard/pkg/metrics"
	"github.com/mjasion/balena-home/dashboard/pkg/profiling"
	"github.com/mjasion/balena-home/dashboard/pkg/telemetry"
	"github.com/mjasion/balena-home/dashboard/pkg/types"
	"github.com/mjasion/balena-home/dashboard/poller"
	"github.com/mjasion/balena-home/dashboard/state"
	"github.com/mjasion/balena-home/dashboard/web"
	"go.uber.org/zap"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("c", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	logger, err := cfg.NewLogger()
	if err != nil {
		panic("Failed to create logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("Loading configuration", zap.String("path", *configPath))
	cfg.PrintConfig(logger)

	// Initialize Pyroscope profiling
	profiler, err := profiling.Start(&cfg.Profiling, logger)
	if err != nil {
		logger.Fatal("Failed to initialize profiler", zap.Error(err))
	}
	defer func() {
		if err := profiler.Stop(); err != nil {
			logger.Error("Error shutting down profiler", zap.Error(err))
		}
	}()

	// Initialize OpenTelemetry providers
	otelProviders, err := telemetry.InitProviders(context.Background(), &cfg.OpenTelemetry, logger)
	if err != nil {
		logger.Fatal("Failed to initialize OpenTelemetry providers", zap.Error(err))
	}
	if otelProviders != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := otelProviders.Shutdown(shutdownCtx); err != nil {
				logger.Error("Error shutting down OpenTelemetry providers", zap.Error(err))
			}
		}()
	}

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var background sync.WaitGroup

	// Backend client and state
	variant := cfg.BackendVariant()
	client, err := backend.NewClient(cfg.BackendURL, cfg.RequestTimeout(), logger.Named("backend"))
	if err != nil {
		logger.Fatal("Failed to create backend client", zap.Error(err))
	}
	store := state.NewStore(cfg.DeviceNames())

	// Optional remote_write export of readings
	var (
		buf    *buffer.RingBuffer[*types.Reading]
		pusher *metrics.Pusher
		sink   func([]*types.Reading)
	)
	if cfg.Export.Enabled {
		buf = buffer.New[*types.Reading](cfg.Export.BufferSize, logger)
		pusher = metrics.New(metrics.Config{
			URL:          cfg.Export.PrometheusURL,
			Username:     cfg.Export.PrometheusUsername,
			Password:     cfg.Export.PrometheusPassword,
			PushInterval: time.Duration(cfg.Export.PushIntervalSeconds) * time.Second,
			BatchSize:    cfg.Export.BatchSize,
		}, buf, logger.Named("pusher"))
		sink = buf.AddAll

		background.Add(1)
		go func() {
			defer background.Done()
			pusher.Start(appCtx)
		}()
	}

	// Poller
	jobs, err := poller.JobsFor(variant, client, store, cfg.PollPeriods(), client.BaseURL())
	if err != nil {
		logger.Fatal("Failed to build poll jobs", zap.Error(err))
	}
	scheduler := poller.New(store, jobs, poller.Options{
		RequestTimeout: cfg.RequestTimeout(),
		Sink:           sink,
	}, logger.Named("poller"))

	// Controller
	controller := control.New(client, store, variant, cfg.Devices, logger.Named("control"))
	if sink != nil {
		controller.WithSink(sink)
	}

	// Health
	healthChecker := metrics.NewHealthChecker(scheduler.LastSuccess, scheduler.LongestPeriod(), logger)
	if pusher != nil {
		healthChecker.WithExport(buf, pusher)
	}

	// Offline cache
	var static *offline.Cache
	if cfg.Offline.Enabled {
		cacheStore, err := offline.OpenSQLite(cfg.Offline.DBPath)
		if err != nil {
			logger.Fatal("Failed to open offline cache store", zap.Error(err), zap.String("path", cfg.Offline.DBPath))
		}
		defer func() {
			if err := cacheStore.Close(); err != nil {
				logger.Error("Error closing offline cache store", zap.Error(err))
			}
		}()

		static, err = offline.New(cfg.OfflineCacheConfig(), cacheStore, logger.Named("offline"))
		if err != nil {
			logger.Fatal("Failed to create offline cache", zap.Error(err))
		}
		healthChecker.WithOfflineCache(func() string { return static.Phase().String() })

		background.Add(1)
		go func() {
			defer background.Done()
			static.RunInstaller(appCtx, time.Duration(cfg.Offline.InstallRetrySeconds)*time.Second)
		}()
	}

	// HTTP server
	opts := web.Options{
		Port:       cfg.HTTPPort,
		Variant:    variant,
		Store:      store,
		Controller: controller,
		Health:     healthChecker,
	}
	if static != nil {
		opts.Static = static
	}
	server := web.New(opts, logger.Named("web"))

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	scheduler.Start(appCtx)

	logger.Info("Service started",
		zap.String("variant", string(variant)),
		zap.String("backend_url", client.BaseURL()),
		zap.Int("poll_jobs", len(jobs)),
		zap.Int("http_port", cfg.HTTPPort),
	)

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server stopped", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down HTTP server", zap.Error(err))
	}
	scheduler.Stop()
	cancel()
	background.Wait()

	if pusher != nil {
		pusher.Flush(shutdownCtx)
	}

	logger.Info("Shutdown complete")
}
