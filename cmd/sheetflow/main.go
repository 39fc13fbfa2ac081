// Command sheetflow runs the workflow service: HTTP API, step scheduler,
// schema cache, and background refresher.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tcmartin/sheetflow/pkg/ai"
	"github.com/tcmartin/sheetflow/pkg/api"
	"github.com/tcmartin/sheetflow/pkg/cache"
	"github.com/tcmartin/sheetflow/pkg/config"
	"github.com/tcmartin/sheetflow/pkg/loader"
	"github.com/tcmartin/sheetflow/pkg/logging"
	"github.com/tcmartin/sheetflow/pkg/notify"
	"github.com/tcmartin/sheetflow/pkg/propagation"
	"github.com/tcmartin/sheetflow/pkg/runtime"
	"github.com/tcmartin/sheetflow/pkg/storage"
)

func main() {
	configPath := flag.String("config", "", "path to JSON config file")
	flag.Parse()

	// A local .env is optional; deployed environments set real env vars
	_ = godotenv.Load()

	var cfg config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "sheetflow exited with error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}

	provider, err := storage.NewProvider(storage.ProviderConfig{
		Type:     cfg.Storage.Type,
		Postgres: cfg.Storage.Postgres,
	})
	if err != nil {
		return fmt.Errorf("failed to create storage provider: %w", err)
	}
	if err := provider.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer provider.Close()

	objects, err := newObjectStore(cfg.Storage.Objects)
	if err != nil {
		return err
	}

	cacheStore, err := cache.NewStore(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to create schema cache: %w", err)
	}
	defer cacheStore.Close()

	coordinator := propagation.NewCoordinator(logger)
	defer coordinator.Close()

	broker := notify.NewBroker(logger)
	defer broker.Close()

	var assistant ai.Assistant
	if cfg.AI.Endpoint != "" {
		assistant = ai.NewClient(ai.ClientConfig{
			Endpoint:     cfg.AI.Endpoint,
			APIKey:       cfg.AI.APIKey,
			QueryTimeout: time.Duration(cfg.AI.QueryTimeoutSeconds) * time.Second,
		}, logger)
	}

	scheduler := runtime.NewScheduler(runtime.SchedulerDeps{
		Workflows:   provider.GetWorkflowStore(),
		Executions:  provider.GetExecutionStore(),
		Schemas:     provider.GetSchemaStore(),
		Objects:     objects,
		Cache:       cacheStore,
		Coordinator: coordinator,
		Assistant:   assistant,
		Logger:      logger,
	},
		runtime.WithWorkers(cfg.Scheduler.Workers),
		runtime.WithQueueSize(cfg.Scheduler.QueueSize),
		runtime.WithStepTimeout(cfg.Scheduler.StepTimeout()),
	)

	server := api.NewServer(api.ServerDeps{
		Workflows:   provider.GetWorkflowStore(),
		Executions:  provider.GetExecutionStore(),
		Schemas:     provider.GetSchemaStore(),
		Objects:     objects,
		Cache:       cacheStore,
		Coordinator: coordinator,
		Scheduler:   scheduler,
		Loader:      loader.NewLoader(runtime.NewCoreRegistry().Types()),
		Broker:      broker,
		Logger:      logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler.Start(ctx)
	defer scheduler.Stop()

	// Row-change events keep the cache warm and feed the SSE stream
	events, cancelSub := broker.Subscribe(64)
	defer cancelSub()
	go notify.NewCacheSubscriber(cacheStore, logger).Run(ctx, events)
	go server.StreamBrokerEvents(ctx)

	if cfg.Refresh.Enabled {
		refresher := propagation.NewRefresher(provider.GetSchemaStore(), cacheStore, logger)
		if err := refresher.Start(cfg.Refresh.Schedule); err != nil {
			return fmt.Errorf("failed to start schema refresher: %w", err)
		}
		defer refresher.Stop()
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE and websocket connections are long-lived
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", logging.F("address", cfg.Server.Address()))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case sig := <-signals:
		logger.Info("shutting down", logging.F("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown failed: %w", err)
	}
	return nil
}

// newObjectStore creates the uploaded-file object store from config
func newObjectStore(cfg config.ObjectStoreConfig) (storage.ObjectStore, error) {
	switch cfg.Type {
	case "", "memory":
		return storage.NewMemoryObjectStore(), nil
	case "s3":
		if cfg.S3 == nil {
			return nil, fmt.Errorf("s3 object storage requires an s3 configuration block")
		}
		return storage.NewS3ObjectStore(*cfg.S3)
	default:
		return nil, fmt.Errorf("unknown object store type %q", cfg.Type)
	}
}
