package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/alloylabs/blockrecorder/internal/chainclient/tendermint"
	"github.com/alloylabs/blockrecorder/internal/ingest"
	internalmetrics "github.com/alloylabs/blockrecorder/internal/metrics"
	"github.com/alloylabs/blockrecorder/internal/proclock"
	"github.com/alloylabs/blockrecorder/internal/recordstore"
	"github.com/alloylabs/blockrecorder/internal/recordstore/boltlog"
	"github.com/alloylabs/blockrecorder/internal/recordstore/csvlog"
	"github.com/alloylabs/blockrecorder/pkg/logging"
	"github.com/alloylabs/blockrecorder/pkg/metrics"
)

const metricsShutdownTimeout = 5 * time.Second

func run(c *cli.Context) error {
	// Build configuration from CLI flags
	cfg, err := buildConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}

	sugar, err := logging.NewSugaredLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	sugar.Infow("config",
		"verbose", cfg.Verbose,
		"rpcURL", cfg.RPCURL,
		"storagePath", cfg.StoragePath,
		"storeBackend", cfg.StoreBackend,
		"pollInterval", cfg.PollInterval,
		"genesisHeight", cfg.GenesisHeight,
		"requestTimeout", cfg.RequestTimeout,
		"metricsHost", cfg.MetricsHost,
		"metricsPort", cfg.MetricsPort,
	)

	if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	// The lock must be held before anything touches the record.
	lock, err := proclock.Acquire(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("failed to acquire instance lock: %w", err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			sugar.Warnw("failed to release instance lock", "error", err)
		}
	}()

	// Initialize Prometheus metrics
	registry := prometheus.NewRegistry()
	m, err := internalmetrics.New(registry)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	// Start metrics server
	metricsServer := metrics.NewServer(cfg.MetricsAddr(), registry)
	metricsErrCh := metricsServer.Start()
	if cfg.MetricsHost == "" {
		sugar.Infof("metrics server listening on http://0.0.0.0:%d/metrics", cfg.MetricsPort)
	} else {
		sugar.Infof("metrics server listening on http://%s/metrics", cfg.MetricsAddr())
	}

	var store recordstore.Store
	switch cfg.StoreBackend {
	case backendCSV:
		store, err = csvlog.Open(cfg.StoragePath)
	case backendBolt:
		store, err = boltlog.Open(cfg.StoragePath)
	default:
		return fmt.Errorf("invalid store backend: %s", cfg.StoreBackend)
	}
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			sugar.Warnw("failed to close record store", "error", err)
		}
	}()

	tmCfg, err := tendermint.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load rpc client config: %w", err)
	}
	if cfg.RequestTimeout > 0 {
		tmCfg.RequestTimeout = cfg.RequestTimeout
	}
	client, err := tendermint.New(cfg.RPCURL, tmCfg, tendermint.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("failed to create rpc client: %w", err)
	}

	runner, err := ingest.New(sugar, client, store, cfg.GenesisHeight, cfg.PollInterval, m)
	if err != nil {
		return fmt.Errorf("failed to create ingestion runner: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runner.Run(gctx)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-metricsErrCh:
			if err != nil {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		}
	})

	err = g.Wait()

	// Gracefully shutdown metrics server
	sugar.Info("shutting down metrics server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	if serr := metricsServer.Shutdown(shutdownCtx); serr != nil {
		sugar.Warnw("metrics server shutdown error", "error", serr)
	}

	if err != nil {
		sugar.Errorw("run failed", "error", err)
		return err
	}

	sugar.Info("shutdown complete")
	return nil
}
