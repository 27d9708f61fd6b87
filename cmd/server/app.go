package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/framehouse/studio-ledger/bridge"
	"github.com/framehouse/studio-ledger/config"
	"github.com/framehouse/studio-ledger/invoice"
	"github.com/framehouse/studio-ledger/logger"
	"github.com/framehouse/studio-ledger/metrics"
	"github.com/framehouse/studio-ledger/store/sqlite"
)

// app holds the wired dependencies shared by every command.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	store    *sqlite.Store
	service  *invoice.Service
	registry *prometheus.Registry
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry)
	if err != nil {
		store.Close()
		log.Sync()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	retries := cfg.Ledger.MaxConflictRetries
	if retries == 0 {
		retries = -1
	}
	svc := invoice.NewService(store, invoice.Options{
		Bridge:             newBridge(cfg.Accounting, log),
		Events:             invoice.NewHub(),
		Metrics:            m,
		Logger:             log,
		MaxConflictRetries: retries,
	})

	return &app{cfg: cfg, log: log, store: store, service: svc, registry: registry}, nil
}

func newBridge(cfg config.AccountingConfig, log *zap.Logger) bridge.Bridge {
	if cfg.Endpoint == "" {
		log.Info("accounting sync disabled")
		return bridge.Noop{}
	}
	log.Info("accounting sync enabled",
		zap.String("endpoint", cfg.Endpoint),
		zap.Duration("timeout", cfg.Timeout),
		zap.Int("retries", cfg.Retries),
	)
	return bridge.WithRetry(bridge.NewHTTP(cfg.Endpoint, cfg.AuthToken), cfg.Timeout, cfg.Retries)
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("close database", zap.Error(err))
	}
	a.log.Sync()
}
